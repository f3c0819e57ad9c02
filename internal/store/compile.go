package store

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.io/infrasutra/mailcat/internal/filter"
)

// column maps a filter field onto SQL. List fields are mail recipient
// groups stored in mail_recipients and are matched with EXISTS.
type column struct {
	expr string
	list string
}

type table struct {
	name    string
	alias   string
	columns map[filter.Field]column
}

var mailTable = table{
	name:  "mail",
	alias: "m",
	columns: map[filter.Field]column{
		filter.FieldID:            {expr: "m.id"},
		filter.FieldDate:          {expr: "m.created_at"},
		filter.FieldFrom:          {expr: "m.from_email"},
		filter.FieldToRecipients:  {list: recipientTo},
		filter.FieldCcRecipients:  {list: recipientCc},
		filter.FieldBccRecipients: {list: recipientBcc},
	},
}

var templateTable = table{
	name:  "templates",
	alias: "t",
	columns: map[filter.Field]column{
		filter.FieldID:          {expr: "t.id"},
		filter.FieldName:        {expr: "t.name"},
		filter.FieldDescription: {expr: "t.description"},
		filter.FieldCreatedDate: {expr: "t.created_at"},
	},
}

var revisionTable = table{
	name:  "template_revisions",
	alias: "tr",
	columns: map[filter.Field]column{
		filter.FieldID:                {expr: "tr.id"},
		filter.FieldTemplateReference: {expr: "tr.template_id"},
		filter.FieldRevisionNumber:    {expr: "tr.revision_number"},
		filter.FieldCreatedDate:       {expr: "tr.created_at"},
	},
}

type compiled struct {
	where   string
	orderBy string
	args    []any
}

// compile renders q against tbl. The returned fragments start with a
// leading space so they can be appended to a SELECT.
func compile(q filter.Query, tbl table) (compiled, error) {
	var out compiled
	var clauses []string
	for _, p := range q.Where {
		clause, args, err := compilePredicate(p, tbl)
		if err != nil {
			return compiled{}, err
		}
		clauses = append(clauses, clause)
		out.args = append(out.args, args...)
	}
	if !q.MatchesAll() {
		out.where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var orders []string
	for _, s := range q.Sort {
		col, ok := tbl.columns[s.Field]
		if !ok || col.expr == "" {
			return compiled{}, fmt.Errorf("sort %s: unsupported field %q", tbl.name, s.Field)
		}
		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}
		orders = append(orders, col.expr+" "+dir)
	}
	if len(orders) > 0 {
		out.orderBy = " ORDER BY " + strings.Join(orders, ", ")
	}
	return out, nil
}

func compilePredicate(p filter.Predicate, tbl table) (string, []any, error) {
	if len(p.AnyOf) > 0 {
		var parts []string
		var args []any
		for _, member := range p.AnyOf {
			clause, memberArgs, err := compilePredicate(member, tbl)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, clause)
			args = append(args, memberArgs...)
		}
		return "(" + strings.Join(parts, " OR ") + ")", args, nil
	}

	col, ok := tbl.columns[p.Field]
	if !ok {
		return "", nil, fmt.Errorf("filter %s: unsupported field %q", tbl.name, p.Field)
	}
	value := sqlValue(p.Value)

	if col.list != "" {
		if p.Op != filter.OpHas {
			return "", nil, fmt.Errorf("filter %s: unsupported op %d on list field %q", tbl.name, p.Op, p.Field)
		}
		clause := "EXISTS (SELECT 1 FROM mail_recipients r WHERE r.mail_id = " + tbl.alias + ".id AND r.type = ? AND r.email = ?)"
		return clause, []any{col.list, value}, nil
	}

	switch p.Op {
	case filter.OpEq:
		return col.expr + " = ?", []any{value}, nil
	case filter.OpGte:
		return col.expr + " >= ?", []any{value}, nil
	case filter.OpLte:
		return col.expr + " <= ?", []any{value}, nil
	case filter.OpContains:
		return "instr(" + col.expr + ", ?) > 0", []any{value}, nil
	default:
		return "", nil, fmt.Errorf("filter %s: unsupported op %d on field %q", tbl.name, p.Op, p.Field)
	}
}

func sqlValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return unixNano(t)
	}
	return v
}

var (
	minUnixNano = time.Unix(0, math.MinInt64)
	maxUnixNano = time.Unix(0, math.MaxInt64)
)

// unixNano saturates at the int64 range instead of wrapping, so bounds far
// in the past or future still compare correctly.
func unixNano(t time.Time) int64 {
	switch {
	case t.Before(minUnixNano):
		return math.MinInt64
	case t.After(maxUnixNano):
		return math.MaxInt64
	default:
		return t.UnixNano()
	}
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
