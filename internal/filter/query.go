// Package filter turns sparse, optional search criteria into a Query that a
// record store can execute. Only fields that are present contribute a
// predicate; all predicates are combined with AND; results are always
// ordered newest first and paged with skip then limit.
package filter

type Field string

const (
	FieldID                Field = "id"
	FieldDate              Field = "date"
	FieldFrom              Field = "from"
	FieldToRecipients      Field = "toRecipients"
	FieldCcRecipients      Field = "ccRecipients"
	FieldBccRecipients     Field = "bccRecipients"
	FieldName              Field = "name"
	FieldDescription       Field = "description"
	FieldCreatedDate       Field = "createdDate"
	FieldTemplateReference Field = "templateReference"
	FieldRevisionNumber    Field = "revisionNumber"
)

type Op int

const (
	OpEq Op = iota + 1
	OpGte
	OpLte
	// OpContains is a substring match on a text field.
	OpContains
	// OpHas matches when a list field holds Value as an element.
	OpHas
)

// Predicate is a single condition. When AnyOf is set the predicate holds if
// any of its members holds and Field, Op and Value are ignored.
type Predicate struct {
	Field Field
	Op    Op
	Value any
	AnyOf []Predicate
}

type Sort struct {
	Field      Field
	Descending bool
}

// Query is an executable description: Where is a conjunction (empty matches
// everything), Sort is applied in order, then Skip and Limit.
type Query struct {
	Where []Predicate
	Sort  []Sort
	Limit int
	Skip  int
}

// MatchesAll reports whether the query carries no predicates.
func (q Query) MatchesAll() bool {
	return len(q.Where) == 0
}

const (
	MaxLimit     = 1000
	DefaultLimit = 100
)

// Clamp bounds limit to [0, MaxLimit] and skip to >= 0.
func Clamp(limit, skip int) (int, int) {
	if limit < 0 {
		limit = 0
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if skip < 0 {
		skip = 0
	}
	return limit, skip
}

// Rule emits the predicate for one filter field, or reports that the field
// is absent.
type Rule[F any] func(F) (Predicate, bool)

func translate[F any](f F, limit, skip int, sort []Sort, rules ...Rule[F]) Query {
	q := Query{Where: []Predicate{}, Sort: sort, Limit: limit, Skip: skip}
	for _, rule := range rules {
		if p, ok := rule(f); ok {
			q.Where = append(q.Where, p)
		}
	}
	return q
}

func newestFirst(primary Field, tieBreak Field) []Sort {
	return []Sort{{Field: primary, Descending: true}, {Field: tieBreak, Descending: true}}
}
