// Package pagination extracts offset/limit paging parameters from URL query
// strings. Values are clamped rather than rejected: limit to [0, MaxLimit]
// and skip to >= 0. Unparseable values fall back to the defaults.
package pagination

import (
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.io/infrasutra/mailcat/internal/filter"
)

// Params represents pagination parameters extracted from a request.
type Params struct {
	Limit int // Number of items to return
	Skip  int // Number of items to skip after sorting
}

const (
	// MaxLimit is the maximum number of items allowed per request
	MaxLimit = filter.MaxLimit
	// DefaultLimit is used when the query string does not carry a limit
	DefaultLimit = filter.DefaultLimit
)

// PaginationOption is a function type for configuring pagination parameters.
type PaginationOption func(*Params)

// WithDefaultLimit returns a PaginationOption that sets the default limit.
// The limit is only applied if it's greater than 0.
func WithDefaultLimit(limit int) PaginationOption {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// GetPaginationParams reads "limit" and "skip" from q, applies any options
// as defaults and clamps the result.
func GetPaginationParams(q url.Values, opts ...PaginationOption) Params {
	params := Params{
		Limit: DefaultLimit,
		Skip:  0,
	}

	for _, opt := range opts {
		opt(&params)
	}

	if val, ok := parseInt(q.Get("limit")); ok {
		params.Limit = val
	}
	if val, ok := parseInt(q.Get("skip")); ok {
		params.Skip = val
	}

	params.Limit, params.Skip = filter.Clamp(params.Limit, params.Skip)
	return params
}

// parseInt saturates out-of-range values at the int bounds so clamping
// still sees the caller's sign and magnitude.
func parseInt(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	val, err := strconv.ParseInt(raw, 10, 0)
	if errors.Is(err, strconv.ErrRange) {
		if strings.HasPrefix(raw, "-") {
			return math.MinInt, true
		}
		return math.MaxInt, true
	}
	if err != nil {
		return 0, false
	}
	return int(val), true
}
