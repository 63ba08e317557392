package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/canonical/maas-images/pkg/model"
)

// ItemFilter is a pure predicate over flattened pedigree data. Supported
// forms: field=value, field!=value, field~regex, field!~regex.
type ItemFilter struct {
	Key     string
	Op      string
	Value   string
	pattern *regexp.Regexp
}

// ParseFilter parses a single filter expression. The operator is the first
// occurrence of =, ~, != or !~ so regex values may contain further operator
// characters.
func ParseFilter(expr string) (*ItemFilter, error) {
	idx := strings.IndexAny(expr, "=~!")
	if idx <= 0 || idx == len(expr)-1 {
		return nil, fmt.Errorf("bad filter expression %q", expr)
	}
	op := expr[idx : idx+1]
	if op == "!" {
		op = expr[idx : idx+2]
		if op != "!=" && op != "!~" {
			return nil, fmt.Errorf("bad filter expression %q", expr)
		}
	}
	f := &ItemFilter{Key: expr[:idx], Op: op, Value: expr[idx+len(op):]}
	if strings.HasSuffix(op, "~") {
		re, err := regexp.Compile(f.Value)
		if err != nil {
			return nil, fmt.Errorf("bad filter regex %q: %w", expr, err)
		}
		f.pattern = re
	}
	return f, nil
}

// Matches evaluates the filter against flattened data. A missing field fails
// positive matches and passes negated ones.
func (f *ItemFilter) Matches(flat model.Attrs) bool {
	v, ok := flat[f.Key]
	if !ok {
		return strings.HasPrefix(f.Op, "!")
	}
	s := fmt.Sprintf("%v", v)
	switch f.Op {
	case "=":
		return s == f.Value
	case "!=":
		return s != f.Value
	case "~":
		return f.pattern.MatchString(s)
	default: // "!~"
		return !f.pattern.MatchString(s)
	}
}

// ItemFilters is a conjunction of filters; an empty set matches everything.
type ItemFilters []*ItemFilter

// ParseFilters parses a list of filter expressions.
func ParseFilters(exprs []string) (ItemFilters, error) {
	fs := make(ItemFilters, 0, len(exprs))
	for _, e := range exprs {
		f, err := ParseFilter(e)
		if err != nil {
			return nil, err
		}
		fs = append(fs, f)
	}
	return fs, nil
}

// Matches reports whether all filters pass.
func (fs ItemFilters) Matches(flat model.Attrs) bool {
	for _, f := range fs {
		if !f.Matches(flat) {
			return false
		}
	}
	return true
}

// MatchesPresent evaluates only the filters whose key appears in flat,
// deferring the rest to a more specific level. Product-level filtering uses
// this so an item-level filter such as ftype= does not exclude every
// product.
func (fs ItemFilters) MatchesPresent(flat model.Attrs) bool {
	for _, f := range fs {
		if _, ok := flat[f.Key]; !ok {
			continue
		}
		if !f.Matches(flat) {
			return false
		}
	}
	return true
}
