package query

import (
	"fmt"
	"strings"

	"recordline/internal/domain"
)

// WithinFunc reports whether loc equals ancestor or lies in its subtree.
// The store supplies this from its location hierarchy.
type WithinFunc func(ancestor, loc string) bool

// Matches evaluates a validated query against a projected event index.
func (q Query) Matches(idx domain.EventIndex, within WithinFunc) bool {
	for _, clause := range q.Clauses {
		ok := clause.matches(idx, within)
		if q.Type == "or" && ok {
			return true
		}
		if q.Type == "and" && !ok {
			return false
		}
	}
	return q.Type == "and"
}

func (e Expression) matches(idx domain.EventIndex, within WithinFunc) bool {
	if idx.Type != e.EventType {
		return false
	}
	named := []struct {
		cond  *Condition
		value string
	}{
		{e.Status, string(idx.Status)},
		{e.TrackingID, idx.TrackingID},
		{e.RegistrationNumber, idx.RegistrationNumber()},
		{e.AssignedTo, idx.AssignedTo},
		{e.CreatedAt, idx.CreatedAt},
		{e.UpdatedAt, idx.UpdatedAt},
		{e.RegisteredAt, registeredAt(idx)},
		{e.CreatedAtLocation, idx.CreatedAtLocation},
		{e.UpdatedAtLocation, idx.UpdatedAtLocation},
	}
	for _, n := range named {
		if n.cond != nil && !n.cond.matchValue(n.value, within) {
			return false
		}
	}
	if e.Flags != nil && !e.Flags.matchAnyValue(flagStrings(idx.Flags), within) {
		return false
	}
	for key, cond := range e.Data {
		raw, ok := idx.Declaration[key]
		if !ok {
			return false
		}
		if !cond.matchValue(fmt.Sprint(raw), within) {
			return false
		}
	}
	return true
}

func registeredAt(idx domain.EventIndex) string {
	if ls, ok := idx.LegalStatuses[domain.StatusRegistered]; ok {
		return ls.AcceptedAt
	}
	return ""
}

func flagStrings(flags []domain.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

func (c Condition) matchValue(value string, within WithinFunc) bool {
	switch c.Type {
	case TypeExact:
		return value == c.Term
	case TypeFuzzy:
		return fuzzyMatch(value, c.Term)
	case TypeRange:
		if value == "" {
			return false
		}
		day := value
		if len(day) > 10 {
			day = day[:10]
		}
		if c.Gte != "" && day < c.Gte {
			return false
		}
		if c.Lte != "" && day > c.Lte {
			return false
		}
		return true
	case TypeWithin:
		if within == nil {
			return value == c.Location
		}
		return within(c.Location, value)
	case TypeAnyOf:
		for _, t := range c.Terms {
			if value == t {
				return true
			}
		}
		return false
	case TypeNot:
		return !c.Clause.matchValue(value, within)
	}
	return false
}

// matchAnyValue applies the condition across a multi-valued field such as
// flags: a "not" must hold for every value, anything else for at least one.
func (c Condition) matchAnyValue(values []string, within WithinFunc) bool {
	if c.Type == TypeNot {
		for _, v := range values {
			if c.Clause.matchValue(v, within) {
				return false
			}
		}
		return true
	}
	for _, v := range values {
		if c.matchValue(v, within) {
			return true
		}
	}
	return false
}

// fuzzyMatch performs approximate matching scoped to the targeted field
// only: the term must match a whole token of the value by prefix or by a
// single-character edit, never as an arbitrary substring. This keeps an
// email from fuzzy-matching a name field.
func fuzzyMatch(value, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	for _, token := range strings.Fields(strings.ToLower(value)) {
		if strings.HasPrefix(token, term) {
			return true
		}
		if withinOneEdit(token, term) {
			return true
		}
	}
	return false
}

// withinOneEdit reports whether two strings differ by at most one
// substitution, insertion or deletion.
func withinOneEdit(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	if len(b)-len(a) > 1 {
		return false
	}
	i, j, edits := 0, 0, 0
	for i < len(a) && j < len(b) {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		edits++
		if edits > 1 {
			return false
		}
		if len(a) == len(b) {
			i++
		}
		j++
	}
	if j < len(b) || i < len(a) {
		edits++
	}
	return edits <= 1
}
