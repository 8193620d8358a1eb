// Package query defines the typed, recursive search-query grammar consumed
// by the search store. Queries are validated at the boundary before any
// store work happens.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MaxDepth bounds condition nesting so malicious input cannot recurse
// unboundedly through "not" clauses.
const MaxDepth = 10

// Condition types.
const (
	TypeExact  = "exact"
	TypeFuzzy  = "fuzzy"
	TypeRange  = "range"
	TypeWithin = "within"
	TypeAnyOf  = "anyOf"
	TypeNot    = "not"
)

// Query composes per-event-type expressions with AND/OR semantics.
type Query struct {
	Type    string       `json:"type" enum:"and,or"`
	Clauses []Expression `json:"clauses"`
}

// Expression is one event type's worth of filters. Absent fields are
// unconstrained. The JSON keys are part of the compatibility surface.
type Expression struct {
	EventType          string                `json:"eventType"`
	Status             *Condition            `json:"status,omitempty"`
	TrackingID         *Condition            `json:"trackingId,omitempty"`
	RegistrationNumber *Condition            `json:"registrationNumber,omitempty"`
	AssignedTo         *Condition            `json:"assignedTo,omitempty"`
	CreatedAt          *Condition            `json:"createdAt,omitempty"`
	UpdatedAt          *Condition            `json:"updatedAt,omitempty"`
	RegisteredAt       *Condition            `json:"legalStatuses.REGISTERED.createdAt,omitempty"`
	CreatedAtLocation  *Condition            `json:"createdAtLocation,omitempty"`
	UpdatedAtLocation  *Condition            `json:"updatedAtLocation,omitempty"`
	Flags              *Condition            `json:"flags,omitempty"`
	Data               map[string]*Condition `json:"data,omitempty"`
}

// Condition is a leaf predicate, or a "not" wrapping another condition.
type Condition struct {
	Type     string     `json:"type" enum:"exact,fuzzy,range,within,anyOf,not"`
	Term     string     `json:"term,omitempty"`
	Terms    []string   `json:"terms,omitempty"`
	Gte      string     `json:"gte,omitempty"`
	Lte      string     `json:"lte,omitempty"`
	Location string     `json:"location,omitempty"`
	Clause   *Condition `json:"clause,omitempty"`
}

// ValidationError describes why a query was rejected, naming the offending
// field path.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Reason)
}

// Parse decodes and validates a query. Unknown keys anywhere in the payload
// are rejected.
func Parse(data []byte) (Query, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var q Query
	if err := dec.Decode(&q); err != nil {
		return Query{}, ValidationError{Field: "query", Reason: err.Error()}
	}
	if err := q.Validate(); err != nil {
		return Query{}, err
	}
	return q, nil
}

// Validate checks the whole query tree against the grammar rules.
func (q Query) Validate() error {
	if q.Type != "and" && q.Type != "or" {
		return ValidationError{Field: "type", Reason: fmt.Sprintf("must be and/or, got %q", q.Type)}
	}
	if len(q.Clauses) == 0 {
		return ValidationError{Field: "clauses", Reason: "must not be empty"}
	}
	for i, c := range q.Clauses {
		if err := c.validate(fmt.Sprintf("clauses[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func (e Expression) validate(path string) error {
	if e.EventType == "" {
		return ValidationError{Field: path + ".eventType", Reason: "is required"}
	}
	named := []struct {
		field string
		cond  *Condition
	}{
		{"status", e.Status},
		{"trackingId", e.TrackingID},
		{"registrationNumber", e.RegistrationNumber},
		{"assignedTo", e.AssignedTo},
		{"createdAt", e.CreatedAt},
		{"updatedAt", e.UpdatedAt},
		{"legalStatuses.REGISTERED.createdAt", e.RegisteredAt},
		{"createdAtLocation", e.CreatedAtLocation},
		{"updatedAtLocation", e.UpdatedAtLocation},
		{"flags", e.Flags},
	}
	for _, n := range named {
		if n.cond == nil {
			continue
		}
		if err := n.cond.validate(path+"."+n.field, 0); err != nil {
			return err
		}
	}
	for key, cond := range e.Data {
		if key == "" {
			return ValidationError{Field: path + ".data", Reason: "contains empty field id"}
		}
		if cond == nil {
			return ValidationError{Field: path + ".data." + key, Reason: "is null"}
		}
		if err := cond.validate(path+".data."+key, 0); err != nil {
			return err
		}
	}
	return nil
}

func (c Condition) validate(path string, depth int) error {
	if depth > MaxDepth {
		return ValidationError{Field: path, Reason: "nested too deeply"}
	}
	switch c.Type {
	case TypeExact, TypeFuzzy:
		if c.Term == "" {
			return ValidationError{Field: path, Reason: c.Type + " requires term"}
		}
	case TypeRange:
		if c.Gte == "" && c.Lte == "" {
			return ValidationError{Field: path, Reason: "range requires gte or lte"}
		}
		for _, bound := range []string{c.Gte, c.Lte} {
			if bound == "" {
				continue
			}
			if _, err := time.Parse("2006-01-02", bound); err != nil {
				return ValidationError{Field: path, Reason: fmt.Sprintf("%q is not a valid date", bound)}
			}
		}
		if c.Gte != "" && c.Lte != "" && c.Gte > c.Lte {
			return ValidationError{Field: path, Reason: "gte is after lte"}
		}
	case TypeWithin:
		if c.Location == "" {
			return ValidationError{Field: path, Reason: "within requires location"}
		}
	case TypeAnyOf:
		if len(c.Terms) == 0 {
			return ValidationError{Field: path, Reason: "anyOf requires terms"}
		}
	case TypeNot:
		if c.Clause == nil {
			return ValidationError{Field: path, Reason: "not requires clause"}
		}
		return c.Clause.validate(path+".clause", depth+1)
	default:
		return ValidationError{Field: path, Reason: fmt.Sprintf("unknown condition type %q", c.Type)}
	}
	return nil
}
