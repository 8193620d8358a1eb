// Package scope parses the string-encoded capability grants issued by the
// token service and decides whether a caller may perform an action or search
// against an event type. The grammar is stable external format:
//
//	<prefix>
//	<prefix>[key1=v1|v2,key2=v3]
//
// Multiple values for one key are alternatives (OR); multiple scopes held by
// a caller are OR'd as well. All checks fail closed.
package scope

import (
	"errors"
	"fmt"
	"strings"

	"recordline/internal/domain"
)

// Scope names understood by the gate.
const (
	RecordDeclare           = "record.declare"
	RecordNotify            = "record.notify"
	RecordValidate          = "record.validate"
	RecordRegister          = "record.register"
	RecordPrintCertificate  = "record.print-certificate"
	RecordRequestCorrection = "record.request-correction"
	RecordCorrect           = "record.correct"
	RecordCustomAction      = "record.custom-action"
	SearchScope             = "search"
)

// Search access levels carried in the "access" parameter of search scopes.
const (
	AccessAll            = "all"
	AccessMyJurisdiction = "my-jurisdiction"
)

// Scope is the structured form of one parsed scope string.
type Scope struct {
	Prefix string
	Params map[string][]string
}

// ParamContains reports whether the key is present with the value among its
// alternatives.
func (s Scope) ParamContains(key, value string) bool {
	for _, v := range s.Params[key] {
		if v == value {
			return true
		}
	}
	return false
}

// HasParam reports whether the key is present at all.
func (s Scope) HasParam(key string) bool {
	_, ok := s.Params[key]
	return ok
}

// Parse converts a raw scope string into its structured form. Malformed
// scopes are rejected; the gate treats them as granting nothing.
func Parse(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Scope{}, errors.New("empty scope")
	}
	open := strings.IndexByte(raw, '[')
	if open < 0 {
		if strings.ContainsAny(raw, "]=,|") {
			return Scope{}, fmt.Errorf("malformed scope %q", raw)
		}
		return Scope{Prefix: raw}, nil
	}
	if open == 0 || !strings.HasSuffix(raw, "]") {
		return Scope{}, fmt.Errorf("malformed scope %q", raw)
	}
	prefix := raw[:open]
	body := raw[open+1 : len(raw)-1]
	if body == "" {
		return Scope{}, fmt.Errorf("scope %q has empty parameter list", raw)
	}
	params := map[string][]string{}
	for _, pair := range strings.Split(body, ",") {
		key, rest, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return Scope{}, fmt.Errorf("scope %q has malformed parameter %q", raw, pair)
		}
		var values []string
		for _, v := range strings.Split(rest, "|") {
			if v == "" {
				return Scope{}, fmt.Errorf("scope %q has empty value for key %q", raw, key)
			}
			values = append(values, v)
		}
		params[key] = values
	}
	return Scope{Prefix: prefix, Params: params}, nil
}

// parseAll returns the well-formed scopes, silently dropping malformed ones.
func parseAll(scopes []string) []Scope {
	out := make([]Scope, 0, len(scopes))
	for _, raw := range scopes {
		s, err := Parse(raw)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Allowed reports whether any of the caller's scopes carries one of the
// accepted prefixes and covers the event type. A scope without an "event"
// parameter covers every event type; one with the parameter must include
// the requested type among its alternatives.
func Allowed(scopes []string, prefixes []string, eventType string) bool {
	for _, s := range parseAll(scopes) {
		if !prefixIn(s.Prefix, prefixes) {
			continue
		}
		if s.HasParam("event") && !s.ParamContains("event", eventType) {
			continue
		}
		return true
	}
	return false
}

// ConfigurableAllowed evaluates scopes whose grant is parameterised: the
// "event" key is always required, and "customActionType" is additionally
// required when param is non-empty. Every required key must match via
// inclusion in that key's alternative set.
func ConfigurableAllowed(scopes []string, prefixes []string, eventType, param string) bool {
	for _, s := range parseAll(scopes) {
		if !prefixIn(s.Prefix, prefixes) {
			continue
		}
		if !s.ParamContains("event", eventType) {
			continue
		}
		if param != "" && !s.ParamContains("customActionType", param) {
			continue
		}
		return true
	}
	return false
}

func prefixIn(prefix string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == prefix {
			return true
		}
	}
	return false
}

var requiredScopesByAction = map[domain.ActionType][]string{
	domain.ActionCreate:            {RecordDeclare, RecordNotify},
	domain.ActionNotify:            {RecordNotify, RecordDeclare},
	domain.ActionDeclare:           {RecordDeclare},
	domain.ActionValidate:          {RecordValidate},
	domain.ActionRegister:          {RecordRegister},
	domain.ActionReject:            {RecordValidate, RecordRegister},
	domain.ActionArchive:           {RecordValidate, RecordRegister},
	domain.ActionPrintCertificate:  {RecordPrintCertificate},
	domain.ActionRequestCorrection: {RecordRequestCorrection, RecordCorrect},
	domain.ActionApproveCorrection: {RecordCorrect},
	domain.ActionRejectCorrection:  {RecordCorrect},
	domain.ActionMarkedAsDuplicate: {RecordValidate, RecordRegister},
	domain.ActionCustom:            {RecordCustomAction},
}

// RequiredScopesForAction returns the scope alternatives required to perform
// an action type. A nil result means no scope is required (the action is
// always allowed); an empty non-nil result means the action is not grantable
// at all, which is also the fail-closed answer for unknown action types.
func RequiredScopesForAction(t domain.ActionType) []string {
	switch t {
	case domain.ActionAssign, domain.ActionUnassign, domain.ActionRead, domain.ActionMarkAsDuplicate:
		return nil
	}
	if req, ok := requiredScopesByAction[t]; ok {
		out := make([]string, len(req))
		copy(out, req)
		return out
	}
	return []string{}
}

// ForbiddenError indicates the caller lacks a scope required for an action
// or search.
type ForbiddenError struct {
	Action    domain.ActionType
	EventType string
}

func (e ForbiddenError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("search scope for event type %s required", e.EventType)
	}
	return fmt.Sprintf("scope for action %s on event type %s required", e.Action, e.EventType)
}

// ActionAllowed decides whether the caller's scopes authorize performing an
// action on the given event type. customActionType is consulted only for
// CUSTOM actions.
func ActionAllowed(scopes []string, action domain.ActionType, eventType, customActionType string) bool {
	required := RequiredScopesForAction(action)
	if required == nil {
		return true
	}
	if len(required) == 0 {
		return false
	}
	if action == domain.ActionCustom {
		return ConfigurableAllowed(scopes, required, eventType, customActionType)
	}
	return Allowed(scopes, required, eventType)
}

// AvailableActionsByScopes filters a candidate action list down to those the
// caller's scopes permit, preserving order.
func AvailableActionsByScopes(actions []domain.ActionType, scopes []string, eventType string) []domain.ActionType {
	var out []domain.ActionType
	for _, t := range actions {
		if t == domain.ActionCustom {
			if ConfigurableAllowed(scopes, []string{RecordCustomAction}, eventType, "") {
				out = append(out, t)
			}
			continue
		}
		if ActionAllowed(scopes, t, eventType, "") {
			out = append(out, t)
		}
	}
	return out
}

// SearchAccess returns the set of access levels the caller's scopes grant
// for searching the given event type. Empty means search is forbidden for
// that type. Holding both "all" and "my-jurisdiction" yields the union,
// effectively unrestricted.
func SearchAccess(scopes []string, eventType string) map[string]bool {
	access := map[string]bool{}
	for _, s := range parseAll(scopes) {
		if s.Prefix != SearchScope {
			continue
		}
		if !s.ParamContains("event", eventType) {
			continue
		}
		for _, a := range s.Params["access"] {
			switch a {
			case AccessAll, AccessMyJurisdiction:
				access[a] = true
			}
		}
	}
	return access
}
