package scope_test

import (
	"reflect"
	"testing"

	"recordline/internal/domain"
	"recordline/internal/scope"
)

func TestParse(t *testing.T) {
	s, err := scope.Parse("record.register[event=birth|death,customActionType=collect-signature]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Prefix != "record.register" {
		t.Fatalf("prefix = %s", s.Prefix)
	}
	if !s.ParamContains("event", "birth") || !s.ParamContains("event", "death") {
		t.Fatalf("event params = %v", s.Params["event"])
	}
	if !s.ParamContains("customActionType", "collect-signature") {
		t.Fatalf("customActionType params = %v", s.Params["customActionType"])
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"record.declare[",
		"record.declare[event=birth",
		"record.declare[]",
		"record.declare[=birth]",
		"record.declare[event=]",
		"record.declare[event=birth|]",
		"[event=birth]",
		"record]oops",
	} {
		if _, err := scope.Parse(raw); err == nil {
			t.Fatalf("expected parse error for %q", raw)
		}
	}
}

func TestAllowedWithoutEventParamCoversAllTypes(t *testing.T) {
	scopes := []string{"record.declare"}
	if !scope.Allowed(scopes, []string{scope.RecordDeclare}, "birth") {
		t.Fatal("bare scope should cover every event type")
	}
	if !scope.Allowed(scopes, []string{scope.RecordDeclare}, "death") {
		t.Fatal("bare scope should cover every event type")
	}
}

func TestAllowedEventParamIsAlternatives(t *testing.T) {
	scopes := []string{"record.declare[event=birth|death]"}
	if !scope.Allowed(scopes, []string{scope.RecordDeclare}, "death") {
		t.Fatal("death is listed as an alternative")
	}
	if scope.Allowed(scopes, []string{scope.RecordDeclare}, "marriage") {
		t.Fatal("marriage is not listed")
	}
}

func TestAllowedMalformedScopeGrantsNothing(t *testing.T) {
	scopes := []string{"record.declare[event="}
	if scope.Allowed(scopes, []string{scope.RecordDeclare}, "birth") {
		t.Fatal("malformed scope must grant nothing")
	}
}

func TestConfigurableAllowedRequiresEventParam(t *testing.T) {
	if scope.ConfigurableAllowed([]string{"record.custom-action"}, []string{scope.RecordCustomAction}, "birth", "") {
		t.Fatal("configurable scope without event param must not match")
	}
	scopes := []string{"record.custom-action[event=tennis-club-membership,customActionType=collect-signature]"}
	if !scope.ConfigurableAllowed(scopes, []string{scope.RecordCustomAction}, "tennis-club-membership", "collect-signature") {
		t.Fatal("fully parameterised grant should match")
	}
	if scope.ConfigurableAllowed(scopes, []string{scope.RecordCustomAction}, "tennis-club-membership", "other-action") {
		t.Fatal("customActionType must match when required")
	}
}

func TestRequiredScopesForAction(t *testing.T) {
	for _, a := range []domain.ActionType{
		domain.ActionAssign, domain.ActionUnassign, domain.ActionRead, domain.ActionMarkAsDuplicate,
	} {
		if got := scope.RequiredScopesForAction(a); got != nil {
			t.Fatalf("%s: got %v, want nil (no scope required)", a, got)
		}
	}
	if got := scope.RequiredScopesForAction(domain.ActionType("FROBNICATE")); got == nil || len(got) != 0 {
		t.Fatalf("unknown action: got %v, want empty non-nil", got)
	}
	got := scope.RequiredScopesForAction(domain.ActionRegister)
	if !reflect.DeepEqual(got, []string{scope.RecordRegister}) {
		t.Fatalf("REGISTER: got %v", got)
	}
}

func TestActionAllowedFailsClosedForUnknownTypes(t *testing.T) {
	scopes := []string{"record.declare", "record.register", "search[event=birth,access=all]"}
	if scope.ActionAllowed(scopes, domain.ActionType("FROBNICATE"), "birth", "") {
		t.Fatal("unknown action types must never be authorized")
	}
}

func TestActionAllowedAlternativePrefixes(t *testing.T) {
	// REJECT accepts either validate or register scope.
	if !scope.ActionAllowed([]string{"record.validate"}, domain.ActionReject, "birth", "") {
		t.Fatal("record.validate should allow REJECT")
	}
	if !scope.ActionAllowed([]string{"record.register"}, domain.ActionReject, "birth", "") {
		t.Fatal("record.register should allow REJECT")
	}
	if scope.ActionAllowed([]string{"record.declare"}, domain.ActionReject, "birth", "") {
		t.Fatal("record.declare should not allow REJECT")
	}
}

func TestAvailableActionsByScopes(t *testing.T) {
	actions := []domain.ActionType{
		domain.ActionRead, domain.ActionValidate, domain.ActionReject,
		domain.ActionArchive, domain.ActionMarkAsDuplicate,
	}
	scopes := []string{"record.validate[event=birth]"}
	got := scope.AvailableActionsByScopes(actions, scopes, "birth")
	want := []domain.ActionType{
		domain.ActionRead, domain.ActionValidate, domain.ActionReject,
		domain.ActionArchive, domain.ActionMarkAsDuplicate,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	got = scope.AvailableActionsByScopes(actions, []string{"record.print-certificate"}, "birth")
	want = []domain.ActionType{domain.ActionRead, domain.ActionMarkAsDuplicate}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSearchAccess(t *testing.T) {
	scopes := []string{
		"search[event=birth,access=all]",
		"search[event=death,access=my-jurisdiction]",
	}
	if access := scope.SearchAccess(scopes, "birth"); !access[scope.AccessAll] || access[scope.AccessMyJurisdiction] {
		t.Fatalf("birth access = %v", access)
	}
	if access := scope.SearchAccess(scopes, "death"); !access[scope.AccessMyJurisdiction] || access[scope.AccessAll] {
		t.Fatalf("death access = %v", access)
	}
	if access := scope.SearchAccess(scopes, "marriage"); len(access) != 0 {
		t.Fatalf("marriage access = %v, want none", access)
	}
}

func TestSearchAccessUnionAcrossScopes(t *testing.T) {
	scopes := []string{
		"search[event=birth,access=my-jurisdiction]",
		"search[event=birth,access=all]",
	}
	access := scope.SearchAccess(scopes, "birth")
	if !access[scope.AccessAll] || !access[scope.AccessMyJurisdiction] {
		t.Fatalf("access = %v, want union", access)
	}
}

func TestForbiddenErrorMessages(t *testing.T) {
	err := scope.ForbiddenError{Action: domain.ActionRegister, EventType: "birth"}
	if err.Error() == "" {
		t.Fatal("empty error message")
	}
	searchErr := scope.ForbiddenError{EventType: "death"}
	if searchErr.Error() == err.Error() {
		t.Fatal("search and action errors should differ")
	}
}
