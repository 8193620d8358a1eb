package state_test

import (
	"errors"
	"reflect"
	"testing"

	"recordline/internal/config"
	"recordline/internal/domain"
	"recordline/internal/state"
)

func birthConfig() config.EventType {
	cfg := config.Default()
	et, ok := cfg.EventType("birth")
	if !ok {
		panic("birth event type missing from default config")
	}
	return et
}

func TestCurrentStateRequiresAcceptedCreate(t *testing.T) {
	doc := domain.EventDocument{
		ID:   "ev-1",
		Type: "birth",
		Actions: []domain.ActionDocument{
			action(domain.ActionDeclare, domain.ActionAccepted, "2024-01-01T00:00:00Z"),
		},
	}
	_, err := state.CurrentState(doc, birthConfig())
	var missing state.MissingCreateActionError
	if !errors.As(err, &missing) || missing.EventID != "ev-1" {
		t.Fatalf("err = %v, want MissingCreateActionError for ev-1", err)
	}
}

func TestCurrentStateRegisteredScenario(t *testing.T) {
	create := action(domain.ActionCreate, domain.ActionAccepted, "2024-01-01T00:00:00Z")
	create.CreatedBy = "field-agent"
	create.CreatedAtLocation = "district-7"
	create.Identifiers = &domain.Identifiers{TrackingID: "TRK-1234"}
	create.Declaration = map[string]any{"child.firstname": "Ada"}

	declare := action(domain.ActionDeclare, domain.ActionAccepted, "2024-01-02T00:00:00Z")
	declare.Declaration = map[string]any{"child.surname": "Lovelace", "not.a.field": "x"}

	validate := action(domain.ActionValidate, domain.ActionAccepted, "2024-01-03T00:00:00Z")

	register := action(domain.ActionRegister, domain.ActionAccepted, "2024-01-04T00:00:00Z")
	register.CreatedBy = "registrar"
	register.CreatedAtLocation = "province-west"
	register.RegistrationNumber = "2024-001"

	doc := domain.EventDocument{
		ID:      "ev-2",
		Type:    "birth",
		Actions: []domain.ActionDocument{create, declare, validate, register},
	}
	idx, err := state.CurrentState(doc, birthConfig())
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if idx.Status != domain.StatusRegistered {
		t.Fatalf("status = %s, want REGISTERED", idx.Status)
	}
	if idx.CreatedBy != "field-agent" || idx.CreatedAtLocation != "district-7" {
		t.Fatalf("created metadata = %s/%s", idx.CreatedBy, idx.CreatedAtLocation)
	}
	if idx.UpdatedBy != "registrar" || idx.UpdatedAtLocation != "province-west" {
		t.Fatalf("updated metadata = %s/%s", idx.UpdatedBy, idx.UpdatedAtLocation)
	}
	if idx.TrackingID != "TRK-1234" {
		t.Fatalf("trackingId = %s", idx.TrackingID)
	}
	if idx.RegistrationNumber() != "2024-001" {
		t.Fatalf("registrationNumber = %s", idx.RegistrationNumber())
	}
	ls, ok := idx.LegalStatuses[domain.StatusRegistered]
	if !ok || ls.AcceptedAt != "2024-01-04T00:00:00Z" {
		t.Fatalf("REGISTERED legal status = %+v", ls)
	}
	if !idx.HasFlag(domain.FlagPendingCertification) {
		t.Fatalf("flags = %v, want pending-certification", idx.Flags)
	}
	want := map[string]any{"child.firstname": "Ada", "child.surname": "Lovelace"}
	if !reflect.DeepEqual(idx.Declaration, want) {
		t.Fatalf("declaration = %v, want %v", idx.Declaration, want)
	}

	// Projection is pure: re-running yields identical output.
	again, err := state.CurrentState(doc, birthConfig())
	if err != nil || !reflect.DeepEqual(idx, again) {
		t.Fatalf("re-projection diverged: %v", err)
	}
}

func TestCurrentStateAssignment(t *testing.T) {
	assign := action(domain.ActionAssign, domain.ActionAccepted, "2024-01-02T00:00:00Z")
	assign.AssignedTo = "clerk-1"
	doc := domain.EventDocument{
		ID:   "ev-3",
		Type: "birth",
		Actions: []domain.ActionDocument{
			action(domain.ActionCreate, domain.ActionAccepted, "2024-01-01T00:00:00Z"),
			assign,
		},
	}
	idx, err := state.CurrentState(doc, birthConfig())
	if err != nil || idx.AssignedTo != "clerk-1" {
		t.Fatalf("assignedTo = %s, err = %v", idx.AssignedTo, err)
	}

	doc.Actions = append(doc.Actions, action(domain.ActionUnassign, domain.ActionAccepted, "2024-01-03T00:00:00Z"))
	idx, err = state.CurrentState(doc, birthConfig())
	if err != nil || idx.AssignedTo != "" {
		t.Fatalf("assignedTo after UNASSIGN = %q, err = %v", idx.AssignedTo, err)
	}
}

func TestLegalStatusPairsAcceptanceWithRequest(t *testing.T) {
	request := action(domain.ActionDeclare, domain.ActionRequested, "2024-01-02T00:00:00Z")
	request.CreatedBy = "informant"

	accepted := action(domain.ActionDeclare, domain.ActionAccepted, "2024-01-03T00:00:00Z")
	accepted.CreatedBy = "clerk"
	accepted.OriginalActionID = request.ID

	doc := domain.EventDocument{
		ID:   "ev-4",
		Type: "birth",
		Actions: []domain.ActionDocument{
			action(domain.ActionCreate, domain.ActionAccepted, "2024-01-01T00:00:00Z"),
			request,
			accepted,
		},
	}
	idx, err := state.CurrentState(doc, birthConfig())
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	ls, ok := idx.LegalStatuses[domain.StatusDeclared]
	if !ok {
		t.Fatalf("no DECLARED legal status: %+v", idx.LegalStatuses)
	}
	if ls.CreatedBy != "informant" || ls.CreatedAt != "2024-01-02T00:00:00Z" {
		t.Fatalf("legal status attributed to %s at %s, want the requesting actor", ls.CreatedBy, ls.CreatedAt)
	}
	if ls.AcceptedAt != "2024-01-03T00:00:00Z" {
		t.Fatalf("acceptedAt = %s", ls.AcceptedAt)
	}
}

func TestDuplicatesUnionDeduplicated(t *testing.T) {
	markA := action(domain.ActionMarkedAsDuplicate, domain.ActionAccepted, "2024-01-02T00:00:00Z")
	markA.Duplicates = []string{"ev-x", "ev-y"}
	markB := action(domain.ActionMarkedAsDuplicate, domain.ActionAccepted, "2024-01-03T00:00:00Z")
	markB.Duplicates = []string{"ev-y", "ev-z"}

	doc := domain.EventDocument{
		ID:   "ev-5",
		Type: "birth",
		Actions: []domain.ActionDocument{
			action(domain.ActionCreate, domain.ActionAccepted, "2024-01-01T00:00:00Z"),
			markA,
			markB,
		},
	}
	idx, err := state.CurrentState(doc, birthConfig())
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	want := []string{"ev-x", "ev-y", "ev-z"}
	if !reflect.DeepEqual(idx.Duplicates, want) {
		t.Fatalf("duplicates = %v, want %v", idx.Duplicates, want)
	}
}

func TestFoldDeclarationUnconfiguredTypeKeepsAllFields(t *testing.T) {
	create := action(domain.ActionCreate, domain.ActionAccepted, "2024-01-01T00:00:00Z")
	create.Declaration = map[string]any{"anything": "goes"}
	doc := domain.EventDocument{
		ID:      "ev-6",
		Type:    "unconfigured",
		Actions: []domain.ActionDocument{create},
	}
	idx, err := state.CurrentState(doc, config.EventType{})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if idx.Declaration["anything"] != "goes" {
		t.Fatalf("declaration = %v", idx.Declaration)
	}
}
