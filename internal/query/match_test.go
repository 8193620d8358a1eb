package query_test

import (
	"testing"

	"recordline/internal/domain"
	"recordline/internal/query"
)

func registeredIndex() domain.EventIndex {
	return domain.EventIndex{
		ID:                "ev-1",
		Type:              "birth",
		Status:            domain.StatusRegistered,
		TrackingID:        "TRK-4F2A9C01B7E3",
		AssignedTo:        "clerk-1",
		CreatedAt:         "2024-03-01T08:00:00Z",
		UpdatedAt:         "2024-03-05T11:30:00Z",
		CreatedAtLocation: "district-7",
		UpdatedAtLocation: "district-7",
		Flags:             []domain.Flag{domain.FlagPendingCertification},
		Declaration:       map[string]any{"child.firstname": "Katherine", "child.surname": "Johnson"},
		LegalStatuses: map[domain.EventStatus]domain.LegalStatus{
			domain.StatusRegistered: {AcceptedAt: "2024-03-05T11:30:00Z", RegistrationNumber: "2024-B7E30C4F"},
		},
	}
}

func cond(raw string) *query.Condition {
	return &query.Condition{Type: query.TypeExact, Term: raw}
}

func TestMatchesExactAndEventType(t *testing.T) {
	idx := registeredIndex()
	q := query.Query{Type: "and", Clauses: []query.Expression{{
		EventType: "birth",
		Status:    cond("REGISTERED"),
	}}}
	if !q.Matches(idx, nil) {
		t.Fatal("expected match")
	}
	q.Clauses[0].EventType = "death"
	if q.Matches(idx, nil) {
		t.Fatal("event type mismatch must not match")
	}
}

func TestMatchesOrSemantics(t *testing.T) {
	idx := registeredIndex()
	q := query.Query{Type: "or", Clauses: []query.Expression{
		{EventType: "death"},
		{EventType: "birth", Status: cond("REGISTERED")},
	}}
	if !q.Matches(idx, nil) {
		t.Fatal("or should match when any clause matches")
	}
}

func TestMatchesAnyOf(t *testing.T) {
	idx := registeredIndex()
	q := query.Query{Type: "and", Clauses: []query.Expression{{
		EventType: "birth",
		Status:    &query.Condition{Type: query.TypeAnyOf, Terms: []string{"VALIDATED", "REGISTERED"}},
	}}}
	if !q.Matches(idx, nil) {
		t.Fatal("anyOf should match REGISTERED")
	}
}

func TestMatchesRangeUsesDatePortion(t *testing.T) {
	idx := registeredIndex()
	q := query.Query{Type: "and", Clauses: []query.Expression{{
		EventType: "birth",
		CreatedAt: &query.Condition{Type: query.TypeRange, Gte: "2024-03-01", Lte: "2024-03-31"},
	}}}
	if !q.Matches(idx, nil) {
		t.Fatal("createdAt 2024-03-01 should fall in March")
	}
	q.Clauses[0].CreatedAt = &query.Condition{Type: query.TypeRange, Lte: "2024-02-29"}
	if q.Matches(idx, nil) {
		t.Fatal("createdAt after lte must not match")
	}
}

func TestMatchesRegisteredAtReadsLegalStatus(t *testing.T) {
	idx := registeredIndex()
	q := query.Query{Type: "and", Clauses: []query.Expression{{
		EventType:    "birth",
		RegisteredAt: &query.Condition{Type: query.TypeRange, Gte: "2024-03-05", Lte: "2024-03-05"},
	}}}
	if !q.Matches(idx, nil) {
		t.Fatal("registration date should come from the REGISTERED legal status")
	}
}

func TestMatchesFlagsWithNot(t *testing.T) {
	idx := registeredIndex()
	q := query.Query{Type: "and", Clauses: []query.Expression{{
		EventType: "birth",
		Flags:     cond(string(domain.FlagPendingCertification)),
	}}}
	if !q.Matches(idx, nil) {
		t.Fatal("flag should match")
	}
	q.Clauses[0].Flags = &query.Condition{
		Type:   query.TypeNot,
		Clause: cond(string(domain.FlagPotentialDuplicate)),
	}
	if !q.Matches(idx, nil) {
		t.Fatal("not over an absent flag should match")
	}
	q.Clauses[0].Flags = &query.Condition{
		Type:   query.TypeNot,
		Clause: cond(string(domain.FlagPendingCertification)),
	}
	if q.Matches(idx, nil) {
		t.Fatal("not over a present flag must not match")
	}
}

func TestMatchesDataAgainstDeclaration(t *testing.T) {
	idx := registeredIndex()
	q := query.Query{Type: "and", Clauses: []query.Expression{{
		EventType: "birth",
		Data: map[string]*query.Condition{
			"child.surname": {Type: query.TypeFuzzy, Term: "johnson"},
		},
	}}}
	if !q.Matches(idx, nil) {
		t.Fatal("fuzzy surname should match")
	}
	q.Clauses[0].Data["child.middlename"] = cond("x")
	if q.Matches(idx, nil) {
		t.Fatal("conditions on absent fields must not match")
	}
}

func TestMatchesWithinUsesHierarchy(t *testing.T) {
	idx := registeredIndex()
	within := func(ancestor, loc string) bool {
		return ancestor == "province-west" && loc == "district-7"
	}
	q := query.Query{Type: "and", Clauses: []query.Expression{{
		EventType:         "birth",
		UpdatedAtLocation: &query.Condition{Type: query.TypeWithin, Location: "province-west"},
	}}}
	if !q.Matches(idx, within) {
		t.Fatal("district-7 lies within province-west")
	}
	q.Clauses[0].UpdatedAtLocation = &query.Condition{Type: query.TypeWithin, Location: "province-east"}
	if q.Matches(idx, within) {
		t.Fatal("district-7 is not within province-east")
	}
}

func TestFuzzyTokenPrefix(t *testing.T) {
	q := query.Query{Type: "and", Clauses: []query.Expression{{
		EventType: "birth",
		Data:      map[string]*query.Condition{"child.firstname": {Type: query.TypeFuzzy, Term: "kath"}},
	}}}
	if !q.Matches(registeredIndex(), nil) {
		t.Fatal("token prefix should match")
	}
}

func TestFuzzySingleEdit(t *testing.T) {
	q := query.Query{Type: "and", Clauses: []query.Expression{{
		EventType: "birth",
		Data:      map[string]*query.Condition{"child.surname": {Type: query.TypeFuzzy, Term: "jonson"}},
	}}}
	if !q.Matches(registeredIndex(), nil) {
		t.Fatal("one missing character should still match")
	}
}

func TestFuzzyIsNotSubstring(t *testing.T) {
	q := query.Query{Type: "and", Clauses: []query.Expression{{
		EventType: "birth",
		Data:      map[string]*query.Condition{"child.surname": {Type: query.TypeFuzzy, Term: "ohns"}},
	}}}
	if q.Matches(registeredIndex(), nil) {
		t.Fatal("interior substrings must not match")
	}
}
