package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"recordline/internal/config"
	"recordline/internal/db"
	"recordline/internal/domain"
	"recordline/internal/engine"
	"recordline/internal/migrate"
	"recordline/internal/query"
	"recordline/internal/scope"
)

func newTestEnv(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) }
	return eng
}

func createEvent(t *testing.T, eng engine.Engine, eventType, txID string, declaration map[string]any) domain.EventDocument {
	t.Helper()
	doc, err := eng.CreateEvent(context.Background(), engine.CreateEventOptions{
		EventType:     eventType,
		TransactionID: txID,
		Declaration:   declaration,
		ActorID:       "tester",
		Location:      "district-7",
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return doc
}

func appendAction(t *testing.T, eng engine.Engine, opts engine.AppendActionOptions) domain.EventDocument {
	t.Helper()
	if opts.ActorID == "" {
		opts.ActorID = "tester"
	}
	doc, err := eng.AppendAction(context.Background(), opts)
	if err != nil {
		t.Fatalf("append %s: %v", opts.Type, err)
	}
	return doc
}

func TestCreateEventIdempotentOnTransaction(t *testing.T) {
	eng := newTestEnv(t)
	first := createEvent(t, eng, "birth", "tx-1", nil)
	again := createEvent(t, eng, "birth", "tx-1", nil)
	if first.ID != again.ID {
		t.Fatalf("replay created a new event: %s vs %s", first.ID, again.ID)
	}
	if len(again.Actions) != 1 || again.Actions[0].Type != domain.ActionCreate {
		t.Fatalf("actions = %+v, want exactly the CREATE action", again.Actions)
	}
	ids := again.Actions[0].Identifiers
	if ids == nil || !strings.HasPrefix(ids.TrackingID, "TRK-") {
		t.Fatalf("identifiers = %+v, want a TRK tracking id", ids)
	}
}

func TestCreateEventRejectsUnknownType(t *testing.T) {
	eng := newTestEnv(t)
	_, err := eng.CreateEvent(context.Background(), engine.CreateEventOptions{
		EventType:     "marriage",
		TransactionID: "tx-1",
		ActorID:       "tester",
	})
	if err == nil {
		t.Fatal("unregistered event type must be rejected")
	}
}

func TestLifecycleToRegistered(t *testing.T) {
	eng := newTestEnv(t)
	doc := createEvent(t, eng, "birth", "tx-1", map[string]any{"child.firstname": "Ada"})

	appendAction(t, eng, engine.AppendActionOptions{EventID: doc.ID, Type: domain.ActionDeclare,
		Declaration: map[string]any{"child.surname": "Lovelace"}})
	appendAction(t, eng, engine.AppendActionOptions{EventID: doc.ID, Type: domain.ActionValidate})
	appendAction(t, eng, engine.AppendActionOptions{EventID: doc.ID, Type: domain.ActionRegister})

	idx, err := eng.GetEventState(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if idx.Status != domain.StatusRegistered {
		t.Fatalf("status = %s, want REGISTERED", idx.Status)
	}
	number := idx.RegistrationNumber()
	if !strings.HasPrefix(number, "2024-") {
		t.Fatalf("registration number = %q, want minted with the registration year", number)
	}
	if idx.Declaration["child.firstname"] != "Ada" || idx.Declaration["child.surname"] != "Lovelace" {
		t.Fatalf("declaration = %v", idx.Declaration)
	}
}

func TestAppendActionIdempotentOnTransaction(t *testing.T) {
	eng := newTestEnv(t)
	doc := createEvent(t, eng, "birth", "tx-1", nil)

	appendAction(t, eng, engine.AppendActionOptions{EventID: doc.ID, Type: domain.ActionDeclare, TransactionID: "atx-1"})
	replay := appendAction(t, eng, engine.AppendActionOptions{EventID: doc.ID, Type: domain.ActionDeclare, TransactionID: "atx-1"})
	if len(replay.Actions) != 2 {
		t.Fatalf("actions = %d, replay must not append again", len(replay.Actions))
	}
}

func TestAppendActionUnavailableConflicts(t *testing.T) {
	eng := newTestEnv(t)
	doc := createEvent(t, eng, "birth", "tx-1", nil)

	// REGISTER is not offered while the event is still CREATED.
	_, err := eng.AppendAction(context.Background(), engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionRegister, ActorID: "tester",
	})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestAppendActionForceBypassesAvailability(t *testing.T) {
	eng := newTestEnv(t)
	doc := createEvent(t, eng, "birth", "tx-1", nil)
	appendAction(t, eng, engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionRegister, Force: true,
	})
	idx, err := eng.GetEventState(context.Background(), doc.ID)
	if err != nil || idx.Status != domain.StatusRegistered {
		t.Fatalf("status = %s, err = %v", idx.Status, err)
	}
}

func TestAppendActionRejectsUnknownType(t *testing.T) {
	eng := newTestEnv(t)
	doc := createEvent(t, eng, "birth", "tx-1", nil)
	if _, err := eng.AppendAction(context.Background(), engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionType("FROBNICATE"), ActorID: "tester",
	}); err == nil {
		t.Fatal("unknown action types must be rejected")
	}
	if _, err := eng.AppendAction(context.Background(), engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionCreate, ActorID: "tester",
	}); err == nil {
		t.Fatal("CREATE must not be appendable")
	}
}

func TestAssignmentBlocksOtherActors(t *testing.T) {
	eng := newTestEnv(t)
	doc := createEvent(t, eng, "birth", "tx-1", nil)
	appendAction(t, eng, engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionAssign, ActorID: "alice", AssignedTo: "alice",
	})

	_, err := eng.AppendAction(context.Background(), engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionDeclare, ActorID: "bob",
	})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want assignment conflict", err)
	}

	// The assignee works normally.
	appendAction(t, eng, engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionDeclare, ActorID: "alice",
	})

	// Reassignment requires an UNASSIGN first.
	_, err = eng.AppendAction(context.Background(), engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionAssign, ActorID: "carol", AssignedTo: "carol",
	})
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want assignment conflict", err)
	}

	appendAction(t, eng, engine.AppendActionOptions{EventID: doc.ID, Type: domain.ActionUnassign, ActorID: "bob"})
	appendAction(t, eng, engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionAssign, ActorID: "carol", AssignedTo: "carol",
	})
}

func TestCustomActionRequiresConfiguration(t *testing.T) {
	eng := newTestEnv(t)
	doc := createEvent(t, eng, "tennis-club-membership", "tx-1", nil)

	appendAction(t, eng, engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionCustom, CustomType: "collect-signature",
	})
	if _, err := eng.AppendAction(context.Background(), engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionCustom, CustomType: "frobnicate", ActorID: "tester",
	}); err == nil {
		t.Fatal("unconfigured custom action must be rejected")
	}
	if _, err := eng.AppendAction(context.Background(), engine.AppendActionOptions{
		EventID: doc.ID, Type: domain.ActionCustom, ActorID: "tester",
	}); err == nil {
		t.Fatal("CUSTOM without a customType must be rejected")
	}
}

func TestAvailableActionsScopeFiltered(t *testing.T) {
	eng := newTestEnv(t)
	doc := createEvent(t, eng, "birth", "tx-1", nil)

	all, err := eng.AvailableActions(context.Background(), doc.ID, nil)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(all) == 0 || all[0] != domain.ActionRead {
		t.Fatalf("actions = %v", all)
	}

	filtered, err := eng.AvailableActions(context.Background(), doc.ID, []string{"record.declare[event=birth]"})
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	hasDeclare := false
	for _, a := range filtered {
		if a == domain.ActionArchive {
			t.Fatalf("actions = %v, ARCHIVE requires a scope the caller lacks", filtered)
		}
		if a == domain.ActionDeclare {
			hasDeclare = true
		}
	}
	if !hasDeclare {
		t.Fatalf("actions = %v, DECLARE should be offered to the scope holder", filtered)
	}
}

func birthQuery(conds query.Expression) query.Query {
	conds.EventType = "birth"
	return query.Query{Type: "and", Clauses: []query.Expression{conds}}
}

func TestSearchTrustedCallerMatchesAndPaginates(t *testing.T) {
	eng := newTestEnv(t)
	ctx := context.Background()
	createEvent(t, eng, "birth", "tx-1", map[string]any{"child.firstname": "Ada"})
	createEvent(t, eng, "birth", "tx-2", map[string]any{"child.firstname": "Grace"})
	createEvent(t, eng, "death", "tx-3", nil)

	res, err := eng.Search(ctx, engine.SearchOptions{Query: birthQuery(query.Expression{})})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 2 || len(res.Results) != 2 {
		t.Fatalf("total = %d, results = %d, want 2 births", res.Total, len(res.Results))
	}

	page, err := eng.Search(ctx, engine.SearchOptions{Query: birthQuery(query.Expression{}), Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 2 || len(page.Results) != 1 {
		t.Fatalf("total = %d, results = %d, want second page of one", page.Total, len(page.Results))
	}
	if page.Results[0].ID == res.Results[0].ID {
		t.Fatal("offset should skip the first match")
	}

	byName, err := eng.Search(ctx, engine.SearchOptions{Query: birthQuery(query.Expression{
		Data: map[string]*query.Condition{"child.firstname": {Type: query.TypeFuzzy, Term: "grace"}},
	})})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if byName.Total != 1 {
		t.Fatalf("total = %d, want the single Grace record", byName.Total)
	}
}

func TestSearchFailsClosedWithoutScope(t *testing.T) {
	eng := newTestEnv(t)
	createEvent(t, eng, "birth", "tx-1", nil)

	_, err := eng.Search(context.Background(), engine.SearchOptions{
		Query:  birthQuery(query.Expression{}),
		Scopes: []string{"record.declare[event=birth]"},
	})
	var forbidden scope.ForbiddenError
	if !errors.As(err, &forbidden) || forbidden.EventType != "birth" {
		t.Fatalf("err = %v, want ForbiddenError for birth", err)
	}
}

func TestSearchMyJurisdictionFiltersBySubtree(t *testing.T) {
	eng := newTestEnv(t)
	ctx := context.Background()
	for _, loc := range []domain.Location{
		{ID: "province-west", Name: "Province West"},
		{ID: "province-east", Name: "Province East"},
		{ID: "district-7", ParentID: "province-west", Name: "District 7"},
		{ID: "district-9", ParentID: "province-east", Name: "District 9"},
	} {
		if err := eng.Repo.UpsertLocation(ctx, loc); err != nil {
			t.Fatalf("upsert %s: %v", loc.ID, err)
		}
	}

	west := createEvent(t, eng, "birth", "tx-1", nil) // created at district-7
	_, err := eng.CreateEvent(ctx, engine.CreateEventOptions{
		EventType: "birth", TransactionID: "tx-2", ActorID: "tester", Location: "district-9",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	scopes := []string{"search[event=birth,access=my-jurisdiction]"}
	res, err := eng.Search(ctx, engine.SearchOptions{
		Query:          birthQuery(query.Expression{}),
		Scopes:         scopes,
		CallerLocation: "province-west",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 1 || res.Results[0].ID != west.ID {
		t.Fatalf("results = %+v, want only the district-7 event", res.Results)
	}

	// Jurisdiction access without a caller location cannot be honoured.
	_, err = eng.Search(ctx, engine.SearchOptions{Query: birthQuery(query.Expression{}), Scopes: scopes})
	var forbidden scope.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("err = %v, want ForbiddenError", err)
	}
}
