package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"recordline/internal/config"
	"recordline/internal/domain"
	"recordline/internal/query"
	"recordline/internal/repo"
	"recordline/internal/scope"
	"recordline/internal/state"
)

// Engine orchestrates the append-only action log: it enforces lifecycle and
// assignment rules on append, projects derived state on read and executes
// validated search queries against the store.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ConflictError indicates an append that violates the event's current state:
// an unavailable action, or an assignment held by another actor.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }

// CreateEventOptions are parameters for creating an event with its seeding
// CREATE action.
type CreateEventOptions struct {
	EventType     string
	TransactionID string
	Declaration   map[string]any
	Annotation    map[string]any
	ActorID       string
	Location      string
}

// CreateEvent creates a new event and appends the CREATE action. Creation is
// idempotent on the transaction id: replaying the same transaction returns
// the already-created event unchanged.
func (e Engine) CreateEvent(ctx context.Context, opts CreateEventOptions) (domain.EventDocument, error) {
	if e.Config == nil {
		return domain.EventDocument{}, errors.New("config not loaded")
	}
	if opts.TransactionID == "" {
		return domain.EventDocument{}, errors.New("transaction id is required")
	}
	if opts.ActorID == "" {
		return domain.EventDocument{}, errors.New("actor id is required")
	}
	if _, ok := e.Config.EventType(opts.EventType); !ok {
		return domain.EventDocument{}, fmt.Errorf("unknown event type %s", opts.EventType)
	}
	if id, err := e.Repo.EventIDByTransaction(ctx, opts.TransactionID); err == nil {
		return e.Repo.GetEvent(ctx, id)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.EventDocument{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	eventID := uuid.New().String()
	doc := domain.EventDocument{
		ID:            eventID,
		Type:          opts.EventType,
		TransactionID: opts.TransactionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	create := domain.ActionDocument{
		ID:                uuid.New().String(),
		Type:              domain.ActionCreate,
		Status:            domain.ActionAccepted,
		CreatedAt:         now,
		CreatedBy:         opts.ActorID,
		CreatedAtLocation: opts.Location,
		Declaration:       opts.Declaration,
		Annotation:        opts.Annotation,
		Identifiers:       &domain.Identifiers{TrackingID: trackingID(eventID)},
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EventDocument{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEvent(ctx, tx, doc); err != nil {
		return domain.EventDocument{}, fmt.Errorf("insert event: %w", err)
	}
	if err := e.Repo.InsertAction(ctx, tx, eventID, 1, create); err != nil {
		return domain.EventDocument{}, fmt.Errorf("insert create action: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.EventDocument{}, err
	}
	return e.Repo.GetEvent(ctx, eventID)
}

// trackingID derives the stable human-facing tracking identifier from the
// event id.
func trackingID(eventID string) string {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventID))
	return "TRK-" + strings.ToUpper(strings.ReplaceAll(u.String(), "-", ""))[:12]
}

// AppendActionOptions are parameters for appending one action to an event.
type AppendActionOptions struct {
	EventID            string
	Type               domain.ActionType
	Status             domain.ActionStatus
	TransactionID      string
	ActorID            string
	Location           string
	Declaration        map[string]any
	Annotation         map[string]any
	AssignedTo         string
	RegistrationNumber string
	RequestID          string
	OriginalActionID   string
	Duplicates         []string
	CustomType         string
	Force              bool
}

// AppendAction validates an action against the event's projected state and
// appends it to the log. Appends are idempotent on the action transaction
// id. Scope authorization is the caller's responsibility; lifecycle and
// assignment rules are enforced here unless Force is set.
func (e Engine) AppendAction(ctx context.Context, opts AppendActionOptions) (domain.EventDocument, error) {
	if e.Config == nil {
		return domain.EventDocument{}, errors.New("config not loaded")
	}
	if opts.ActorID == "" {
		return domain.EventDocument{}, errors.New("actor id is required")
	}
	if !opts.Type.Known() {
		return domain.EventDocument{}, fmt.Errorf("unknown action type %s", opts.Type)
	}
	if opts.Type == domain.ActionCreate {
		return domain.EventDocument{}, errors.New("CREATE is appended via event creation only")
	}
	doc, err := e.Repo.GetEvent(ctx, opts.EventID)
	if err != nil {
		return domain.EventDocument{}, err
	}
	if opts.TransactionID != "" {
		if _, err := e.Repo.ActionByTransaction(ctx, opts.EventID, opts.TransactionID); err == nil {
			return doc, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.EventDocument{}, err
		}
	}
	etCfg, ok := e.Config.EventType(doc.Type)
	if !ok {
		return domain.EventDocument{}, fmt.Errorf("event type %s not configured", doc.Type)
	}
	idx, err := state.CurrentState(doc, etCfg)
	if err != nil {
		return domain.EventDocument{}, err
	}
	if opts.Status == "" {
		opts.Status = domain.ActionAccepted
	}
	if !opts.Force {
		if err := ensureActionAvailable(idx, opts.Type); err != nil {
			return domain.EventDocument{}, err
		}
		if err := ensureAssignment(idx, opts); err != nil {
			return domain.EventDocument{}, err
		}
	}
	if opts.Type == domain.ActionCustom {
		if opts.CustomType == "" {
			return domain.EventDocument{}, errors.New("customType is required for CUSTOM actions")
		}
		if !etCfg.HasCustomAction(opts.CustomType) {
			return domain.EventDocument{}, fmt.Errorf("custom action %s not configured for event type %s", opts.CustomType, doc.Type)
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	a := domain.ActionDocument{
		ID:                uuid.New().String(),
		TransactionID:     opts.TransactionID,
		Type:              opts.Type,
		Status:            opts.Status,
		CreatedAt:         now,
		CreatedBy:         opts.ActorID,
		CreatedAtLocation: opts.Location,
		Declaration:       opts.Declaration,
		Annotation:        opts.Annotation,
		AssignedTo:        opts.AssignedTo,
		RequestID:         opts.RequestID,
		OriginalActionID:  opts.OriginalActionID,
		Duplicates:        opts.Duplicates,
		CustomType:        opts.CustomType,
	}
	if opts.Type == domain.ActionRegister && opts.Status == domain.ActionAccepted {
		number := opts.RegistrationNumber
		if number == "" {
			number = registrationNumber(e.now().UTC(), doc.ID)
		}
		a.RegistrationNumber = number
		a.Identifiers = &domain.Identifiers{TrackingID: idx.TrackingID, RegistrationNumber: number}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EventDocument{}, err
	}
	defer tx.Rollback()
	seq, err := e.Repo.NextSeq(ctx, tx, doc.ID)
	if err != nil {
		return domain.EventDocument{}, err
	}
	if err := e.Repo.InsertAction(ctx, tx, doc.ID, seq, a); err != nil {
		return domain.EventDocument{}, fmt.Errorf("insert action: %w", err)
	}
	if opts.Status == domain.ActionAccepted && (state.StatusChanging(opts.Type) || opts.Type == domain.ActionApproveCorrection) {
		if err := e.Repo.TouchEvent(ctx, tx, doc.ID, now); err != nil {
			return domain.EventDocument{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.EventDocument{}, err
	}
	return e.Repo.GetEvent(ctx, doc.ID)
}

// registrationNumber mints a number when the caller did not supply one.
func registrationNumber(now time.Time, eventID string) string {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte("rn|"+eventID))
	return fmt.Sprintf("%s-%s", now.Format("2006"), strings.ToUpper(strings.ReplaceAll(u.String(), "-", ""))[:8])
}

// gatedActions are the action types whose availability depends on the
// projected state. Assignment bookkeeping and custom actions are always
// appendable.
var gatedActions = map[domain.ActionType]domain.ActionType{
	domain.ActionNotify:            domain.ActionNotify,
	domain.ActionDeclare:           domain.ActionDeclare,
	domain.ActionValidate:          domain.ActionValidate,
	domain.ActionRegister:          domain.ActionRegister,
	domain.ActionReject:            domain.ActionReject,
	domain.ActionArchive:           domain.ActionArchive,
	domain.ActionPrintCertificate:  domain.ActionPrintCertificate,
	domain.ActionRequestCorrection: domain.ActionRequestCorrection,
	domain.ActionApproveCorrection: domain.ActionApproveCorrection,
	domain.ActionRejectCorrection:  domain.ActionRejectCorrection,
	// Recording a duplicate mark requires its workqueue affordance.
	domain.ActionMarkedAsDuplicate: domain.ActionMarkAsDuplicate,
}

func ensureActionAvailable(idx domain.EventIndex, t domain.ActionType) error {
	display, gated := gatedActions[t]
	if !gated {
		return nil
	}
	for _, available := range state.AvailableActions(idx) {
		if available == display {
			return nil
		}
	}
	return ConflictError{Reason: fmt.Sprintf("action %s not available for event in status %s", t, idx.Status)}
}

func ensureAssignment(idx domain.EventIndex, opts AppendActionOptions) error {
	switch opts.Type {
	case domain.ActionAssign:
		if idx.AssignedTo != "" && idx.AssignedTo != opts.AssignedTo {
			return ConflictError{Reason: fmt.Sprintf("event already assigned to %s", idx.AssignedTo)}
		}
		if opts.AssignedTo == "" {
			return errors.New("assignedTo is required for ASSIGN")
		}
		return nil
	case domain.ActionUnassign, domain.ActionRead:
		return nil
	}
	if idx.AssignedTo != "" && idx.AssignedTo != opts.ActorID {
		return ConflictError{Reason: fmt.Sprintf("event assigned to %s", idx.AssignedTo)}
	}
	return nil
}

// GetEvent returns the full event document.
func (e Engine) GetEvent(ctx context.Context, id string) (domain.EventDocument, error) {
	return e.Repo.GetEvent(ctx, id)
}

// GetEventState projects the event's derived read model.
func (e Engine) GetEventState(ctx context.Context, id string) (domain.EventIndex, error) {
	doc, err := e.Repo.GetEvent(ctx, id)
	if err != nil {
		return domain.EventIndex{}, err
	}
	etCfg, _ := e.Config.EventType(doc.Type)
	return state.CurrentState(doc, etCfg)
}

// AvailableActions projects the event and resolves the next displayable
// actions, optionally filtered by the caller's scopes.
func (e Engine) AvailableActions(ctx context.Context, id string, scopes []string) ([]domain.ActionType, error) {
	idx, err := e.GetEventState(ctx, id)
	if err != nil {
		return nil, err
	}
	actions := state.AvailableActions(idx)
	if scopes == nil {
		return actions, nil
	}
	return scope.AvailableActionsByScopes(actions, scopes, idx.Type), nil
}

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// SearchOptions parameterise one search call. Scopes nil means the caller
// is trusted (local CLI); otherwise search scopes gate each event type in
// the query and my-jurisdiction access restricts results to the caller
// location's subtree.
type SearchOptions struct {
	Query          query.Query
	Scopes         []string
	CallerLocation string
	Limit          int
	Offset         int
}

// SearchResult is one page of matches plus the total match count.
type SearchResult struct {
	Total   int                 `json:"total"`
	Results []domain.EventIndex `json:"results"`
}

// Search validates jurisdiction access, projects candidate events and
// evaluates the query, returning a deterministic page of results.
func (e Engine) Search(ctx context.Context, opts SearchOptions) (SearchResult, error) {
	if e.Config == nil {
		return SearchResult{}, errors.New("config not loaded")
	}
	if err := opts.Query.Validate(); err != nil {
		return SearchResult{}, err
	}

	restricted := map[string]bool{}
	var eventTypes []string
	seen := map[string]bool{}
	for _, clause := range opts.Query.Clauses {
		et := clause.EventType
		if !seen[et] {
			seen[et] = true
			eventTypes = append(eventTypes, et)
		}
		if opts.Scopes == nil {
			continue
		}
		access := scope.SearchAccess(opts.Scopes, et)
		switch {
		case access[scope.AccessAll]:
			// unrestricted for this event type
		case access[scope.AccessMyJurisdiction]:
			if opts.CallerLocation == "" {
				return SearchResult{}, scope.ForbiddenError{EventType: et}
			}
			restricted[et] = true
		default:
			return SearchResult{}, scope.ForbiddenError{EventType: et}
		}
	}

	docs, err := e.Repo.ListEvents(ctx, eventTypes)
	if err != nil {
		return SearchResult{}, err
	}
	within := func(ancestor, loc string) bool {
		ok, err := e.Repo.LocationWithin(ctx, ancestor, loc)
		return err == nil && ok
	}

	var matched []domain.EventIndex
	for _, doc := range docs {
		etCfg, _ := e.Config.EventType(doc.Type)
		idx, err := state.CurrentState(doc, etCfg)
		if err != nil {
			return SearchResult{}, err
		}
		if !opts.Query.Matches(idx, within) {
			continue
		}
		if restricted[idx.Type] && !within(opts.CallerLocation, idx.UpdatedAtLocation) {
			continue
		}
		matched = append(matched, idx)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	result := SearchResult{Total: len(matched)}
	if offset < len(matched) {
		end := offset + limit
		if end > len(matched) {
			end = len(matched)
		}
		result.Results = matched[offset:end]
	}
	return result, nil
}
