package state

import (
	"fmt"

	"recordline/internal/config"
	"recordline/internal/domain"
)

// MissingCreateActionError signals an event document whose log has no
// accepted CREATE action. That violates a core invariant, so it is surfaced
// as an internal error rather than retried.
type MissingCreateActionError struct {
	EventID string
}

func (e MissingCreateActionError) Error() string {
	return fmt.Sprintf("event %s has no accepted CREATE action", e.EventID)
}

// CurrentState projects the full action log of an event into its derived
// read model. The projection is a pure function of the document: calling it
// twice on the same immutable EventDocument yields identical output.
func CurrentState(doc domain.EventDocument, cfg config.EventType) (domain.EventIndex, error) {
	actions := sorted(doc.Actions)

	var create *domain.ActionDocument
	for i := range actions {
		if actions[i].Type == domain.ActionCreate && actions[i].Status == domain.ActionAccepted {
			create = &actions[i]
			break
		}
	}
	if create == nil {
		return domain.EventIndex{}, MissingCreateActionError{EventID: doc.ID}
	}

	idx := domain.EventIndex{
		ID:                doc.ID,
		Type:              doc.Type,
		Status:            DeriveStatus(actions),
		CreatedAt:         create.CreatedAt,
		CreatedBy:         create.CreatedBy,
		CreatedAtLocation: create.CreatedAtLocation,
		Flags:             DeriveFlags(actions),
		Declaration:       foldDeclaration(actions, cfg),
	}

	updatedBy(actions, &idx)
	assignment(actions, &idx)
	identifiers(actions, &idx)
	duplicates(actions, &idx)

	legal := map[domain.EventStatus]domain.LegalStatus{}
	if ls, ok := legalStatusFor(actions, domain.ActionDeclare); ok {
		legal[domain.StatusDeclared] = ls
	}
	if ls, ok := legalStatusFor(actions, domain.ActionRegister); ok {
		legal[domain.StatusRegistered] = ls
	}
	if len(legal) > 0 {
		idx.LegalStatuses = legal
	}
	return idx, nil
}

// updatedBy fills the updated-* metadata from the most recent accepted
// status-changing or correction-accepting action. When that action carries
// an originalActionId the metadata is attributed to the original request's
// actor and timestamp, preserving provenance across corrections.
func updatedBy(actions []domain.ActionDocument, idx *domain.EventIndex) {
	var last *domain.ActionDocument
	for i := range actions {
		a := &actions[i]
		if a.Status != domain.ActionAccepted {
			continue
		}
		if StatusChanging(a.Type) || a.Type == domain.ActionApproveCorrection {
			last = a
		}
	}
	if last == nil {
		return
	}
	attributed := *last
	if last.OriginalActionID != "" {
		for i := range actions {
			if actions[i].ID == last.OriginalActionID {
				attributed = actions[i]
				break
			}
		}
	}
	idx.UpdatedAt = attributed.CreatedAt
	idx.UpdatedBy = attributed.CreatedBy
	idx.UpdatedAtLocation = attributed.CreatedAtLocation
}

func assignment(actions []domain.ActionDocument, idx *domain.EventIndex) {
	for _, a := range actions {
		if a.Status != domain.ActionAccepted {
			continue
		}
		switch a.Type {
		case domain.ActionAssign:
			idx.AssignedTo = a.AssignedTo
		case domain.ActionUnassign:
			idx.AssignedTo = ""
		}
	}
}

func identifiers(actions []domain.ActionDocument, idx *domain.EventIndex) {
	for _, a := range actions {
		if a.Status != domain.ActionAccepted {
			continue
		}
		if a.Identifiers != nil && a.Identifiers.TrackingID != "" {
			idx.TrackingID = a.Identifiers.TrackingID
		}
	}
}

func duplicates(actions []domain.ActionDocument, idx *domain.EventIndex) {
	seen := map[string]bool{}
	for _, a := range actions {
		if a.Status != domain.ActionAccepted || a.Type != domain.ActionMarkedAsDuplicate {
			continue
		}
		for _, d := range a.Duplicates {
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			idx.Duplicates = append(idx.Duplicates, d)
		}
	}
}

// legalStatusFor pairs the latest accepted action of the given type with its
// corresponding Requested action. The request is matched by the accepted
// action's originalActionId, falling back to the most recent earlier request
// of the same type, and finally to the accepted action alone when no
// separate request was persisted. Registration numbers are extracted only
// for REGISTER.
func legalStatusFor(actions []domain.ActionDocument, t domain.ActionType) (domain.LegalStatus, bool) {
	acceptedIdx := -1
	for i := range actions {
		if actions[i].Type == t && actions[i].Status == domain.ActionAccepted {
			acceptedIdx = i
		}
	}
	if acceptedIdx < 0 {
		return domain.LegalStatus{}, false
	}
	accepted := actions[acceptedIdx]

	request := accepted
	if accepted.OriginalActionID != "" {
		for i := range actions {
			if actions[i].ID == accepted.OriginalActionID {
				request = actions[i]
				break
			}
		}
	} else {
		for i := 0; i < acceptedIdx; i++ {
			if actions[i].Type == t && actions[i].Status == domain.ActionRequested {
				request = actions[i]
			}
		}
	}

	ls := domain.LegalStatus{
		CreatedAt:         request.CreatedAt,
		CreatedBy:         request.CreatedBy,
		CreatedAtLocation: request.CreatedAtLocation,
		AcceptedAt:        accepted.CreatedAt,
	}
	if t == domain.ActionRegister {
		ls.RegistrationNumber = accepted.RegistrationNumber
		if ls.RegistrationNumber == "" && accepted.Identifiers != nil {
			ls.RegistrationNumber = accepted.Identifiers.RegistrationNumber
		}
	}
	return ls, true
}

// foldDeclaration flattens the last-known field values across all accepted
// actions in log order, last write wins per field. When the event type
// configures declaration fields, unknown field ids are dropped.
func foldDeclaration(actions []domain.ActionDocument, cfg config.EventType) map[string]any {
	allowed := map[string]bool{}
	for _, f := range cfg.Declaration.Fields {
		allowed[f] = true
	}
	out := map[string]any{}
	for _, a := range actions {
		if a.Status != domain.ActionAccepted {
			continue
		}
		for k, v := range a.Declaration {
			if len(allowed) > 0 && !allowed[k] {
				continue
			}
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
