package state

import (
	"sort"

	"recordline/internal/domain"
)

// statusByAction maps the status-changing action types to the status they
// produce. Every other action type leaves the running status untouched.
var statusByAction = map[domain.ActionType]domain.EventStatus{
	domain.ActionCreate:   domain.StatusCreated,
	domain.ActionNotify:   domain.StatusNotified,
	domain.ActionDeclare:  domain.StatusDeclared,
	domain.ActionValidate: domain.StatusValidated,
	domain.ActionRegister: domain.StatusRegistered,
	domain.ActionArchive:  domain.StatusArchived,
}

// StatusChanging reports whether an accepted action of type t moves the
// event status.
func StatusChanging(t domain.ActionType) bool {
	_, ok := statusByAction[t]
	return ok
}

// sorted returns the actions ordered by createdAt. The sort is stable so
// append order remains the tie-break for identical timestamps.
func sorted(actions []domain.ActionDocument) []domain.ActionDocument {
	out := make([]domain.ActionDocument, len(actions))
	copy(out, actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// DeriveStatus folds the action log into the current event status. Only
// accepted actions participate; unknown action types are skipped so that
// logs written by newer deployments still replay.
func DeriveStatus(actions []domain.ActionDocument) domain.EventStatus {
	status := domain.StatusCreated
	for _, a := range sorted(actions) {
		if a.Status != domain.ActionAccepted {
			continue
		}
		if s, ok := statusByAction[a.Type]; ok {
			status = s
		}
	}
	return status
}

// FlagCheck pairs an inherent flag with its predicate over the sorted
// action log. Checks are evaluated in list order so derived flag output is
// order-stable.
type FlagCheck struct {
	Flag  domain.Flag
	Check func(actions []domain.ActionDocument) bool
}

// DefaultFlagChecks returns the built-in inherent flag predicates.
func DefaultFlagChecks() []FlagCheck {
	return []FlagCheck{
		{domain.FlagIncomplete, incompleteCheck},
		{domain.FlagRejected, rejectedCheck},
		{domain.FlagCorrectionRequested, correctionRequestedCheck},
		{domain.FlagPendingCertification, pendingCertificationCheck},
		{domain.FlagPotentialDuplicate, potentialDuplicateCheck},
	}
}

// DeriveFlags computes action flags plus the default inherent flags.
func DeriveFlags(actions []domain.ActionDocument) []domain.Flag {
	return DeriveFlagsWith(actions, DefaultFlagChecks())
}

// DeriveFlagsWith computes flags using an explicit check list. Action flags
// come first: for every action type whose most recent instance is not
// accepted, "<type>:<status>" is emitted, in first-seen type order. Unknown
// action types still produce action flags; the inherent predicates ignore
// them.
func DeriveFlagsWith(actions []domain.ActionDocument, checks []FlagCheck) []domain.Flag {
	ordered := sorted(actions)

	var typeOrder []domain.ActionType
	last := map[domain.ActionType]domain.ActionDocument{}
	for _, a := range ordered {
		if _, seen := last[a.Type]; !seen {
			typeOrder = append(typeOrder, a.Type)
		}
		last[a.Type] = a
	}

	var flags []domain.Flag
	for _, t := range typeOrder {
		if a := last[t]; a.Status != domain.ActionAccepted {
			flags = append(flags, domain.ActionFlag(a.Type, a.Status))
		}
	}
	for _, c := range checks {
		if c.Check(ordered) {
			flags = append(flags, c.Flag)
		}
	}
	return flags
}

// incompleteCheck: the latest accepted declaration-bearing action is a
// NOTIFY, i.e. the record holds a partial notification not yet declared.
func incompleteCheck(actions []domain.ActionDocument) bool {
	incomplete := false
	for _, a := range actions {
		if a.Status != domain.ActionAccepted {
			continue
		}
		switch a.Type {
		case domain.ActionNotify:
			incomplete = true
		case domain.ActionDeclare, domain.ActionValidate, domain.ActionRegister:
			incomplete = false
		}
	}
	return incomplete
}

// rejectedCheck: the record was sent back for updates and has not been
// re-submitted since.
func rejectedCheck(actions []domain.ActionDocument) bool {
	rejected := false
	for _, a := range actions {
		if a.Status != domain.ActionAccepted {
			continue
		}
		switch a.Type {
		case domain.ActionReject:
			rejected = true
		case domain.ActionDeclare, domain.ActionValidate, domain.ActionRegister, domain.ActionArchive:
			rejected = false
		}
	}
	return rejected
}

// correctionRequestedCheck: some REQUEST_CORRECTION is still unresolved by
// a later APPROVE_CORRECTION or REJECT_CORRECTION referencing it.
func correctionRequestedCheck(actions []domain.ActionDocument) bool {
	open := map[string]struct{}{}
	for _, a := range actions {
		switch a.Type {
		case domain.ActionRequestCorrection:
			if a.Status != domain.ActionRejected {
				open[a.ID] = struct{}{}
			}
		case domain.ActionApproveCorrection, domain.ActionRejectCorrection:
			if a.Status != domain.ActionAccepted {
				continue
			}
			if a.RequestID != "" {
				delete(open, a.RequestID)
			} else {
				// Legacy resolutions without a request reference close
				// everything outstanding.
				open = map[string]struct{}{}
			}
		}
	}
	return len(open) > 0
}

// pendingCertificationCheck: registered but the certificate has not been
// printed since the last registration or approved correction.
func pendingCertificationCheck(actions []domain.ActionDocument) bool {
	registered := false
	pending := false
	for _, a := range actions {
		if a.Status != domain.ActionAccepted {
			continue
		}
		switch a.Type {
		case domain.ActionRegister:
			registered = true
			pending = true
		case domain.ActionPrintCertificate:
			pending = false
		case domain.ActionApproveCorrection:
			// An approved correction invalidates previously printed copies.
			if registered {
				pending = true
			}
		}
	}
	return pending
}

// potentialDuplicateCheck: marked as a potential duplicate and not yet
// resolved by review (validate/register), rejection or archiving.
func potentialDuplicateCheck(actions []domain.ActionDocument) bool {
	flagged := false
	for _, a := range actions {
		if a.Status != domain.ActionAccepted {
			continue
		}
		switch a.Type {
		case domain.ActionMarkedAsDuplicate:
			flagged = true
		case domain.ActionValidate, domain.ActionRegister, domain.ActionReject, domain.ActionArchive:
			flagged = false
		}
	}
	return flagged
}
