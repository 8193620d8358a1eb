package state

import "recordline/internal/domain"

// availableByStatus is the base lookup table of next actions per status.
// Flag overrides in AvailableActions take precedence over the table.
var availableByStatus = map[domain.EventStatus][]domain.ActionType{
	domain.StatusCreated: {
		domain.ActionRead, domain.ActionDeclare, domain.ActionNotify, domain.ActionArchive,
	},
	domain.StatusDeclared: {
		domain.ActionRead, domain.ActionValidate, domain.ActionReject,
		domain.ActionArchive, domain.ActionMarkAsDuplicate,
	},
	domain.StatusValidated: {
		domain.ActionRead, domain.ActionRegister, domain.ActionReject, domain.ActionArchive,
	},
	domain.StatusRegistered: {
		domain.ActionRead, domain.ActionPrintCertificate, domain.ActionRequestCorrection,
	},
	domain.StatusArchived: {
		domain.ActionRead,
	},
}

// AvailableActions computes the deterministic, order-stable set of actions
// displayable or performable next for an event. Overrides are evaluated in
// priority order; the result is never empty.
func AvailableActions(idx domain.EventIndex) []domain.ActionType {
	switch {
	case idx.HasFlag(domain.FlagPotentialDuplicate):
		return []domain.ActionType{
			domain.ActionRead, domain.ActionMarkAsDuplicate, domain.ActionArchive,
		}
	case idx.HasFlag(domain.FlagRejected):
		resubmit := domain.ActionDeclare
		if idx.Status == domain.StatusValidated {
			resubmit = domain.ActionValidate
		}
		return []domain.ActionType{domain.ActionRead, resubmit, domain.ActionArchive}
	case idx.HasFlag(domain.FlagCorrectionRequested):
		return []domain.ActionType{
			domain.ActionRead, domain.ActionApproveCorrection, domain.ActionRejectCorrection,
		}
	case idx.Status == domain.StatusNotified:
		// NOTIFIED behaves like DECLARED for workqueue purposes but also
		// allows rejection of the incomplete notification.
		return []domain.ActionType{
			domain.ActionRead, domain.ActionValidate, domain.ActionArchive, domain.ActionReject,
		}
	}
	if list, ok := availableByStatus[idx.Status]; ok {
		out := make([]domain.ActionType, len(list))
		copy(out, list)
		return out
	}
	return []domain.ActionType{domain.ActionRead}
}
