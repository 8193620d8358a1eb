package domain

import "strings"

// ActionType identifies one kind of operation recorded against an event.
type ActionType string

const (
	ActionCreate            ActionType = "CREATE"
	ActionNotify            ActionType = "NOTIFY"
	ActionDeclare           ActionType = "DECLARE"
	ActionValidate          ActionType = "VALIDATE"
	ActionRegister          ActionType = "REGISTER"
	ActionReject            ActionType = "REJECT"
	ActionArchive           ActionType = "ARCHIVE"
	ActionAssign            ActionType = "ASSIGN"
	ActionUnassign          ActionType = "UNASSIGN"
	ActionPrintCertificate  ActionType = "PRINT_CERTIFICATE"
	ActionRequestCorrection ActionType = "REQUEST_CORRECTION"
	ActionApproveCorrection ActionType = "APPROVE_CORRECTION"
	ActionRejectCorrection  ActionType = "REJECT_CORRECTION"
	ActionMarkedAsDuplicate ActionType = "MARKED_AS_DUPLICATE"
	ActionCustom            ActionType = "CUSTOM"

	// Workqueue pseudo-actions. Displayable next steps that are not
	// themselves recorded in the action log.
	ActionRead            ActionType = "READ"
	ActionMarkAsDuplicate ActionType = "MARK_AS_DUPLICATE"
)

var knownActionTypes = map[ActionType]struct{}{
	ActionCreate:            {},
	ActionNotify:            {},
	ActionDeclare:           {},
	ActionValidate:          {},
	ActionRegister:          {},
	ActionReject:            {},
	ActionArchive:           {},
	ActionAssign:            {},
	ActionUnassign:          {},
	ActionPrintCertificate:  {},
	ActionRequestCorrection: {},
	ActionApproveCorrection: {},
	ActionRejectCorrection:  {},
	ActionMarkedAsDuplicate: {},
	ActionCustom:            {},
}

// RecordableActionTypes lists every action type that may be appended to an
// event log, in a stable order.
var RecordableActionTypes = []ActionType{
	ActionCreate, ActionNotify, ActionDeclare, ActionValidate, ActionRegister,
	ActionReject, ActionArchive, ActionAssign, ActionUnassign,
	ActionPrintCertificate, ActionRequestCorrection, ActionApproveCorrection,
	ActionRejectCorrection, ActionMarkedAsDuplicate, ActionCustom,
}

// Known reports whether t is a recordable action type this core understands.
// Unknown types are tolerated in stored logs for forward compatibility but
// never change status and are never authorized.
func (t ActionType) Known() bool {
	_, ok := knownActionTypes[t]
	return ok
}

// ActionStatus is the acceptance state of a single action.
type ActionStatus string

const (
	ActionRequested ActionStatus = "Requested"
	ActionAccepted  ActionStatus = "Accepted"
	ActionRejected  ActionStatus = "Rejected"
)

// EventStatus is the derived lifecycle status of an event.
type EventStatus string

const (
	StatusCreated    EventStatus = "CREATED"
	StatusNotified   EventStatus = "NOTIFIED"
	StatusDeclared   EventStatus = "DECLARED"
	StatusValidated  EventStatus = "VALIDATED"
	StatusRegistered EventStatus = "REGISTERED"
	StatusArchived   EventStatus = "ARCHIVED"
)

// Flag marks an exceptional or notable derived condition on an event:
// either an inherent flag (constants below) or an action flag of the form
// "<actiontype>:<actionstatus>", lowercase, for the most recent
// non-accepted instance of an action type.
type Flag string

const (
	FlagPendingCertification Flag = "pending-certification"
	FlagIncomplete           Flag = "incomplete"
	FlagRejected             Flag = "rejected"
	FlagCorrectionRequested  Flag = "correction-requested"
	FlagPotentialDuplicate   Flag = "potential-duplicate"
)

// ActionFlag builds the action flag for a non-accepted action.
func ActionFlag(t ActionType, s ActionStatus) Flag {
	return Flag(strings.ToLower(string(t)) + ":" + strings.ToLower(string(s)))
}

// Identifiers carries the formal identifiers minted by a REGISTER action.
type Identifiers struct {
	TrackingID         string `json:"trackingId,omitempty"`
	RegistrationNumber string `json:"registrationNumber,omitempty"`
}

// ActionDocument is the immutable record of a single action performed,
// requested or rejected against an event. Field names are part of the wire
// compatibility surface.
type ActionDocument struct {
	ID                string         `json:"id"`
	TransactionID     string         `json:"transactionId,omitempty"`
	Type              ActionType     `json:"type"`
	Status            ActionStatus   `json:"status"`
	CreatedAt         string         `json:"createdAt" format:"date-time"`
	CreatedBy         string         `json:"createdBy"`
	CreatedAtLocation string         `json:"createdAtLocation,omitempty"`
	Declaration       map[string]any `json:"declaration,omitempty"`
	Annotation        map[string]any `json:"annotation,omitempty"`

	// ASSIGN only.
	AssignedTo string `json:"assignedTo,omitempty"`

	// REGISTER only.
	RegistrationNumber string       `json:"registrationNumber,omitempty"`
	Identifiers        *Identifiers `json:"identifiers,omitempty"`

	// Correction flow.
	RequestID        string `json:"requestId,omitempty"`
	OriginalActionID string `json:"originalActionId,omitempty"`

	// MARKED_AS_DUPLICATE only.
	Duplicates []string `json:"duplicates,omitempty"`

	// CUSTOM only.
	CustomType string `json:"customType,omitempty"`
}

// EventDocument is the full append-only history of one case. The first
// accepted action is always CREATE and actions grow monotonically in log
// order, which is authoritative over createdAt when timestamps collide.
type EventDocument struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	TransactionID string           `json:"transactionId,omitempty"`
	CreatedAt     string           `json:"createdAt" format:"date-time"`
	UpdatedAt     string           `json:"updatedAt" format:"date-time"`
	Actions       []ActionDocument `json:"actions"`
}

// LegalStatus records the formal acceptance metadata for DECLARED and
// REGISTERED, pairing the requesting actor with the acceptance.
type LegalStatus struct {
	CreatedAt          string `json:"createdAt" format:"date-time"`
	CreatedBy          string `json:"createdBy"`
	CreatedAtLocation  string `json:"createdAtLocation,omitempty"`
	AcceptedAt         string `json:"acceptedAt" format:"date-time"`
	RegistrationNumber string `json:"registrationNumber,omitempty"`
}

// EventIndex is the derived, queryable read model of an event. Never the
// source of truth; always recomputable from the EventDocument.
type EventIndex struct {
	ID                string                      `json:"id"`
	Type              string                      `json:"type"`
	Status            EventStatus                 `json:"status"`
	CreatedAt         string                      `json:"createdAt" format:"date-time"`
	CreatedBy         string                      `json:"createdBy"`
	CreatedAtLocation string                      `json:"createdAtLocation,omitempty"`
	UpdatedAt         string                      `json:"updatedAt" format:"date-time"`
	UpdatedBy         string                      `json:"updatedBy"`
	UpdatedAtLocation string                      `json:"updatedAtLocation,omitempty"`
	AssignedTo        string                      `json:"assignedTo,omitempty"`
	TrackingID        string                      `json:"trackingId,omitempty"`
	LegalStatuses     map[EventStatus]LegalStatus `json:"legalStatuses,omitempty"`
	Duplicates        []string                    `json:"duplicates,omitempty"`
	Flags             []Flag                      `json:"flags"`
	Declaration       map[string]any              `json:"declaration,omitempty"`
}

// HasFlag reports whether the index carries the given flag.
func (i EventIndex) HasFlag(f Flag) bool {
	for _, got := range i.Flags {
		if got == f {
			return true
		}
	}
	return false
}

// RegistrationNumber returns the number recorded on the REGISTERED legal
// status, if any.
func (i EventIndex) RegistrationNumber() string {
	if ls, ok := i.LegalStatuses[StatusRegistered]; ok {
		return ls.RegistrationNumber
	}
	return ""
}

// Location is one node in the office/jurisdiction hierarchy.
type Location struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	Name     string `json:"name"`
}
