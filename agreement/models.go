package agreement

import (
	"time"

	"actionkeeper/terms"
)

// NegotiationState is the fine-grained lifecycle of an agreement. The state
// machine in this package is the only writer.
type NegotiationState string

const (
	StateAwaitingConfirmation NegotiationState = "awaiting_confirmation"
	StateCountered            NegotiationState = "countered"
	StateAccepted             NegotiationState = "accepted"
	StateDeclined             NegotiationState = "declined"
)

// Terminal reports whether no further transition is possible.
func (s NegotiationState) Terminal() bool {
	return s == StateAccepted || s == StateDeclined
}

// Status is the coarse lifecycle tag derived from the negotiation state.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusDeclined Status = "declined"
)

// DeriveStatus maps the fine-grained state onto the coarse tag.
func DeriveStatus(s NegotiationState) Status {
	switch s {
	case StateAccepted:
		return StatusActive
	case StateDeclined:
		return StatusDeclined
	default:
		return StatusDraft
	}
}

// Agreement mirrors the agreements table. PendingTerms is non-nil exactly
// while NegotiationState is countered; Hash is set once accepted and never
// recomputed from anything but the locked snapshot.
type Agreement struct {
	ID               string
	PartyALabel      string
	PartyBLabel      string
	NegotiationState NegotiationState
	Terms            terms.TermSet
	PendingTerms     *terms.TermSet
	LastProposedBy   *string
	PartyAConfirmed  *time.Time
	PartyBConfirmed  *time.Time
	AcceptedAt       *time.Time
	Hash             *string
	HashVersion      *string
	PaymentID        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Status derives the coarse tag for API responses.
func (a Agreement) Status() Status {
	return DeriveStatus(a.NegotiationState)
}

// KnownParty reports whether label is one of the two registered parties.
func (a Agreement) KnownParty(label string) bool {
	return label == a.PartyALabel || label == a.PartyBLabel
}

// Baseline is the term set a counter is diffed against: the pending proposal
// while one is open, otherwise the locked terms.
func (a Agreement) Baseline() terms.TermSet {
	if a.PendingTerms != nil {
		return *a.PendingTerms
	}
	return a.Terms
}

// Event is one appended entry of the per-agreement transcript. Rows are
// written exactly once per successful transition and never mutated.
type Event struct {
	ID          string
	AgreementID string
	Seq         int
	Type        string
	Payload     []byte
	CreatedAt   time.Time
}

// Event types, one per state transition.
const (
	EventAgreementCreated     = "agreement_created"
	EventNegotiationCountered = "negotiation_countered"
	EventAgreementAccepted    = "agreement_accepted"
	EventAgreementDeclined    = "agreement_declined"
)

// Outbox topics published alongside the matching event.
const (
	OutboxTopicCreated   = "agreement.created"
	OutboxTopicCountered = "agreement.countered"
	OutboxTopicAccepted  = "agreement.accepted"
	OutboxTopicDeclined  = "agreement.declined"
)

// CreateParams carries the initial proposal.
type CreateParams struct {
	Terms       terms.TermSet
	PartyALabel string
	PartyBLabel string
	PaymentID   string
}

// ListFilters narrows and pages the agreement listing.
type ListFilters struct {
	NegotiationState string
	Page             int
	PageSize         int
}
