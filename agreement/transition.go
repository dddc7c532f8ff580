package agreement

import (
	"time"

	"actionkeeper/terms"
)

// The transition functions below are the authoritative negotiation rules.
// They take the locked row snapshot, apply one action, and return the updated
// row. They never touch storage; the service runs them inside the
// per-agreement transaction.

// AcceptOutcome reports how an accept landed.
type AcceptOutcome struct {
	Accepter      string
	BothConfirmed bool
}

func applyAccept(a Agreement, accepter string, now time.Time) (Agreement, AcceptOutcome, error) {
	if a.NegotiationState.Terminal() {
		return a, AcceptOutcome{}, ErrAlreadyTerminal
	}
	if !a.KnownParty(accepter) {
		return a, AcceptOutcome{}, ErrUnknownActor
	}

	outcome := AcceptOutcome{Accepter: accepter}

	switch a.NegotiationState {
	case StateCountered:
		if a.LastProposedBy != nil && *a.LastProposedBy == accepter {
			// A party cannot accept its own open proposal.
			return a, AcceptOutcome{}, ErrOutOfTurn
		}
		pending := *a.PendingTerms
		a.Terms = pending
		a.PendingTerms = nil
		a.NegotiationState = StateAccepted
		a.PartyAConfirmed = &now
		a.PartyBConfirmed = &now
		a.AcceptedAt = &now
		outcome.BothConfirmed = true
		return a, outcome, nil

	case StateAwaitingConfirmation:
		if accepter == a.PartyALabel && a.PartyAConfirmed == nil {
			a.PartyAConfirmed = &now
		}
		if accepter == a.PartyBLabel && a.PartyBConfirmed == nil {
			a.PartyBConfirmed = &now
		}
		if a.PartyAConfirmed != nil && a.PartyBConfirmed != nil {
			a.NegotiationState = StateAccepted
			a.AcceptedAt = &now
			outcome.BothConfirmed = true
		}
		return a, outcome, nil

	default:
		return a, AcceptOutcome{}, ErrStaleState
	}
}

func applyCounter(a Agreement, proposer string, proposal terms.TermSet) (Agreement, map[string]terms.Change, error) {
	if a.NegotiationState.Terminal() {
		return a, nil, ErrAlreadyTerminal
	}
	if !a.KnownParty(proposer) {
		return a, nil, ErrUnknownActor
	}
	if a.LastProposedBy != nil && *a.LastProposedBy == proposer {
		return a, nil, ErrOutOfTurn
	}
	if err := proposal.Validate(); err != nil {
		return a, nil, err
	}
	if !proposal.BuyInAmount.Equal(a.Terms.BuyInAmount) {
		return a, nil, &terms.ValidationError{
			Field:  "buy_in_amount",
			Reason: "locked once proposed and cannot be countered",
		}
	}

	changes := terms.Diff(a.Baseline(), proposal)
	if len(changes) == 0 {
		return a, nil, ErrNoOpCounter
	}

	a.PendingTerms = &proposal
	a.LastProposedBy = &proposer
	a.NegotiationState = StateCountered
	// A counter reopens the question; prior confirmations no longer stand.
	a.PartyAConfirmed = nil
	a.PartyBConfirmed = nil
	return a, changes, nil
}

func applyDecline(a Agreement, decliner string) (Agreement, error) {
	if a.NegotiationState.Terminal() {
		return a, ErrAlreadyTerminal
	}
	if !a.KnownParty(decliner) {
		return a, ErrUnknownActor
	}
	// An open counter dies with the negotiation.
	a.PendingTerms = nil
	a.LastProposedBy = nil
	a.NegotiationState = StateDeclined
	return a, nil
}
