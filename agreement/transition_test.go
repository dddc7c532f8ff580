package agreement

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"actionkeeper/terms"
)

func baseTerms() terms.TermSet {
	return terms.TermSet{
		StakePct:    decimal.NewFromInt(10),
		BuyInAmount: decimal.NewFromInt(1000),
		Markup:      decimal.RequireFromString("1.0"),
		PayoutBasis: terms.PayoutGrossPayout,
		BulletCap:   1,
	}
}

func openAgreement() Agreement {
	return Agreement{
		ID:               "agr-1",
		PartyALabel:      "Alice",
		PartyBLabel:      "Bob",
		NegotiationState: StateAwaitingConfirmation,
		Terms:            baseTerms(),
	}
}

func TestCounter_RecordsPendingTermsAndProposer(t *testing.T) {
	a := openAgreement()
	proposal := baseTerms()
	proposal.StakePct = decimal.NewFromInt(15)

	next, changes, err := applyCounter(a, "Bob", proposal)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if next.NegotiationState != StateCountered {
		t.Fatalf("expected countered, got %s", next.NegotiationState)
	}
	if next.PendingTerms == nil || !next.PendingTerms.StakePct.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected pending stake 15, got %+v", next.PendingTerms)
	}
	if next.LastProposedBy == nil || *next.LastProposedBy != "Bob" {
		t.Fatalf("expected last proposer Bob, got %v", next.LastProposedBy)
	}
	if len(changes) != 1 {
		t.Fatalf("expected a single change, got %+v", changes)
	}
	change := changes[terms.FieldStakePct]
	if change.From != "10" || change.To != "15" {
		t.Fatalf("unexpected stake change: %+v", change)
	}
	// Baseline terms stay untouched until acceptance.
	if !next.Terms.StakePct.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("baseline terms mutated: %+v", next.Terms)
	}
}

func TestCounter_SamePartyTwiceIsOutOfTurn(t *testing.T) {
	a := openAgreement()
	proposal := baseTerms()
	proposal.StakePct = decimal.NewFromInt(15)

	countered, _, err := applyCounter(a, "Bob", proposal)
	if err != nil {
		t.Fatalf("first counter: %v", err)
	}

	again := proposal
	again.StakePct = decimal.NewFromInt(20)
	if _, _, err := applyCounter(countered, "Bob", again); !errors.Is(err, ErrOutOfTurn) {
		t.Fatalf("expected ErrOutOfTurn, got %v", err)
	}
}

func TestCounter_EmptyDiffIsNoOp(t *testing.T) {
	a := openAgreement()
	if _, _, err := applyCounter(a, "Bob", baseTerms()); !errors.Is(err, ErrNoOpCounter) {
		t.Fatalf("expected ErrNoOpCounter, got %v", err)
	}
}

func TestCounter_DiffsAgainstPendingBaseline(t *testing.T) {
	a := openAgreement()
	first := baseTerms()
	first.StakePct = decimal.NewFromInt(15)
	countered, _, err := applyCounter(a, "Bob", first)
	if err != nil {
		t.Fatalf("first counter: %v", err)
	}

	// Alice re-proposing Bob's own pending terms changes nothing.
	if _, _, err := applyCounter(countered, "Alice", first); !errors.Is(err, ErrNoOpCounter) {
		t.Fatalf("expected ErrNoOpCounter against pending baseline, got %v", err)
	}

	second := first
	second.Markup = decimal.RequireFromString("1.2")
	next, changes, err := applyCounter(countered, "Alice", second)
	if err != nil {
		t.Fatalf("second counter: %v", err)
	}
	if len(changes) != 1 || changes[terms.FieldMarkup].To != "1.2" {
		t.Fatalf("expected markup-only diff against pending terms, got %+v", changes)
	}
	if *next.LastProposedBy != "Alice" {
		t.Fatalf("expected proposer Alice, got %v", next.LastProposedBy)
	}
}

func TestCounter_UnknownProposer(t *testing.T) {
	proposal := baseTerms()
	proposal.StakePct = decimal.NewFromInt(15)
	if _, _, err := applyCounter(openAgreement(), "Mallory", proposal); !errors.Is(err, ErrUnknownActor) {
		t.Fatalf("expected ErrUnknownActor, got %v", err)
	}
}

func TestCounter_InvalidTermsRejected(t *testing.T) {
	proposal := baseTerms()
	proposal.StakePct = decimal.NewFromInt(150)
	if _, _, err := applyCounter(openAgreement(), "Bob", proposal); !errors.Is(err, terms.ErrInvalidTerms) {
		t.Fatalf("expected ErrInvalidTerms, got %v", err)
	}
}

func TestCounter_BuyInIsLocked(t *testing.T) {
	proposal := baseTerms()
	proposal.StakePct = decimal.NewFromInt(15)
	proposal.BuyInAmount = decimal.NewFromInt(2000)

	_, _, err := applyCounter(openAgreement(), "Bob", proposal)
	if !errors.Is(err, terms.ErrInvalidTerms) {
		t.Fatalf("expected ErrInvalidTerms, got %v", err)
	}
	var verr *terms.ValidationError
	if !errors.As(err, &verr) || verr.Field != "buy_in_amount" {
		t.Fatalf("expected buy_in_amount to be named, got %v", err)
	}
}

func TestCounter_ResetsConfirmations(t *testing.T) {
	now := time.Now().UTC()
	a := openAgreement()
	confirmed, _, err := applyAccept(a, "Alice", now)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if confirmed.PartyAConfirmed == nil {
		t.Fatalf("expected Alice confirmation stamped")
	}

	proposal := baseTerms()
	proposal.StakePct = decimal.NewFromInt(12)
	next, _, err := applyCounter(confirmed, "Bob", proposal)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if next.PartyAConfirmed != nil || next.PartyBConfirmed != nil {
		t.Fatalf("expected confirmations cleared after counter")
	}
}

func TestAccept_CounteredPromotesPendingTerms(t *testing.T) {
	now := time.Now().UTC()
	a := openAgreement()
	proposal := baseTerms()
	proposal.StakePct = decimal.NewFromInt(15)
	countered, _, err := applyCounter(a, "Bob", proposal)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}

	next, outcome, err := applyAccept(countered, "Alice", now)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if next.NegotiationState != StateAccepted {
		t.Fatalf("expected accepted, got %s", next.NegotiationState)
	}
	if !next.Terms.StakePct.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected promoted stake 15, got %s", next.Terms.StakePct)
	}
	if next.PendingTerms != nil {
		t.Fatalf("expected pending terms cleared")
	}
	if !outcome.BothConfirmed {
		t.Fatalf("expected both_confirmed on finalizing accept")
	}
	if next.AcceptedAt == nil || !next.AcceptedAt.Equal(now) {
		t.Fatalf("expected acceptance timestamp %v, got %v", now, next.AcceptedAt)
	}
}

func TestAccept_ByLastProposerIsOutOfTurn(t *testing.T) {
	a := openAgreement()
	proposal := baseTerms()
	proposal.StakePct = decimal.NewFromInt(15)
	countered, _, err := applyCounter(a, "Bob", proposal)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}

	if _, _, err := applyAccept(countered, "Bob", time.Now().UTC()); !errors.Is(err, ErrOutOfTurn) {
		t.Fatalf("expected ErrOutOfTurn, got %v", err)
	}
}

func TestAccept_AwaitingConfirmationNeedsBothParties(t *testing.T) {
	now := time.Now().UTC()
	a := openAgreement()

	first, outcome, err := applyAccept(a, "Alice", now)
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if first.NegotiationState != StateAwaitingConfirmation {
		t.Fatalf("single accept must not finalize, got %s", first.NegotiationState)
	}
	if outcome.BothConfirmed {
		t.Fatalf("expected both_confirmed false after one side")
	}

	second, outcome, err := applyAccept(first, "Bob", now.Add(time.Second))
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if second.NegotiationState != StateAccepted {
		t.Fatalf("expected accepted after both confirm, got %s", second.NegotiationState)
	}
	if !outcome.BothConfirmed {
		t.Fatalf("expected both_confirmed true")
	}
}

func TestAccept_UnknownActor(t *testing.T) {
	if _, _, err := applyAccept(openAgreement(), "Mallory", time.Now().UTC()); !errors.Is(err, ErrUnknownActor) {
		t.Fatalf("expected ErrUnknownActor, got %v", err)
	}
}

func TestDecline_IsUnconditionalAndTerminal(t *testing.T) {
	a := openAgreement()
	proposal := baseTerms()
	proposal.StakePct = decimal.NewFromInt(15)
	countered, _, err := applyCounter(a, "Bob", proposal)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}

	declined, err := applyDecline(countered, "Alice")
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if declined.NegotiationState != StateDeclined {
		t.Fatalf("expected declined, got %s", declined.NegotiationState)
	}
	if declined.PendingTerms != nil {
		t.Fatalf("expected open counter discarded on decline, got %+v", declined.PendingTerms)
	}
	if declined.LastProposedBy != nil {
		t.Fatalf("expected last_proposed_by cleared on decline, got %q", *declined.LastProposedBy)
	}

	if _, _, err := applyAccept(declined, "Bob", time.Now().UTC()); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestTerminalStatesRejectEveryAction(t *testing.T) {
	now := time.Now().UTC()
	proposal := baseTerms()
	proposal.StakePct = decimal.NewFromInt(15)

	for _, state := range []NegotiationState{StateAccepted, StateDeclined} {
		a := openAgreement()
		a.NegotiationState = state
		before := a

		if _, _, err := applyAccept(a, "Alice", now); !errors.Is(err, ErrAlreadyTerminal) {
			t.Fatalf("%s accept: expected ErrAlreadyTerminal, got %v", state, err)
		}
		if _, _, err := applyCounter(a, "Alice", proposal); !errors.Is(err, ErrAlreadyTerminal) {
			t.Fatalf("%s counter: expected ErrAlreadyTerminal, got %v", state, err)
		}
		if _, err := applyDecline(a, "Alice"); !errors.Is(err, ErrAlreadyTerminal) {
			t.Fatalf("%s decline: expected ErrAlreadyTerminal, got %v", state, err)
		}
		if a.NegotiationState != before.NegotiationState {
			t.Fatalf("terminal state mutated: %s -> %s", before.NegotiationState, a.NegotiationState)
		}
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := map[NegotiationState]Status{
		StateAwaitingConfirmation: StatusDraft,
		StateCountered:            StatusDraft,
		StateAccepted:             StatusActive,
		StateDeclined:             StatusDeclined,
	}
	for state, want := range cases {
		if got := DeriveStatus(state); got != want {
			t.Fatalf("DeriveStatus(%s) = %s, want %s", state, got, want)
		}
	}
}
