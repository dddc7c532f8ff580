// Package receipt issues and verifies the tamper-evident fingerprint of an
// accepted agreement: a SHA-256 over a canonical serialization of the locked
// state, plus the downloadable receipt artifact embedding it.
package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"actionkeeper/agreement"
	"actionkeeper/terms"
)

// HashVersion tags fingerprints so the canonical form can evolve without
// invalidating issued receipts.
const HashVersion = "v1"

// ErrNotAccepted is returned when a fingerprint is requested before the
// negotiation reached its terminal accepted state.
var ErrNotAccepted = errors.New("receipt: agreement is not accepted")

// canonicalTerms flattens a term set into deterministic primitives: amounts
// at a fixed two decimal places, rates in minimal form, dates as plain
// YYYY-MM-DD. encoding/json sorts map keys, which gives the stable ordering.
func canonicalTerms(t terms.TermSet) map[string]any {
	out := map[string]any{
		"stake_pct":     t.StakePct.String(),
		"buy_in_amount": t.BuyInAmount.StringFixed(2),
		"markup":        t.Markup.String(),
		"payout_basis":  string(t.PayoutBasis),
		"bullet_cap":    t.BulletCap,
		"event_date":    nil,
		"due_date":      nil,
		"notes":         t.Notes,
	}
	if t.EventDate != nil {
		out["event_date"] = t.EventDate.UTC().Format("2006-01-02")
	}
	if t.DueDate != nil {
		out["due_date"] = t.DueDate.UTC().Format("2006-01-02")
	}
	return out
}

func canonicalPayload(a agreement.Agreement) (map[string]any, error) {
	if a.NegotiationState != agreement.StateAccepted || a.AcceptedAt == nil {
		return nil, ErrNotAccepted
	}
	return map[string]any{
		"agreement_id":  a.ID,
		"party_a_label": a.PartyALabel,
		"party_b_label": a.PartyBLabel,
		"accepted_at":   a.AcceptedAt.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z"),
		"terms":         canonicalTerms(a.Terms),
	}, nil
}

// Fingerprinter computes the locked-state hash. It satisfies
// agreement.Fingerprinter so the state machine can stamp the hash inside the
// accepting transaction.
type Fingerprinter struct{}

func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

// Fingerprint returns the hash version and the hex SHA-256 of the canonical
// serialization of {agreement id, final terms, party labels, acceptance
// timestamp}.
func (f *Fingerprinter) Fingerprint(a agreement.Agreement) (string, string, error) {
	payload, err := canonicalPayload(a)
	if err != nil {
		return "", "", err
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("receipt: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return HashVersion, hex.EncodeToString(sum[:]), nil
}
