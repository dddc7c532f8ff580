package terms

// Change records one field moving between two term sets.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Negotiable field names as they appear in diffs and event payloads.
const (
	FieldStakePct    = "stake_pct"
	FieldMarkup      = "markup"
	FieldPayoutBasis = "payout_basis"
	FieldBulletCap   = "bullet_cap"
)

// Diff compares the negotiable fields of two term sets and returns the
// changed ones keyed by field name. buy_in_amount and the party labels are
// immutable anchors and are never diffed. Numeric comparison is exact, no
// rounding is applied. An empty map means the sets agree.
func Diff(old, updated TermSet) map[string]Change {
	changes := make(map[string]Change)
	if !old.StakePct.Equal(updated.StakePct) {
		changes[FieldStakePct] = Change{From: old.StakePct.String(), To: updated.StakePct.String()}
	}
	if !old.Markup.Equal(updated.Markup) {
		changes[FieldMarkup] = Change{From: old.Markup.String(), To: updated.Markup.String()}
	}
	if old.PayoutBasis != updated.PayoutBasis {
		changes[FieldPayoutBasis] = Change{From: string(old.PayoutBasis), To: string(updated.PayoutBasis)}
	}
	if old.BulletCap != updated.BulletCap {
		changes[FieldBulletCap] = Change{From: old.BulletCap, To: updated.BulletCap}
	}
	return changes
}
