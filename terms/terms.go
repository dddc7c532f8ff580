package terms

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PayoutBasis selects how the final payout is computed when the stake settles.
type PayoutBasis string

const (
	PayoutGrossPayout  PayoutBasis = "gross_payout"
	PayoutNetProfit    PayoutBasis = "net_profit"
	PayoutDilutedTotal PayoutBasis = "diluted_total"
)

// ErrInvalidTerms is the sentinel wrapped by every ValidationError.
var ErrInvalidTerms = errors.New("terms: invalid term set")

// ValidationError reports which field violated its domain so the caller can
// correct and resubmit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("terms: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTerms }

// Date is a calendar date without a time component.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.UTC().Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("terms: malformed date %s", s)
	}
	t, err := time.ParseInLocation(dateLayout, s[1:len(s)-1], time.UTC)
	if err != nil {
		return fmt.Errorf("terms: parse date: %w", err)
	}
	d.Time = t
	return nil
}

// TermSet bundles the negotiable fields of a staking agreement. It is a value
// object: two term sets with equal fields are the same terms.
type TermSet struct {
	StakePct    decimal.Decimal `json:"stake_pct"`
	BuyInAmount decimal.Decimal `json:"buy_in_amount"`
	Markup      decimal.Decimal `json:"markup"`
	PayoutBasis PayoutBasis     `json:"payout_basis"`
	BulletCap   int             `json:"bullet_cap"`
	EventDate   *Date           `json:"event_date,omitempty"`
	DueDate     *Date           `json:"due_date,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

var (
	minStakePct = decimal.NewFromInt(1)
	maxStakePct = decimal.NewFromInt(100)
	minMarkup   = decimal.RequireFromString("0.5")
	maxMarkup   = decimal.RequireFromString("2.0")
)

// Validate checks every field domain plus the freeze-out rule: a single-bullet
// structure cannot pay out on a diluted multi-entry basis.
func (t TermSet) Validate() error {
	if t.StakePct.LessThan(minStakePct) || t.StakePct.GreaterThan(maxStakePct) {
		return &ValidationError{Field: "stake_pct", Reason: "must be between 1 and 100"}
	}
	if !t.BuyInAmount.IsPositive() {
		return &ValidationError{Field: "buy_in_amount", Reason: "must be greater than zero"}
	}
	if t.Markup.LessThan(minMarkup) || t.Markup.GreaterThan(maxMarkup) {
		return &ValidationError{Field: "markup", Reason: "must be between 0.5 and 2.0"}
	}
	switch t.PayoutBasis {
	case PayoutGrossPayout, PayoutNetProfit, PayoutDilutedTotal:
	default:
		return &ValidationError{Field: "payout_basis", Reason: fmt.Sprintf("unknown basis %q", t.PayoutBasis)}
	}
	if t.BulletCap < 1 {
		return &ValidationError{Field: "bullet_cap", Reason: "must be at least 1"}
	}
	if t.BulletCap == 1 && t.PayoutBasis == PayoutDilutedTotal {
		return &ValidationError{Field: "payout_basis", Reason: "diluted_total requires bullet_cap greater than 1"}
	}
	return nil
}
