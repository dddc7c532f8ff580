// Package payment is the checkout collaborator of the negotiation core: a
// thin placeholder that records a checkout session and flips it to paid when
// the provider webhook confirms completion.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// Webhook event names recognized from the provider.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentFailed     = "payment.failed"
)

var (
	// ErrNotFound is returned when no payment row exists for the identifier.
	ErrNotFound = errors.New("payment: not found")
	// ErrInvalidAmount signals a non-positive checkout amount.
	ErrInvalidAmount = errors.New("payment: amount must be positive")
)

// Payment mirrors the payments table.
type Payment struct {
	ID          string
	AmountCents int64
	Currency    string
	SessionID   string
	Status      Status
	PaidAt      *time.Time
	CreatedAt   time.Time
}

// Service creates checkout sessions and applies provider webhooks.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// CreateCheckout records a pending payment and returns the provider checkout
// URL the payer is redirected to.
func (s *Service) CreateCheckout(ctx context.Context, amountCents int64, currency string) (Payment, string, error) {
	if amountCents <= 0 {
		return Payment{}, "", ErrInvalidAmount
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}

	sessionID, err := newSessionID()
	if err != nil {
		return Payment{}, "", err
	}

	const insertSQL = `
INSERT INTO payments (amount_cents, currency, session_id, status)
VALUES ($1, $2, $3, 'pending')
RETURNING id, amount_cents, currency, session_id, status, paid_at, created_at
`
	var p Payment
	if err := s.pool.QueryRow(ctx, insertSQL, amountCents, currency, sessionID).
		Scan(&p.ID, &p.AmountCents, &p.Currency, &p.SessionID, &p.Status, &p.PaidAt, &p.CreatedAt); err != nil {
		return Payment{}, "", fmt.Errorf("payment: insert: %w", err)
	}

	checkoutURL := "https://checkout.stripe.com/pay/" + sessionID
	return p, checkoutURL, nil
}

// HandleWebhook applies a provider event. Unknown events are ignored so the
// provider can add event types without breaking us.
func (s *Service) HandleWebhook(ctx context.Context, paymentID, event string) (Payment, error) {
	switch strings.ToLower(event) {
	case EventCheckoutCompleted:
		return s.setStatus(ctx, paymentID, StatusPaid, true)
	case EventPaymentFailed:
		return s.setStatus(ctx, paymentID, StatusFailed, false)
	default:
		return s.Get(ctx, paymentID)
	}
}

// Get returns the payment snapshot.
func (s *Service) Get(ctx context.Context, paymentID string) (Payment, error) {
	const query = `
SELECT id, amount_cents, currency, session_id, status, paid_at, created_at
FROM payments WHERE id = $1
`
	var p Payment
	if err := s.pool.QueryRow(ctx, query, paymentID).
		Scan(&p.ID, &p.AmountCents, &p.Currency, &p.SessionID, &p.Status, &p.PaidAt, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("payment: get: %w", err)
	}
	return p, nil
}

func (s *Service) setStatus(ctx context.Context, paymentID string, status Status, stampPaid bool) (Payment, error) {
	const updateSQL = `
UPDATE payments
SET status = $2,
    paid_at = CASE WHEN $3 THEN COALESCE(paid_at, now()) ELSE paid_at END
WHERE id = $1
RETURNING id, amount_cents, currency, session_id, status, paid_at, created_at
`
	var p Payment
	if err := s.pool.QueryRow(ctx, updateSQL, paymentID, status, stampPaid).
		Scan(&p.ID, &p.AmountCents, &p.Currency, &p.SessionID, &p.Status, &p.PaidAt, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("payment: set status: %w", err)
	}
	return p, nil
}

func newSessionID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("payment: session id: %w", err)
	}
	return "cs_test_" + hex.EncodeToString(raw), nil
}

// VerifyWebhookSecret compares the shared-secret header in constant time.
func VerifyWebhookSecret(secret, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	return hmac.Equal([]byte(secret), []byte(provided))
}
