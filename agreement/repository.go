package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"actionkeeper/terms"
)

// Querier is the read surface shared by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository owns the SQL for the agreements, events and outbox tables.
// Mutating methods run inside the caller's transaction so the row lock taken
// by GetForUpdate covers the whole read-validate-write-append sequence.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const agreementColumns = `
id, party_a_label, party_b_label, negotiation_state, terms, pending_terms,
last_proposed_by, party_a_confirmed_at, party_b_confirmed_at, accepted_at,
hash, hash_version, payment_id::text, created_at, updated_at`

func scanAgreement(row pgx.Row) (Agreement, error) {
	var (
		a          Agreement
		termsRaw   []byte
		pendingRaw []byte
	)
	err := row.Scan(
		&a.ID,
		&a.PartyALabel,
		&a.PartyBLabel,
		&a.NegotiationState,
		&termsRaw,
		&pendingRaw,
		&a.LastProposedBy,
		&a.PartyAConfirmed,
		&a.PartyBConfirmed,
		&a.AcceptedAt,
		&a.Hash,
		&a.HashVersion,
		&a.PaymentID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Agreement{}, err
	}
	if err := json.Unmarshal(termsRaw, &a.Terms); err != nil {
		return Agreement{}, fmt.Errorf("agreement: decode terms: %w", err)
	}
	if len(pendingRaw) > 0 {
		var pending terms.TermSet
		if err := json.Unmarshal(pendingRaw, &pending); err != nil {
			return Agreement{}, fmt.Errorf("agreement: decode pending terms: %w", err)
		}
		a.PendingTerms = &pending
	}
	return a, nil
}

func marshalTerms(t terms.TermSet) ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("agreement: encode terms: %w", err)
	}
	return b, nil
}

func marshalPending(t *terms.TermSet) ([]byte, error) {
	if t == nil {
		return nil, nil
	}
	return marshalTerms(*t)
}

// Insert writes the initial row. The caller assigns the identifier.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, a Agreement) (Agreement, error) {
	termsJSON, err := marshalTerms(a.Terms)
	if err != nil {
		return Agreement{}, err
	}

	const insertSQL = `
INSERT INTO agreements (id, party_a_label, party_b_label, negotiation_state, terms, payment_id)
VALUES ($1, $2, $3, $4::negotiation_state, $5::jsonb, $6::uuid)
RETURNING ` + agreementColumns

	var paymentID any
	if a.PaymentID != nil {
		paymentID = *a.PaymentID
	}

	created, err := scanAgreement(tx.QueryRow(ctx, insertSQL,
		a.ID,
		a.PartyALabel,
		a.PartyBLabel,
		a.NegotiationState,
		termsJSON,
		paymentID,
	))
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: insert: %w", err)
	}
	return created, nil
}

// GetForUpdate loads the row under a row-level lock, serializing all mutating
// actions against the same agreement for the duration of the transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Agreement, error) {
	const query = `SELECT ` + agreementColumns + ` FROM agreements WHERE id = $1 FOR UPDATE`
	a, err := scanAgreement(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: lock row: %w", err)
	}
	return a, nil
}

// Update persists the negotiation fields of a transitioned agreement. The
// expectedUpdatedAt guard backs up the row lock: a mismatch means the
// snapshot the caller validated against is gone.
func (r *Repository) Update(ctx context.Context, tx pgx.Tx, a Agreement, expectedUpdatedAt time.Time) (Agreement, error) {
	termsJSON, err := marshalTerms(a.Terms)
	if err != nil {
		return Agreement{}, err
	}
	pendingJSON, err := marshalPending(a.PendingTerms)
	if err != nil {
		return Agreement{}, err
	}

	const updateSQL = `
UPDATE agreements
SET negotiation_state = $2::negotiation_state,
    terms = $3::jsonb,
    pending_terms = $4::jsonb,
    last_proposed_by = $5,
    party_a_confirmed_at = $6,
    party_b_confirmed_at = $7,
    accepted_at = $8,
    hash = $9,
    hash_version = $10,
    updated_at = now()
WHERE id = $1 AND updated_at = $11
RETURNING ` + agreementColumns

	updated, err := scanAgreement(tx.QueryRow(ctx, updateSQL,
		a.ID,
		a.NegotiationState,
		termsJSON,
		pendingJSON,
		a.LastProposedBy,
		a.PartyAConfirmed,
		a.PartyBConfirmed,
		a.AcceptedAt,
		a.Hash,
		a.HashVersion,
		expectedUpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrStaleState
		}
		return Agreement{}, fmt.Errorf("agreement: update: %w", err)
	}
	return updated, nil
}

// AppendEvent writes the next transcript entry. The seq subquery runs under
// the agreement row lock, so numbering stays gap-free and monotonic.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, agreementID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal event payload: %w", err)
	}

	const insertSQL = `
INSERT INTO events (agreement_id, seq, event_type, payload)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3::jsonb
FROM events WHERE agreement_id = $1
`
	if _, err := tx.Exec(ctx, insertSQL, agreementID, eventType, body); err != nil {
		return fmt.Errorf("agreement: append event: %w", err)
	}
	return nil
}

// EnqueueOutbox records a message for downstream delivery in the same
// transaction as the transition it announces.
func (r *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("agreement: enqueue outbox: %w", err)
	}
	return nil
}

// PaymentSettled reports whether the referenced payment row exists and is paid.
func (r *Repository) PaymentSettled(ctx context.Context, tx pgx.Tx, paymentID string) (bool, error) {
	var settled bool
	err := tx.QueryRow(ctx,
		`SELECT status = 'paid' FROM payments WHERE id = $1`, paymentID,
	).Scan(&settled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("agreement: check payment: %w", err)
	}
	return settled, nil
}

// Get returns the latest committed snapshot without locking.
func (r *Repository) Get(ctx context.Context, q Querier, id string) (Agreement, error) {
	const query = `SELECT ` + agreementColumns + ` FROM agreements WHERE id = $1`
	a, err := scanAgreement(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get: %w", err)
	}
	return a, nil
}

// GetByHash resolves an agreement from its receipt fingerprint.
func (r *Repository) GetByHash(ctx context.Context, q Querier, hash string) (Agreement, error) {
	const query = `SELECT ` + agreementColumns + ` FROM agreements WHERE hash = $1`
	a, err := scanAgreement(q.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get by hash: %w", err)
	}
	return a, nil
}

// List pages through agreements, optionally filtered by negotiation state.
func (r *Repository) List(ctx context.Context, q Querier, filters ListFilters) ([]Agreement, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	const query = `
SELECT ` + agreementColumns + `
FROM agreements
WHERE ($1 = '' OR negotiation_state = $1::negotiation_state)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`
	rows, err := q.Query(ctx, query, filters.NegotiationState, filters.PageSize, (filters.Page-1)*filters.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("agreement: list: %w", err)
	}
	defer rows.Close()

	items := []Agreement{}
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("agreement: scan listing: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("agreement: iterate listing: %w", err)
	}

	var total int
	const countQuery = `SELECT COUNT(*) FROM agreements WHERE ($1 = '' OR negotiation_state = $1::negotiation_state)`
	if err := q.QueryRow(ctx, countQuery, filters.NegotiationState).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("agreement: count: %w", err)
	}
	return items, total, nil
}

// ListEvents returns the full transcript in append order. Callers may
// re-fetch from the start at any time; no cursor is held server-side.
func (r *Repository) ListEvents(ctx context.Context, q Querier, agreementID string) ([]Event, error) {
	const query = `
SELECT id, agreement_id, seq, event_type, payload, created_at
FROM events
WHERE agreement_id = $1
ORDER BY seq ASC
`
	rows, err := q.Query(ctx, query, agreementID)
	if err != nil {
		return nil, fmt.Errorf("agreement: list events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AgreementID, &e.Seq, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("agreement: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agreement: iterate events: %w", err)
	}
	return events, nil
}
