package agreement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"actionkeeper/terms"
)

// DB abstracts pgxpool.Pool: transactions for mutations, plain queries for
// snapshot reads.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access the state machine needs.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, a Agreement) (Agreement, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Agreement, error)
	Update(ctx context.Context, tx pgx.Tx, a Agreement, expectedUpdatedAt time.Time) (Agreement, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, agreementID, eventType string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
	PaymentSettled(ctx context.Context, tx pgx.Tx, paymentID string) (bool, error)
	Get(ctx context.Context, q Querier, id string) (Agreement, error)
	GetByHash(ctx context.Context, q Querier, hash string) (Agreement, error)
	List(ctx context.Context, q Querier, filters ListFilters) ([]Agreement, int, error)
	ListEvents(ctx context.Context, q Querier, agreementID string) ([]Event, error)
}

// Fingerprinter derives the tamper-evident hash over a freshly accepted
// agreement. Implemented by the receipt package.
type Fingerprinter interface {
	Fingerprint(a Agreement) (version string, hash string, err error)
}

// Service is the negotiation state machine. Every mutating operation runs
// read-under-lock, validate, write, append event, enqueue outbox and commit
// in a single transaction.
type Service struct {
	db    DB
	store Store
	fp    Fingerprinter
	idGen func() string
	now   func() time.Time
}

func NewService(db DB, store Store, fp Fingerprinter) *Service {
	if store == nil {
		store = NewRepository()
	}
	return &Service{
		db:    db,
		store: store,
		fp:    fp,
		idGen: func() string { return uuid.NewString() },
		now:   time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates the initial terms and opens the negotiation in
// awaiting_confirmation.
func (s *Service) Create(ctx context.Context, params CreateParams) (Agreement, error) {
	if err := params.Terms.Validate(); err != nil {
		return Agreement{}, err
	}
	if params.PartyALabel == "" || params.PartyBLabel == "" {
		return Agreement{}, &terms.ValidationError{Field: "party_labels", Reason: "both party labels are required"}
	}
	if params.PartyALabel == params.PartyBLabel {
		return Agreement{}, &terms.ValidationError{Field: "party_labels", Reason: "party labels must differ"}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if params.PaymentID != "" {
		settled, err := s.store.PaymentSettled(ctx, tx, params.PaymentID)
		if err != nil {
			return Agreement{}, err
		}
		if !settled {
			return Agreement{}, ErrPaymentNotSettled
		}
	}

	a := Agreement{
		ID:               s.idGen(),
		PartyALabel:      params.PartyALabel,
		PartyBLabel:      params.PartyBLabel,
		NegotiationState: StateAwaitingConfirmation,
		Terms:            params.Terms,
	}
	if params.PaymentID != "" {
		a.PaymentID = &params.PaymentID
	}

	created, err := s.store.Insert(ctx, tx, a)
	if err != nil {
		return Agreement{}, err
	}

	eventPayload := map[string]any{
		"party_a_label": created.PartyALabel,
		"party_b_label": created.PartyBLabel,
		"terms":         created.Terms,
	}
	if created.PaymentID != nil {
		eventPayload["payment_id"] = *created.PaymentID
	}
	if err := s.store.AppendEvent(ctx, tx, created.ID, EventAgreementCreated, eventPayload); err != nil {
		return Agreement{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, OutboxTopicCreated, map[string]any{"agreement_id": created.ID}); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit create: %w", err)
	}
	return created, nil
}

// Accept records one party's confirmation. While countered it finalizes the
// other party's open proposal; while awaiting_confirmation it arms one side
// and the agreement locks only when both sides have confirmed.
func (s *Service) Accept(ctx context.Context, id, accepterLabel string) (Agreement, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Agreement{}, err
	}

	next, outcome, err := applyAccept(current, accepterLabel, s.now().UTC())
	if err != nil {
		return Agreement{}, err
	}

	if next.NegotiationState == StateAccepted {
		version, hash, err := s.fp.Fingerprint(next)
		if err != nil {
			return Agreement{}, fmt.Errorf("agreement: fingerprint: %w", err)
		}
		next.Hash = &hash
		next.HashVersion = &version
	}

	updated, err := s.store.Update(ctx, tx, next, current.UpdatedAt)
	if err != nil {
		return Agreement{}, err
	}

	eventPayload := map[string]any{
		"accepter":       outcome.Accepter,
		"both_confirmed": outcome.BothConfirmed,
	}
	if updated.Hash != nil {
		eventPayload["hash"] = *updated.Hash
	}
	if err := s.store.AppendEvent(ctx, tx, updated.ID, EventAgreementAccepted, eventPayload); err != nil {
		return Agreement{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, OutboxTopicAccepted, map[string]any{
		"agreement_id":   updated.ID,
		"both_confirmed": outcome.BothConfirmed,
	}); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit accept: %w", err)
	}
	return updated, nil
}

// Counter replaces the open proposal with a new term set from the party whose
// turn it is. The diff against the current baseline is recorded in the event
// log; an empty diff is rejected.
func (s *Service) Counter(ctx context.Context, id, proposerLabel string, proposal terms.TermSet, notes string) (Agreement, error) {
	if notes != "" {
		proposal.Notes = notes
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Agreement{}, err
	}

	next, changes, err := applyCounter(current, proposerLabel, proposal)
	if err != nil {
		return Agreement{}, err
	}

	updated, err := s.store.Update(ctx, tx, next, current.UpdatedAt)
	if err != nil {
		return Agreement{}, err
	}

	eventPayload := map[string]any{
		"proposer":     proposerLabel,
		"term_changes": changes,
	}
	if notes != "" {
		eventPayload["notes"] = notes
	}
	if err := s.store.AppendEvent(ctx, tx, updated.ID, EventNegotiationCountered, eventPayload); err != nil {
		return Agreement{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, OutboxTopicCountered, map[string]any{
		"agreement_id": updated.ID,
		"proposer":     proposerLabel,
	}); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit counter: %w", err)
	}
	return updated, nil
}

// Decline ends the negotiation unconditionally.
func (s *Service) Decline(ctx context.Context, id, declinerLabel, reason string) (Agreement, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Agreement{}, err
	}

	next, err := applyDecline(current, declinerLabel)
	if err != nil {
		return Agreement{}, err
	}

	updated, err := s.store.Update(ctx, tx, next, current.UpdatedAt)
	if err != nil {
		return Agreement{}, err
	}

	eventPayload := map[string]any{"decliner": declinerLabel}
	if reason != "" {
		eventPayload["reason"] = reason
	}
	if err := s.store.AppendEvent(ctx, tx, updated.ID, EventAgreementDeclined, eventPayload); err != nil {
		return Agreement{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, OutboxTopicDeclined, map[string]any{"agreement_id": updated.ID}); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit decline: %w", err)
	}
	return updated, nil
}

// Get returns the latest committed snapshot. No lock is taken; pollers are
// expected to re-fetch rather than block.
func (s *Service) Get(ctx context.Context, id string) (Agreement, error) {
	return s.store.Get(ctx, s.db, id)
}

// GetByHash resolves an agreement from its receipt fingerprint.
func (s *Service) GetByHash(ctx context.Context, hash string) (Agreement, error) {
	return s.store.GetByHash(ctx, s.db, hash)
}

// List pages agreements, optionally filtered by negotiation state.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Agreement, int, error) {
	return s.store.List(ctx, s.db, filters)
}

// ListEvents returns the append-only transcript in order.
func (s *Service) ListEvents(ctx context.Context, id string) ([]Event, error) {
	return s.store.ListEvents(ctx, s.db, id)
}
