package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"actionkeeper/agreement"
	"actionkeeper/receipt"
	"actionkeeper/terms"
)

// expectedUnderContention reports whether err is one of the domain refusals
// that concurrent negotiators legitimately run into.
func expectedUnderContention(err error) bool {
	return errors.Is(err, agreement.ErrOutOfTurn) ||
		errors.Is(err, agreement.ErrAlreadyTerminal) ||
		errors.Is(err, agreement.ErrNoOpCounter) ||
		errors.Is(err, agreement.ErrStaleState) ||
		errors.Is(err, agreement.ErrUnknownActor) ||
		errors.Is(err, agreement.ErrNotFound) ||
		errors.Is(err, terms.ErrInvalidTerms)
}

func baseTerms() terms.TermSet {
	return terms.TermSet{
		StakePct:    decimal.NewFromInt(int64(5 + rand.Intn(45))),
		BuyInAmount: decimal.NewFromInt(int64(100 * (1 + rand.Intn(50)))),
		Markup:      decimal.RequireFromString("1.1"),
		PayoutBasis: terms.PayoutNetProfit,
		BulletCap:   1 + rand.Intn(3),
	}
}

// Creator keeps opening fresh negotiations so the other actors always have
// live agreements to fight over.
func Creator(ctx context.Context, svc *agreement.Service, partyA, partyB string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.Create(ctx, agreement.CreateParams{
			Terms:       baseTerms(),
			PartyALabel: partyA,
			PartyBLabel: partyB,
		}); err != nil && !expectedUnderContention(err) {
			return fmt.Errorf("creator: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// Negotiator picks a random open agreement and counters, accepts or declines
// as one of its two parties. Turn violations and lost races are expected; any
// other failure aborts the run.
func Negotiator(ctx context.Context, pool *pgxpool.Pool, svc *agreement.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id, partyA, partyB string
		err := pool.QueryRow(ctx, `SELECT id, party_a_label, party_b_label FROM agreements
                                   WHERE negotiation_state IN ('awaiting_confirmation','countered')
                                   ORDER BY random() LIMIT 1`).Scan(&id, &partyA, &partyB)
		if err != nil {
			time.Sleep(30 * time.Millisecond)
			continue
		}

		actor := partyA
		if rand.Intn(2) == 0 {
			actor = partyB
		}

		switch rand.Intn(10) {
		case 0:
			// rare decline so most runs negotiate to acceptance
			_, err = svc.Decline(ctx, id, actor, "stress decline")
		case 1, 2, 3:
			_, err = svc.Accept(ctx, id, actor)
		default:
			proposal := baseTerms()
			_, err = svc.Counter(ctx, id, actor, proposal, "")
		}
		if err != nil && !expectedUnderContention(err) {
			return fmt.Errorf("negotiator %s on %s: %w", actor, id, err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Verifier replays stored receipts: every accepted agreement must verify true
// against its own stored hash, never false.
func Verifier(ctx context.Context, pool *pgxpool.Pool, verify *receipt.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id, hash string
		err := pool.QueryRow(ctx, `SELECT id, hash FROM agreements
                                   WHERE negotiation_state = 'accepted' AND hash IS NOT NULL
                                   ORDER BY random() LIMIT 1`).Scan(&id, &hash)
		if err == nil {
			result, verr := verify.Verify(ctx, id, hash)
			if verr != nil && !expectedUnderContention(verr) {
				return fmt.Errorf("verifier on %s: %w", id, verr)
			}
			if verr == nil && !result.Valid {
				return fmt.Errorf("verifier: stored hash of %s failed verification", id)
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, occasionally simulating a delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed' WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
