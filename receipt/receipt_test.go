package receipt

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"actionkeeper/agreement"
	"actionkeeper/terms"
)

func acceptedAgreement() agreement.Agreement {
	acceptedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return agreement.Agreement{
		ID:               "agr-1",
		PartyALabel:      "Alice",
		PartyBLabel:      "Bob",
		NegotiationState: agreement.StateAccepted,
		Terms: terms.TermSet{
			StakePct:    decimal.NewFromInt(15),
			BuyInAmount: decimal.NewFromInt(1000),
			Markup:      decimal.RequireFromString("1.0"),
			PayoutBasis: terms.PayoutGrossPayout,
			BulletCap:   1,
		},
		AcceptedAt: &acceptedAt,
		CreatedAt:  acceptedAt.Add(-time.Hour),
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	fp := NewFingerprinter()
	version, first, err := fp.Fingerprint(acceptedAgreement())
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if version != HashVersion {
		t.Fatalf("expected version %s, got %s", HashVersion, version)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}

	_, second, err := fp.Fingerprint(acceptedAgreement())
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if first != second {
		t.Fatalf("fingerprint not deterministic: %s vs %s", first, second)
	}
}

func TestFingerprint_ScaleInsensitiveNumerics(t *testing.T) {
	fp := NewFingerprinter()
	a := acceptedAgreement()
	_, base, _ := fp.Fingerprint(a)

	// 1000 and 1000.00 are the same buy-in.
	a.Terms.BuyInAmount = decimal.RequireFromString("1000.00")
	_, same, _ := fp.Fingerprint(a)
	if base != same {
		t.Fatalf("expected equal fingerprints for equal amounts")
	}
}

func TestFingerprint_SensitiveToEveryLockedField(t *testing.T) {
	fp := NewFingerprinter()
	_, base, _ := fp.Fingerprint(acceptedAgreement())

	mutations := map[string]func(*agreement.Agreement){
		"stake_pct":     func(a *agreement.Agreement) { a.Terms.StakePct = decimal.NewFromInt(16) },
		"buy_in_amount": func(a *agreement.Agreement) { a.Terms.BuyInAmount = decimal.NewFromInt(1001) },
		"markup":        func(a *agreement.Agreement) { a.Terms.Markup = decimal.RequireFromString("1.1") },
		"payout_basis":  func(a *agreement.Agreement) { a.Terms.PayoutBasis = terms.PayoutNetProfit },
		"bullet_cap":    func(a *agreement.Agreement) { a.Terms.BulletCap = 2 },
		"party_label":   func(a *agreement.Agreement) { a.PartyBLabel = "Eve" },
		"agreement_id":  func(a *agreement.Agreement) { a.ID = "agr-2" },
		"accepted_at": func(a *agreement.Agreement) {
			shifted := a.AcceptedAt.Add(time.Minute)
			a.AcceptedAt = &shifted
		},
	}

	for name, mutate := range mutations {
		a := acceptedAgreement()
		mutate(&a)
		_, mutated, err := fp.Fingerprint(a)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if mutated == base {
			t.Fatalf("mutating %s did not change the fingerprint", name)
		}
	}
}

func TestFingerprint_RequiresAcceptedState(t *testing.T) {
	a := acceptedAgreement()
	a.NegotiationState = agreement.StateCountered
	if _, _, err := NewFingerprinter().Fingerprint(a); !errors.Is(err, ErrNotAccepted) {
		t.Fatalf("expected ErrNotAccepted, got %v", err)
	}
}

type stubReader struct {
	agreement agreement.Agreement
	err       error
}

func (s *stubReader) Get(context.Context, string) (agreement.Agreement, error) {
	return s.agreement, s.err
}

func (s *stubReader) GetByHash(context.Context, string) (agreement.Agreement, error) {
	return s.agreement, s.err
}

func TestVerify_RoundTrip(t *testing.T) {
	a := acceptedAgreement()
	_, hash, err := NewFingerprinter().Fingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	version := HashVersion
	a.Hash = &hash
	a.HashVersion = &version

	svc := NewService(&stubReader{agreement: a})

	result, err := svc.Verify(context.Background(), a.ID, hash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected exact hash to verify, got %+v", result)
	}
	if result.Summary == nil || result.Summary.Status != agreement.StatusActive {
		t.Fatalf("expected active summary, got %+v", result.Summary)
	}

	// Any single-field mutation of the locked terms must fail verification.
	mutated := a
	mutated.Terms.StakePct = decimal.NewFromInt(16)
	_, mutatedHash, err := NewFingerprinter().Fingerprint(mutated)
	if err != nil {
		t.Fatalf("fingerprint mutated: %v", err)
	}
	result, err = svc.Verify(context.Background(), a.ID, mutatedHash)
	if err != nil {
		t.Fatalf("verify mutated: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected mutated hash to fail verification")
	}
}

func TestVerify_FailsClosedBeforeAcceptance(t *testing.T) {
	a := acceptedAgreement()
	a.NegotiationState = agreement.StateCountered
	a.AcceptedAt = nil

	svc := NewService(&stubReader{agreement: a})
	result, err := svc.Verify(context.Background(), a.ID, "deadbeef")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected fail-closed result for non-accepted agreement")
	}
}

func TestVerify_FailsClosedForUnknownAgreement(t *testing.T) {
	svc := NewService(&stubReader{err: agreement.ErrNotFound})
	result, err := svc.Verify(context.Background(), "missing", "deadbeef")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected fail-closed result for unknown agreement id")
	}
	if result.AgreementID != "missing" || result.ProvidedHash != "deadbeef" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Summary != nil {
		t.Fatalf("expected no summary for unknown agreement, got %+v", result.Summary)
	}
}

func TestArtifact_NotReadyBeforeAcceptance(t *testing.T) {
	a := acceptedAgreement()
	a.NegotiationState = agreement.StateAwaitingConfirmation
	a.Hash = nil

	issuer := NewIssuer(&stubReader{agreement: a}, nil, "http://localhost:8080", "")
	if _, _, err := issuer.Artifact(context.Background(), a.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestArtifact_RendersPDFWithMetadata(t *testing.T) {
	a := acceptedAgreement()
	_, hash, _ := NewFingerprinter().Fingerprint(a)
	a.Hash = &hash

	dir := t.TempDir()
	issuer := NewIssuer(&stubReader{agreement: a}, nil, "http://localhost:8080", dir)

	doc, meta, err := issuer.Artifact(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		t.Fatalf("expected a PDF document, got %q", doc[:min(8, len(doc))])
	}
	if meta.HashSnapshot != hash {
		t.Fatalf("expected hash snapshot %s, got %s", hash, meta.HashSnapshot)
	}
	wantURL := VerificationURL("http://localhost:8080", a.ID, hash)
	if meta.VerificationURL != wantURL {
		t.Fatalf("expected verification url %s, got %s", wantURL, meta.VerificationURL)
	}
}

func TestVerificationURL_Shape(t *testing.T) {
	got := VerificationURL("https://actionkeeper.example", "agr-1", "abc123")
	want := "https://actionkeeper.example/api/v1/verify?hash=abc123&id=agr-1"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
