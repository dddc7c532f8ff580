package receipt

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"net/url"
	"time"

	"actionkeeper/agreement"
)

// AgreementReader is the read-only slice of the state machine the issuer
// needs. Satisfied by *agreement.Service.
type AgreementReader interface {
	Get(ctx context.Context, id string) (agreement.Agreement, error)
	GetByHash(ctx context.Context, hash string) (agreement.Agreement, error)
}

// VerificationResult is what a verifying party gets back. The summary lets a
// third party scanning a receipt confirm which agreement the hash belongs to
// without seeing the terms.
type VerificationResult struct {
	Valid        bool
	AgreementID  string
	StoredHash   string
	ProvidedHash string
	HashVersion  string
	VerifiedAt   time.Time
	Summary      *AgreementSummary
}

// AgreementSummary is the public shape of a verified agreement.
type AgreementSummary struct {
	Status      agreement.Status
	PartyALabel string
	PartyBLabel string
	AcceptedAt  *time.Time
	CreatedAt   time.Time
}

// Service answers verification checks against the stored locked state.
type Service struct {
	agreements AgreementReader
	fp         *Fingerprinter
	now        func() time.Time
}

func NewService(agreements AgreementReader) *Service {
	return &Service{
		agreements: agreements,
		fp:         NewFingerprinter(),
		now:        time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Verify recomputes the fingerprint from the immutable accepted snapshot and
// compares it against the provided hash in constant time. It fails closed:
// an agreement that is not accepted verifies false, never true.
func (s *Service) Verify(ctx context.Context, agreementID, providedHash string) (VerificationResult, error) {
	a, err := s.agreements.Get(ctx, agreementID)
	if err != nil {
		if errors.Is(err, agreement.ErrNotFound) {
			// an id nobody has heard of verifies false, same as any
			// other non-accepted state
			return VerificationResult{
				AgreementID:  agreementID,
				ProvidedHash: providedHash,
				VerifiedAt:   s.now().UTC(),
			}, nil
		}
		return VerificationResult{}, err
	}

	result := VerificationResult{
		AgreementID:  a.ID,
		ProvidedHash: providedHash,
		VerifiedAt:   s.now().UTC(),
		Summary: &AgreementSummary{
			Status:      a.Status(),
			PartyALabel: a.PartyALabel,
			PartyBLabel: a.PartyBLabel,
			AcceptedAt:  a.AcceptedAt,
			CreatedAt:   a.CreatedAt,
		},
	}
	if a.Hash != nil {
		result.StoredHash = *a.Hash
	}
	if a.HashVersion != nil {
		result.HashVersion = *a.HashVersion
	}

	version, recomputed, err := s.fp.Fingerprint(a)
	if err != nil {
		if errors.Is(err, ErrNotAccepted) {
			return result, nil
		}
		return VerificationResult{}, err
	}

	result.HashVersion = version
	result.Valid = hmac.Equal([]byte(recomputed), []byte(providedHash)) &&
		a.Hash != nil && hmac.Equal([]byte(recomputed), []byte(*a.Hash))
	return result, nil
}

// LookupByHash resolves a receipt hash back to its agreement.
func (s *Service) LookupByHash(ctx context.Context, hash string) (agreement.Agreement, error) {
	return s.agreements.GetByHash(ctx, hash)
}

// VerificationURL builds the public link embedded in receipt QR codes.
func VerificationURL(baseURL, agreementID, hash string) string {
	q := url.Values{}
	q.Set("id", agreementID)
	q.Set("hash", hash)
	return fmt.Sprintf("%s/api/v1/verify?%s", baseURL, q.Encode())
}
