package main

import (
	"encoding/json"
	"time"

	"actionkeeper/agreement"
	"actionkeeper/receipt"
	"actionkeeper/terms"
)

type createAgreementRequest struct {
	Terms       terms.TermSet `json:"terms"`
	PartyALabel string        `json:"party_a_label"`
	PartyBLabel string        `json:"party_b_label"`
	PaymentID   string        `json:"payment_id"`
}

type agreementResponse struct {
	ID               string         `json:"id"`
	Status           string         `json:"status"`
	NegotiationState string         `json:"negotiation_state"`
	PartyALabel      string         `json:"party_a_label"`
	PartyBLabel      string         `json:"party_b_label"`
	Terms            terms.TermSet  `json:"terms"`
	PendingTerms     *terms.TermSet `json:"pending_terms,omitempty"`
	LastProposedBy   *string        `json:"last_proposed_by,omitempty"`
	PartyAConfirmed  *time.Time     `json:"party_a_confirmed_at,omitempty"`
	PartyBConfirmed  *time.Time     `json:"party_b_confirmed_at,omitempty"`
	AcceptedAt       *time.Time     `json:"accepted_at,omitempty"`
	Hash             *string        `json:"hash,omitempty"`
	HashVersion      *string        `json:"hash_version,omitempty"`
	PaymentID        *string        `json:"payment_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func toAgreementResponse(a agreement.Agreement) agreementResponse {
	return agreementResponse{
		ID:               a.ID,
		Status:           string(a.Status()),
		NegotiationState: string(a.NegotiationState),
		PartyALabel:      a.PartyALabel,
		PartyBLabel:      a.PartyBLabel,
		Terms:            a.Terms,
		PendingTerms:     a.PendingTerms,
		LastProposedBy:   a.LastProposedBy,
		PartyAConfirmed:  a.PartyAConfirmed,
		PartyBConfirmed:  a.PartyBConfirmed,
		AcceptedAt:       a.AcceptedAt,
		Hash:             a.Hash,
		HashVersion:      a.HashVersion,
		PaymentID:        a.PaymentID,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

type eventResponse struct {
	ID          string          `json:"id"`
	AgreementID string          `json:"agreement_id"`
	Seq         int             `json:"seq"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toEventResponse(e agreement.Event) eventResponse {
	return eventResponse{
		ID:          e.ID,
		AgreementID: e.AgreementID,
		Seq:         e.Seq,
		EventType:   e.Type,
		Payload:     json.RawMessage(e.Payload),
		CreatedAt:   e.CreatedAt,
	}
}

type verificationResponse struct {
	Valid        bool       `json:"valid"`
	AgreementID  string     `json:"agreement_id"`
	HashVersion  string     `json:"hash_version,omitempty"`
	ProvidedHash string     `json:"provided_hash"`
	VerifiedAt   time.Time  `json:"verified_at"`
	Summary      *summaryVM `json:"summary,omitempty"`
}

type summaryVM struct {
	Status      string     `json:"status"`
	PartyALabel string     `json:"party_a_label"`
	PartyBLabel string     `json:"party_b_label"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toVerificationResponse(r receipt.VerificationResult) verificationResponse {
	resp := verificationResponse{
		Valid:        r.Valid,
		AgreementID:  r.AgreementID,
		HashVersion:  r.HashVersion,
		ProvidedHash: r.ProvidedHash,
		VerifiedAt:   r.VerifiedAt,
	}
	if r.Summary != nil {
		resp.Summary = &summaryVM{
			Status:      string(r.Summary.Status),
			PartyALabel: r.Summary.PartyALabel,
			PartyBLabel: r.Summary.PartyBLabel,
			AcceptedAt:  r.Summary.AcceptedAt,
			CreatedAt:   r.Summary.CreatedAt,
		}
	}
	return resp
}
