package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"actionkeeper/agreement"
	"actionkeeper/auth"
	"actionkeeper/payment"
	"actionkeeper/receipt"
	"actionkeeper/terms"
)

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

type agreementService interface {
	Create(ctx context.Context, params agreement.CreateParams) (agreement.Agreement, error)
	Accept(ctx context.Context, id, accepterLabel string) (agreement.Agreement, error)
	Counter(ctx context.Context, id, proposerLabel string, proposal terms.TermSet, notes string) (agreement.Agreement, error)
	Decline(ctx context.Context, id, declinerLabel, reason string) (agreement.Agreement, error)
	Get(ctx context.Context, id string) (agreement.Agreement, error)
	List(ctx context.Context, filters agreement.ListFilters) ([]agreement.Agreement, int, error)
	ListEvents(ctx context.Context, id string) ([]agreement.Event, error)
}

type verificationService interface {
	Verify(ctx context.Context, agreementID, providedHash string) (receipt.VerificationResult, error)
	LookupByHash(ctx context.Context, hash string) (agreement.Agreement, error)
}

type artifactIssuer interface {
	Artifact(ctx context.Context, agreementID string) ([]byte, receipt.Artifact, error)
}

type paymentService interface {
	CreateCheckout(ctx context.Context, amountCents int64, currency string) (payment.Payment, string, error)
	HandleWebhook(ctx context.Context, paymentID, event string) (payment.Payment, error)
	Get(ctx context.Context, paymentID string) (payment.Payment, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	agreementSvc  agreementService
	verifySvc     verificationService
	issuer        artifactIssuer
	paymentSvc    paymentService
	authSvc       authService
	webhookSecret string
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/register", s.handleRegister)
	mux.HandleFunc("/api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("/api/v1/agreements", s.handleAgreements)
	mux.HandleFunc("/api/v1/agreements/", s.handleAgreementDetail)
	mux.HandleFunc("/api/v1/verify", s.handleVerify)
	mux.HandleFunc("/api/v1/verify/by-hash/", s.handleLookupByHash)
	mux.HandleFunc("/api/v1/payments/checkout", s.handleCheckout)
	mux.HandleFunc("/api/v1/payments/webhook", s.handlePaymentWebhook)
	return mux
}

// requireAuth resolves the bearer token and stashes the user id in the
// request context.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}
	userID, err := s.authSvc.VerifyToken(tokenString)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil, false
	}
	return r.WithContext(context.WithValue(r.Context(), ctxKeyUserID, userID)), true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	user, err := s.authSvc.Register(r.Context(), auth.RegisterRequest{
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrEmailTaken):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result, err := s.authSvc.Login(r.Context(), auth.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":        result.User.ID,
			"email":     result.User.Email,
			"full_name": result.User.FullName,
		},
	})
}

func (s *Server) handleAgreements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListAgreements(w, r)
	case http.MethodPost:
		r, ok := s.requireAuth(w, r)
		if !ok {
			return
		}
		s.handleCreateAgreement(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListAgreements(w http.ResponseWriter, r *http.Request) {
	filters := agreement.ListFilters{
		NegotiationState: r.URL.Query().Get("negotiation_state"),
	}
	if page := r.URL.Query().Get("page"); page != "" {
		filters.Page, _ = strconv.Atoi(page)
	}
	if size := r.URL.Query().Get("page_size"); size != "" {
		filters.PageSize, _ = strconv.Atoi(size)
	}

	items, total, err := s.agreementSvc.List(r.Context(), filters)
	if err != nil {
		s.internalError(w, err)
		return
	}
	responses := make([]agreementResponse, 0, len(items))
	for _, a := range items {
		responses = append(responses, toAgreementResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": responses, "total": total})
}

func (s *Server) handleCreateAgreement(w http.ResponseWriter, r *http.Request) {
	var req createAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	created, err := s.agreementSvc.Create(r.Context(), agreement.CreateParams{
		Terms:       req.Terms,
		PartyALabel: req.PartyALabel,
		PartyBLabel: req.PartyBLabel,
		PaymentID:   req.PaymentID,
	})
	if err != nil {
		s.writeAgreementError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgreementResponse(created))
}

// handleAgreementDetail routes /api/v1/agreements/{id}[/action].
func (s *Server) handleAgreementDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/agreements/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agreement id")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleGetAgreement(w, r, id)
	case "events":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleListEvents(w, r, id)
	case "artifact":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleArtifact(w, r, id)
	case "accept", "counter", "decline":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		r, ok := s.requireAuth(w, r)
		if !ok {
			return
		}
		switch action {
		case "accept":
			s.handleAccept(w, r, id)
		case "counter":
			s.handleCounter(w, r, id)
		case "decline":
			s.handleDecline(w, r, id)
		}
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request, id string) {
	a, err := s.agreementSvc.Get(r.Context(), id)
	if err != nil {
		s.writeAgreementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(a))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		AccepterLabel string `json:"accepter_label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	a, err := s.agreementSvc.Accept(r.Context(), id, req.AccepterLabel)
	if err != nil {
		s.writeAgreementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(a))
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		ProposerLabel string        `json:"proposer_label"`
		Terms         terms.TermSet `json:"terms"`
		CounterNotes  string        `json:"counter_notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	a, err := s.agreementSvc.Counter(r.Context(), id, req.ProposerLabel, req.Terms, req.CounterNotes)
	if err != nil {
		s.writeAgreementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(a))
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		DeclinerLabel string `json:"decliner_label"`
		Reason        string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	a, err := s.agreementSvc.Decline(r.Context(), id, req.DeclinerLabel, req.Reason)
	if err != nil {
		s.writeAgreementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(a))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	events, err := s.agreementSvc.ListEvents(r.Context(), id)
	if err != nil {
		s.writeAgreementError(w, err)
		return
	}
	responses := make([]eventResponse, 0, len(events))
	for _, e := range events {
		responses = append(responses, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": responses})
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request, id string) {
	doc, meta, err := s.issuer.Artifact(r.Context(), id)
	if err != nil {
		s.writeAgreementError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.pdf"`)
	w.Header().Set("X-Verification-Hash", meta.HashSnapshot)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		log.Printf("write artifact response: %v", err)
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Query().Get("id")
	hash := r.URL.Query().Get("hash")
	if id == "" || hash == "" {
		writeError(w, http.StatusBadRequest, "id and hash query parameters are required")
		return
	}
	result, err := s.verifySvc.Verify(r.Context(), id, hash)
	if err != nil {
		s.writeAgreementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerificationResponse(result))
}

func (s *Server) handleLookupByHash(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	hash := strings.TrimPrefix(r.URL.Path, "/api/v1/verify/by-hash/")
	if hash == "" {
		writeError(w, http.StatusBadRequest, "missing hash")
		return
	}
	a, err := s.verifySvc.LookupByHash(r.Context(), hash)
	if err != nil {
		if errors.Is(err, agreement.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no agreement found with this hash")
			return
		}
		s.internalError(w, err)
		return
	}
	resp := map[string]any{
		"found":        true,
		"agreement_id": a.ID,
		"status":       a.Status(),
		"created_at":   a.CreatedAt,
	}
	if a.Hash != nil {
		resp["hash"] = *a.Hash
	}
	if a.HashVersion != nil {
		resp["hash_version"] = *a.HashVersion
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	var req struct {
		AmountCents int64  `json:"amount_cents"`
		Currency    string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	p, checkoutURL, err := s.paymentSvc.CreateCheckout(r.Context(), req.AmountCents, req.Currency)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"payment_id":   p.ID,
		"status":       p.Status,
		"checkout_url": checkoutURL,
	})
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !payment.VerifyWebhookSecret(s.webhookSecret, r.Header.Get("X-Webhook-Secret")) {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}
	var req struct {
		PaymentID string `json:"payment_id"`
		Event     string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	p, err := s.paymentSvc.HandleWebhook(r.Context(), req.PaymentID, req.Event)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			writeError(w, http.StatusNotFound, "payment not found")
			return
		}
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment_id": p.ID,
		"status":     p.Status,
	})
}

// writeAgreementError maps domain failures onto HTTP statuses. Validation
// failures name the offending field so the caller can correct and resubmit.
func (s *Server) writeAgreementError(w http.ResponseWriter, err error) {
	var verr *terms.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": verr.Reason,
			"field": verr.Field,
		})
	case errors.Is(err, terms.ErrInvalidTerms):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, agreement.ErrNoOpCounter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, agreement.ErrPaymentNotSettled):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, agreement.ErrUnknownActor):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, agreement.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, agreement.ErrOutOfTurn),
		errors.Is(err, agreement.ErrAlreadyTerminal),
		errors.Is(err, agreement.ErrStaleState),
		errors.Is(err, receipt.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.internalError(w, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	log.Printf("internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
