package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/michelevens/ClinicLink-sub000/agreement"
	"github.com/michelevens/ClinicLink-sub000/auth"
	"github.com/michelevens/ClinicLink-sub000/authz"
	"github.com/michelevens/ClinicLink-sub000/document"
	"github.com/michelevens/ClinicLink-sub000/notify"
	"github.com/michelevens/ClinicLink-sub000/party"
	"github.com/michelevens/ClinicLink-sub000/signature"
)

type ctxKey int

const ctxKeyIdentity ctxKey = iota

type agreementCRUD interface {
	Create(ctx context.Context, actor authz.Identity, params agreement.CreateParams) (agreement.Agreement, error)
	Get(ctx context.Context, id string) (agreement.Agreement, error)
	List(ctx context.Context, filters agreement.ListFilters) ([]agreement.Agreement, int, error)
	AttachDocument(ctx context.Context, actor authz.Identity, agreementID string, doc agreement.DocumentMeta) (agreement.Agreement, error)
	UpdateNotes(ctx context.Context, actor authz.Identity, agreementID string, notes string) (agreement.Agreement, error)
}

type agreementTransitions interface {
	Transition(ctx context.Context, params agreement.TransitionParams) (agreement.Agreement, error)
}

type signatureWorkflow interface {
	Request(ctx context.Context, actor authz.Identity, params signature.RequestParams) (signature.RequestResult, error)
	Sign(ctx context.Context, identity authz.Identity, signatureID string, artifact []byte) (signature.Record, error)
	Reject(ctx context.Context, identity authz.Identity, signatureID string, reason *string) (signature.Record, error)
	Cancel(ctx context.Context, actor authz.Identity, signatureID string) (signature.Record, error)
	Resend(ctx context.Context, actor authz.Identity, signatureID string) (notify.Delivery, error)
	List(ctx context.Context, agreementID string) ([]signature.Record, error)
}

type identityVerifier interface {
	VerifyToken(token string) (authz.Identity, error)
}

type accountService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
}

type partyDirectory interface {
	GetUniversity(ctx context.Context, id string) (party.University, error)
	GetSite(ctx context.Context, id string) (party.Site, error)
	ListSites(ctx context.Context, limit int) ([]party.Site, error)
}

// Server exposes the agreement and signature workflows over HTTP.
type Server struct {
	agreements  agreementCRUD
	transitions agreementTransitions
	signatures  signatureWorkflow
	accounts    accountService
	parties     partyDirectory
	documents   document.Store
	verifier    identityVerifier
	logger      *slog.Logger
}

// Routes builds the request mux. Registration and login are public; every
// other route requires a bearer token.
func (s *Server) Routes() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/agreements", s.handleCreateAgreement)
	protected.HandleFunc("GET /api/agreements", s.handleListAgreements)
	protected.HandleFunc("GET /api/agreements/{id}", s.handleGetAgreement)
	protected.HandleFunc("PATCH /api/agreements/{id}/status", s.handleTransition)
	protected.HandleFunc("PUT /api/agreements/{id}/document", s.handleAttachDocument)
	protected.HandleFunc("GET /api/agreements/{id}/document", s.handleDownloadDocument)
	protected.HandleFunc("PUT /api/agreements/{id}/notes", s.handleUpdateNotes)
	protected.HandleFunc("POST /api/agreements/{id}/signatures", s.handleRequestSignature)
	protected.HandleFunc("GET /api/agreements/{id}/signatures", s.handleListSignatures)
	protected.HandleFunc("POST /api/signatures/{id}/sign", s.handleSign)
	protected.HandleFunc("POST /api/signatures/{id}/reject", s.handleReject)
	protected.HandleFunc("POST /api/signatures/{id}/cancel", s.handleCancel)
	protected.HandleFunc("POST /api/signatures/{id}/resend", s.handleResend)
	protected.HandleFunc("GET /api/universities/{id}", s.handleGetUniversity)
	protected.HandleFunc("GET /api/sites", s.handleListSites)
	protected.HandleFunc("GET /api/sites/{id}", s.handleGetSite)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.Handle("/api/", s.withIdentity(protected))
	return mux
}

// withIdentity resolves the bearer token to an acting identity and stores it
// in the request context. Every route requires authentication.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		identity, err := s.verifier.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) authz.Identity {
	id, _ := r.Context().Value(ctxKeyIdentity).(authz.Identity)
	return id
}

type agreementResponse struct {
	ID              string  `json:"id"`
	UniversityID    string  `json:"universityId"`
	SiteID          string  `json:"siteId"`
	Status          string  `json:"status"`
	SignatureStatus string  `json:"signatureStatus"`
	StartDate       *string `json:"startDate,omitempty"`
	EndDate         *string `json:"endDate,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	DocumentName    *string `json:"documentName,omitempty"`
	CreatedAt       string  `json:"createdAt"`
}

func toAgreementResponse(a agreement.Agreement) agreementResponse {
	resp := agreementResponse{
		ID:              a.ID,
		UniversityID:    a.UniversityID,
		SiteID:          a.SiteID,
		Status:          string(a.Status),
		SignatureStatus: string(a.SignatureStatus),
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
	}
	if a.StartDate != nil {
		d := a.StartDate.Format("2006-01-02")
		resp.StartDate = &d
	}
	if a.EndDate != nil {
		d := a.EndDate.Format("2006-01-02")
		resp.EndDate = &d
	}
	if a.Document != nil {
		resp.DocumentName = &a.Document.FileName
	}
	return resp
}

type signatureResponse struct {
	ID          string  `json:"id"`
	AgreementID string  `json:"agreementId"`
	SignerName  string  `json:"signerName"`
	SignerEmail string  `json:"signerEmail"`
	SignerRole  string  `json:"signerRole"`
	Status      string  `json:"status"`
	SignedAt    *string `json:"signedAt,omitempty"`
	RejectedAt  *string `json:"rejectedAt,omitempty"`
	Reason      *string `json:"rejectionReason,omitempty"`
	Delivered   *bool   `json:"delivered,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

func toSignatureResponse(rec signature.Record) signatureResponse {
	resp := signatureResponse{
		ID:          rec.ID,
		AgreementID: rec.AgreementID,
		SignerName:  rec.SignerName,
		SignerEmail: rec.SignerEmail,
		SignerRole:  string(rec.SignerRole),
		Status:      string(rec.Status),
		Reason:      rec.RejectionReason,
		Delivered:   rec.Delivered,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.SignedAt != nil {
		ts := rec.SignedAt.Format(time.RFC3339)
		resp.SignedAt = &ts
	}
	if rec.RejectedAt != nil {
		ts := rec.RejectedAt.Format(time.RFC3339)
		resp.RejectedAt = &ts
	}
	return resp
}

func (s *Server) handleCreateAgreement(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UniversityID string  `json:"universityId"`
		SiteID       string  `json:"siteId"`
		StartDate    *string `json:"startDate"`
		EndDate      *string `json:"endDate"`
		Notes        string  `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	params := agreement.CreateParams{
		UniversityID: body.UniversityID,
		SiteID:       body.SiteID,
		Notes:        body.Notes,
	}
	var err error
	if params.StartDate, err = parseDate(body.StartDate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate")
		return
	}
	if params.EndDate, err = parseDate(body.EndDate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid endDate")
		return
	}

	rec, err := s.agreements.Create(r.Context(), identityFrom(r), params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgreementResponse(rec))
}

func (s *Server) handleListAgreements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	filters := agreement.ListFilters{
		UniversityID: q.Get("universityId"),
		SiteID:       q.Get("siteId"),
		Status:       agreement.Status(q.Get("status")),
		Page:         page,
		PageSize:     pageSize,
	}
	items, total, err := s.agreements.List(r.Context(), filters)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]agreementResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toAgreementResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	rec, err := s.agreements.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(rec))
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.transitions.Transition(r.Context(), agreement.TransitionParams{
		AgreementID: r.PathValue("id"),
		Actor:       identityFrom(r),
		NextStatus:  agreement.Status(body.Status),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(rec))
}

func (s *Server) handleAttachDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FileName string `json:"fileName"`
		Content  []byte `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.FileName == "" || len(body.Content) == 0 {
		writeError(w, http.StatusBadRequest, "fileName and content are required")
		return
	}

	ref, err := s.documents.Store(r.Context(), body.FileName, body.Content)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	rec, err := s.agreements.AttachDocument(r.Context(), identityFrom(r), r.PathValue("id"), agreement.DocumentMeta{
		FileName:   body.FileName,
		FileSize:   int64(len(body.Content)),
		StorageRef: ref,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(rec))
}

func (s *Server) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	rec, err := s.agreements.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if rec.Document == nil {
		writeError(w, http.StatusNotFound, "no document attached")
		return
	}

	data, err := s.documents.Retrieve(r.Context(), rec.Document.StorageRef)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+rec.Document.FileName+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleUpdateNotes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.agreements.UpdateNotes(r.Context(), identityFrom(r), r.PathValue("id"), body.Notes)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(rec))
}

func (s *Server) handleRequestSignature(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SignerName  string `json:"signerName"`
		SignerEmail string `json:"signerEmail"`
		SignerRole  string `json:"signerRole"`
		Message     string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.signatures.Request(r.Context(), identityFrom(r), signature.RequestParams{
		AgreementID: r.PathValue("id"),
		SignerName:  body.SignerName,
		SignerEmail: body.SignerEmail,
		SignerRole:  signature.SignerRole(body.SignerRole),
		Message:     body.Message,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"signature": toSignatureResponse(result.Record),
		"delivered": result.Delivered,
	})
}

func (s *Server) handleListSignatures(w http.ResponseWriter, r *http.Request) {
	items, err := s.signatures.List(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]signatureResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toSignatureResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Artifact []byte `json:"artifact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.signatures.Sign(r.Context(), identityFrom(r), r.PathValue("id"), body.Artifact)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSignatureResponse(rec))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason *string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.signatures.Reject(r.Context(), identityFrom(r), r.PathValue("id"), body.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSignatureResponse(rec))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	rec, err := s.signatures.Cancel(r.Context(), identityFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSignatureResponse(rec))
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	delivery, err := s.signatures.Resend(r.Context(), identityFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": delivery.Delivered})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"email":    user.Email,
		"fullName": user.FullName,
		"role":     user.Role,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.accounts.Login(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":       result.User.ID,
			"email":    result.User.Email,
			"fullName": result.User.FullName,
			"role":     result.User.Role,
		},
	})
}

func (s *Server) handleGetUniversity(w http.ResponseWriter, r *http.Request) {
	u, err := s.parties.GetUniversity(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         u.ID,
		"name":       u.Name,
		"city":       u.City,
		"accredited": u.Accredited,
	})
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.parties.GetSite(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       site.ID,
		"name":     site.Name,
		"city":     site.City,
		"capacity": site.Capacity,
	})
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sites, err := s.parties.ListSites(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(sites))
	for _, site := range sites {
		out = append(out, map[string]any{
			"id":       site.ID,
			"name":     site.Name,
			"city":     site.City,
			"capacity": site.Capacity,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, agreement.ErrNotFound), errors.Is(err, signature.ErrNotFound),
		errors.Is(err, party.ErrUniversityNotFound), errors.Is(err, party.ErrSiteNotFound),
		errors.Is(err, document.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, agreement.ErrInvalidTransition), errors.Is(err, signature.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, agreement.ErrValidation), errors.Is(err, signature.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		if s.logger != nil {
			s.logger.Error("unhandled domain error", "error", err)
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseDate(value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
