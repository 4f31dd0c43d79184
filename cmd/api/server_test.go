package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/michelevens/ClinicLink-sub000/agreement"
	"github.com/michelevens/ClinicLink-sub000/auth"
	"github.com/michelevens/ClinicLink-sub000/authz"
	"github.com/michelevens/ClinicLink-sub000/notify"
	"github.com/michelevens/ClinicLink-sub000/party"
	"github.com/michelevens/ClinicLink-sub000/signature"
)

type stubVerifier struct {
	identities map[string]authz.Identity
}

func (s *stubVerifier) VerifyToken(token string) (authz.Identity, error) {
	id, ok := s.identities[token]
	if !ok {
		return authz.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

type stubAgreements struct {
	created   agreement.CreateParams
	listed    agreement.ListFilters
	createErr error
	getErr    error
}

func (s *stubAgreements) Create(ctx context.Context, actor authz.Identity, params agreement.CreateParams) (agreement.Agreement, error) {
	if s.createErr != nil {
		return agreement.Agreement{}, s.createErr
	}
	s.created = params
	return agreement.Agreement{
		ID:              "agmt-1",
		UniversityID:    params.UniversityID,
		SiteID:          params.SiteID,
		Status:          agreement.StatusDraft,
		SignatureStatus: agreement.SignatureNone,
		CreatedAt:       time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (s *stubAgreements) Get(ctx context.Context, id string) (agreement.Agreement, error) {
	if s.getErr != nil {
		return agreement.Agreement{}, s.getErr
	}
	return agreement.Agreement{ID: id, Status: agreement.StatusActive, SignatureStatus: agreement.SignatureFullySigned}, nil
}

func (s *stubAgreements) List(ctx context.Context, filters agreement.ListFilters) ([]agreement.Agreement, int, error) {
	s.listed = filters
	return []agreement.Agreement{{ID: "agmt-1", Status: agreement.StatusDraft}}, 1, nil
}

func (s *stubAgreements) AttachDocument(ctx context.Context, actor authz.Identity, agreementID string, doc agreement.DocumentMeta) (agreement.Agreement, error) {
	return agreement.Agreement{ID: agreementID, Document: &doc}, nil
}

func (s *stubAgreements) UpdateNotes(ctx context.Context, actor authz.Identity, agreementID string, notes string) (agreement.Agreement, error) {
	return agreement.Agreement{ID: agreementID, Notes: &notes}, nil
}

type stubTransitions struct {
	err error
}

func (s *stubTransitions) Transition(ctx context.Context, params agreement.TransitionParams) (agreement.Agreement, error) {
	if s.err != nil {
		return agreement.Agreement{}, s.err
	}
	return agreement.Agreement{ID: params.AgreementID, Status: params.NextStatus}, nil
}

type stubSignatures struct {
	signErr   error
	resendErr error
	delivered bool
}

func (s *stubSignatures) Request(ctx context.Context, actor authz.Identity, params signature.RequestParams) (signature.RequestResult, error) {
	rec := signature.Record{
		ID:          "sig-1",
		AgreementID: params.AgreementID,
		SignerName:  params.SignerName,
		SignerEmail: params.SignerEmail,
		SignerRole:  params.SignerRole,
		Status:      signature.StatusRequested,
	}
	return signature.RequestResult{Record: rec, Delivered: s.delivered}, nil
}

func (s *stubSignatures) Sign(ctx context.Context, identity authz.Identity, signatureID string, artifact []byte) (signature.Record, error) {
	if s.signErr != nil {
		return signature.Record{}, s.signErr
	}
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	return signature.Record{ID: signatureID, Status: signature.StatusSigned, SignedAt: &now}, nil
}

func (s *stubSignatures) Reject(ctx context.Context, identity authz.Identity, signatureID string, reason *string) (signature.Record, error) {
	return signature.Record{ID: signatureID, Status: signature.StatusRejected, RejectionReason: reason}, nil
}

func (s *stubSignatures) Cancel(ctx context.Context, actor authz.Identity, signatureID string) (signature.Record, error) {
	return signature.Record{ID: signatureID, Status: signature.StatusCancelled}, nil
}

func (s *stubSignatures) Resend(ctx context.Context, actor authz.Identity, signatureID string) (notify.Delivery, error) {
	if s.resendErr != nil {
		return notify.Delivery{}, s.resendErr
	}
	return notify.Delivery{Delivered: s.delivered}, nil
}

func (s *stubSignatures) List(ctx context.Context, agreementID string) ([]signature.Record, error) {
	return []signature.Record{{ID: "sig-1", AgreementID: agreementID, Status: signature.StatusRequested}}, nil
}

type stubAccounts struct {
	loginErr error
}

func (s *stubAccounts) Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error) {
	if len(req.Password) < 8 {
		return nil, auth.ErrWeakPassword
	}
	return &auth.User{ID: "user-1", Email: req.Email, FullName: req.FullName, Role: authz.RoleCoordinator}, nil
}

func (s *stubAccounts) Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	if s.loginErr != nil {
		return auth.LoginResult{}, s.loginErr
	}
	return auth.LoginResult{
		Token: "issued-token",
		User:  auth.User{ID: "user-1", Email: req.Email, Role: authz.RoleCoordinator},
	}, nil
}

type stubParties struct{}

func (stubParties) GetUniversity(ctx context.Context, id string) (party.University, error) {
	return party.University{ID: id, Name: "Bayview University", Accredited: true}, nil
}

func (stubParties) GetSite(ctx context.Context, id string) (party.Site, error) {
	return party.Site{ID: id, Name: "Harborside Clinic", Capacity: 12}, nil
}

func (stubParties) ListSites(ctx context.Context, limit int) ([]party.Site, error) {
	return []party.Site{{ID: "site-1", Name: "Harborside Clinic"}}, nil
}

type stubDocuments struct {
	stored map[string][]byte
}

func (s *stubDocuments) Store(ctx context.Context, fileName string, data []byte) (string, error) {
	if s.stored == nil {
		s.stored = make(map[string][]byte)
	}
	ref := fmt.Sprintf("doc-%d", len(s.stored)+1)
	s.stored[ref] = data
	return ref, nil
}

func (s *stubDocuments) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	data, ok := s.stored[ref]
	if !ok {
		return nil, errors.New("missing")
	}
	return data, nil
}

func newTestServer(agreements *stubAgreements, transitions *stubTransitions, signatures *stubSignatures) *httptest.Server {
	srv := &Server{
		agreements:  agreements,
		transitions: transitions,
		signatures:  signatures,
		accounts:    &stubAccounts{},
		parties:     stubParties{},
		documents:   &stubDocuments{},
		verifier: &stubVerifier{identities: map[string]authz.Identity{
			"coord-token": {UserID: "coord-1", Email: "coord@university.edu", Role: authz.RoleCoordinator},
		}},
	}
	return httptest.NewServer(srv.Routes())
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(&stubAgreements{}, &stubTransitions{}, &stubSignatures{})
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/agreements", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/agreements", "bogus", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateAgreement(t *testing.T) {
	agreements := &stubAgreements{}
	ts := newTestServer(agreements, &stubTransitions{}, &stubSignatures{})
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/agreements", "coord-token", map[string]any{
		"universityId": "uni-1",
		"siteId":       "site-1",
		"startDate":    "2026-09-01",
		"endDate":      "2027-08-31",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "draft" {
		t.Errorf("expected draft, got %v", body["status"])
	}
	if body["signatureStatus"] != "none" {
		t.Errorf("expected none, got %v", body["signatureStatus"])
	}
	if agreements.created.StartDate == nil || agreements.created.StartDate.Format("2006-01-02") != "2026-09-01" {
		t.Errorf("start date not forwarded: %v", agreements.created.StartDate)
	}
}

func TestCreateAgreement_BadDate(t *testing.T) {
	ts := newTestServer(&stubAgreements{}, &stubTransitions{}, &stubSignatures{})
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/agreements", "coord-token", map[string]any{
		"universityId": "uni-1",
		"siteId":       "site-1",
		"startDate":    "September 1st",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDomainErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"permission denied", authz.ErrPermissionDenied, http.StatusForbidden},
		{"not found", agreement.ErrNotFound, http.StatusNotFound},
		{"invalid transition", fmt.Errorf("agreement: active to draft: %w", agreement.ErrInvalidTransition), http.StatusConflict},
		{"validation", fmt.Errorf("agreement: end before start: %w", agreement.ErrValidation), http.StatusBadRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(&stubAgreements{}, &stubTransitions{err: tc.err}, &stubSignatures{})
			defer ts.Close()

			resp := doJSON(t, http.MethodPatch, ts.URL+"/api/agreements/agmt-1/status", "coord-token", map[string]any{
				"status": "active",
			})
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestRequestSignatureReportsDelivery(t *testing.T) {
	ts := newTestServer(&stubAgreements{}, &stubTransitions{}, &stubSignatures{delivered: false})
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/agreements/agmt-1/signatures", "coord-token", map[string]any{
		"signerName":  "Riley Rep",
		"signerEmail": "rep@university.edu",
		"signerRole":  "university",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 even when delivery fails, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["delivered"] != false {
		t.Errorf("expected delivered=false, got %v", body["delivered"])
	}
	sig, ok := body["signature"].(map[string]any)
	if !ok {
		t.Fatalf("missing signature payload: %v", body)
	}
	if sig["status"] != "requested" {
		t.Errorf("expected requested, got %v", sig["status"])
	}
}

func TestSignConflictOnTerminalRecord(t *testing.T) {
	signatures := &stubSignatures{signErr: fmt.Errorf("signature: sign from cancelled: %w", signature.ErrInvalidTransition)}
	ts := newTestServer(&stubAgreements{}, &stubTransitions{}, signatures)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/signatures/sig-1/sign", "coord-token", map[string]any{
		"artifact": []byte("data"),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestResend(t *testing.T) {
	ts := newTestServer(&stubAgreements{}, &stubTransitions{}, &stubSignatures{delivered: true})
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/signatures/sig-1/resend", "coord-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["delivered"] != true {
		t.Errorf("expected delivered=true, got %v", body["delivered"])
	}
}

func TestAuthRoutesArePublic(t *testing.T) {
	ts := newTestServer(&stubAgreements{}, &stubTransitions{}, &stubSignatures{})
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", map[string]any{
		"email":     "casey@bayview.edu",
		"password":  "longenough",
		"full_name": "Casey Coordinator",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]any{
		"email":    "casey@bayview.edu",
		"password": "longenough",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["token"] != "issued-token" {
		t.Errorf("missing token in login response: %v", body)
	}
}

func TestWeakPasswordOnRegister(t *testing.T) {
	ts := newTestServer(&stubAgreements{}, &stubTransitions{}, &stubSignatures{})
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", map[string]any{
		"email":     "casey@bayview.edu",
		"password":  "short",
		"full_name": "Casey Coordinator",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAttachDocument(t *testing.T) {
	agreements := &stubAgreements{}
	ts := newTestServer(agreements, &stubTransitions{}, &stubSignatures{})
	defer ts.Close()

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/agreements/agmt-1/document", "coord-token", map[string]any{
		"fileName": "affiliation.pdf",
		"content":  []byte("pdf bytes"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("attach: expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["documentName"] != "affiliation.pdf" {
		t.Errorf("expected document name in response, got %v", body["documentName"])
	}
}

func TestListSites(t *testing.T) {
	ts := newTestServer(&stubAgreements{}, &stubTransitions{}, &stubSignatures{})
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/sites", "coord-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 1 {
		t.Errorf("expected one site, got %v", body["items"])
	}
}

func TestListAgreements(t *testing.T) {
	ts := newTestServer(&stubAgreements{}, &stubTransitions{}, &stubSignatures{})
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/agreements?status=draft", "coord-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["total"] != float64(1) {
		t.Errorf("expected total 1, got %v", body["total"])
	}
}

func TestListAgreementsForwardsPagination(t *testing.T) {
	agreements := &stubAgreements{}
	ts := newTestServer(agreements, &stubTransitions{}, &stubSignatures{})
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/agreements?page=3&pageSize=50", "coord-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if agreements.listed.Page != 3 || agreements.listed.PageSize != 50 {
		t.Errorf("expected page=3 pageSize=50 forwarded, got page=%d pageSize=%d",
			agreements.listed.Page, agreements.listed.PageSize)
	}
}
