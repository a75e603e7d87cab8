package main

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/auth"
	"escrowflow/ledger"
	"escrowflow/projection"
	"escrowflow/role"
)

const (
	testWallet    = "0x1111111111111111111111111111111111111111"
	testAgreement = "0x2222222222222222222222222222222222222222"
)

type stubAuthService struct {
	registerUser *auth.User
	registerErr  error
	loginResult  auth.LoginResult
	loginErr     error
	verifyUserID string
	verifyWallet string
	verifyErr    error
}

func (s *stubAuthService) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	return s.registerUser, s.registerErr
}

func (s *stubAuthService) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *stubAuthService) VerifyToken(_ string) (string, string, error) {
	return s.verifyUserID, s.verifyWallet, s.verifyErr
}

type stubLedger struct {
	created *ledger.Agreement
	err     error
}

func (s *stubLedger) Create(_ common.Address, _ *big.Int, _ int64, _, _, _ string) (*ledger.Agreement, error) {
	return s.created, s.err
}

func (s *stubLedger) Fill(_, _ common.Address, _ *big.Int) error         { return s.err }
func (s *stubLedger) Cancel(_, _ common.Address, _ string) error         { return s.err }
func (s *stubLedger) EmergencyRelease(_, _ common.Address) error         { return s.err }
func (s *stubLedger) Release(_, _ common.Address, _ *big.Int, _ string) error {
	return s.err
}
func (s *stubLedger) OpenDispute(_, _ common.Address, _ string, _ *big.Int) error {
	return s.err
}
func (s *stubLedger) ResolveDispute(_, _ common.Address, _ *big.Int, _ string) error {
	return s.err
}

type stubViews struct {
	view  projection.Agreement
	views []projection.Agreement
	err   error
}

func (s *stubViews) Fetch(_ context.Context, _, _ common.Address) (projection.Agreement, error) {
	return s.view, s.err
}

func (s *stubViews) FetchAll(_ context.Context, _ common.Address) ([]projection.Agreement, error) {
	return s.views, s.err
}

type stubEvents struct {
	events []projection.LedgerEvent
	err    error
}

func (s *stubEvents) List(_ context.Context, _ string) ([]projection.LedgerEvent, error) {
	return s.events, s.err
}

func authed(req *http.Request) *http.Request {
	ctx := context.WithValue(req.Context(), ctxKeyUserID, "user-1")
	ctx = context.WithValue(ctx, ctxKeyWallet, testWallet)
	return req.WithContext(ctx)
}

func sampleView() projection.Agreement {
	now := time.Date(2024, 10, 31, 15, 4, 5, 0, time.UTC)
	return projection.Agreement{
		Address:      testAgreement,
		Creator:      testWallet,
		Role:         role.Creator,
		Counterparty: projection.CounterpartyNone,
		Amount:       big.NewInt(1000),
		Status:       ledger.StatusPending,
		StatusName:   "Pending",
		NetworkID:    "eip155:137",
		NetworkName:  "Polygon",
		Currency:     "MATIC",
		Title:        "Kitchen remodel",
		Deadline:     now.Add(48 * time.Hour),
		CreatedAt:    now,
	}
}

func TestHandleRegister_Success(t *testing.T) {
	now := time.Date(2024, 10, 31, 15, 4, 5, 0, time.UTC)
	server := &Server{
		authService: &stubAuthService{
			registerUser: &auth.User{
				ID:            "u1",
				Email:         "alex@example.com",
				WalletAddress: testWallet,
				CreatedAt:     now,
			},
		},
	}

	body := strings.NewReader(`{"email":"alex@example.com","password":"longenough","wallet_address":"` + testWallet + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", body)
	rec := httptest.NewRecorder()

	server.handleRegister(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "u1" || resp.WalletAddress != testWallet {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected createdAt %s, got %s", now.Format(time.RFC3339), resp.CreatedAt)
	}
}

func TestHandleRegister_DuplicateEmail(t *testing.T) {
	server := &Server{
		authService: &stubAuthService{registerErr: auth.ErrDuplicateEmail},
	}

	body := strings.NewReader(`{"email":"alex@example.com","password":"longenough","wallet_address":"` + testWallet + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", body)
	rec := httptest.NewRecorder()

	server.handleRegister(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleRegister_WrongMethod(t *testing.T) {
	server := &Server{authService: &stubAuthService{}}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/register", nil)
	rec := httptest.NewRecorder()

	server.handleRegister(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleLogin_Success(t *testing.T) {
	server := &Server{
		authService: &stubAuthService{
			loginResult: auth.LoginResult{
				Token: "signed-token",
				User:  auth.User{ID: "u1", Email: "alex@example.com", WalletAddress: testWallet},
			},
		},
	}

	body := strings.NewReader(`{"email":"alex@example.com","password":"longenough"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	rec := httptest.NewRecorder()

	server.handleLogin(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Token string       `json:"token"`
		User  userResponse `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Token != "signed-token" || payload.User.ID != "u1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	server := &Server{
		authService: &stubAuthService{loginErr: auth.ErrInvalidCredentials},
	}

	body := strings.NewReader(`{"email":"alex@example.com","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	rec := httptest.NewRecorder()

	server.handleLogin(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_MissingToken(t *testing.T) {
	server := &Server{authService: &stubAuthService{}}
	handler := server.routes()

	req := httptest.NewRequest(http.MethodGet, "/api/agreements", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_PassesClaims(t *testing.T) {
	server := &Server{
		authService: &stubAuthService{verifyUserID: "u1", verifyWallet: testWallet},
		views:       &stubViews{views: []projection.Agreement{sampleView()}},
	}
	handler := server.routes()

	req := httptest.NewRequest(http.MethodGet, "/api/agreements", nil)
	req.Header.Set("Authorization", "Bearer any")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleListAgreements_Success(t *testing.T) {
	server := &Server{
		views: &stubViews{views: []projection.Agreement{sampleView()}},
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/agreements", nil))
	rec := httptest.NewRecorder()

	server.handleAgreements(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Items []agreementResponse `json:"items"`
		Total int                 `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Total != 1 || len(payload.Items) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	item := payload.Items[0]
	if item.Address != testAgreement || item.Role != "creator" || item.Counterparty != projection.CounterpartyNone {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.Amount != "1000" || item.Currency != "MATIC" {
		t.Fatalf("unexpected amount or currency: %+v", item)
	}
}

func TestHandleCreateAgreement_Success(t *testing.T) {
	created := &ledger.Agreement{Address: common.HexToAddress(testAgreement)}
	server := &Server{
		ledger: &stubLedger{created: created},
		views:  &stubViews{view: sampleView()},
	}

	body := strings.NewReader(`{"amount":"1000","deadline":1730700000,"title":"Kitchen remodel","networkId":"eip155:137"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/agreements", body))
	rec := httptest.NewRecorder()

	server.handleAgreements(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		TxID      string            `json:"txId"`
		Agreement agreementResponse `json:"agreement"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.TxID == "" {
		t.Fatal("expected a transaction id")
	}
	if payload.Agreement.Address != testAgreement {
		t.Fatalf("unexpected agreement: %+v", payload.Agreement)
	}
}

func TestHandleCreateAgreement_BadAmount(t *testing.T) {
	server := &Server{ledger: &stubLedger{}, views: &stubViews{}}

	body := strings.NewReader(`{"amount":"-5","deadline":1730700000}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/agreements", body))
	rec := httptest.NewRecorder()

	server.handleAgreements(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCreateAgreement_PastDeadline(t *testing.T) {
	server := &Server{
		ledger: &stubLedger{err: ledger.ErrDeadline},
		views:  &stubViews{},
	}

	body := strings.NewReader(`{"amount":"1000","deadline":5}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/agreements", body))
	rec := httptest.NewRecorder()

	server.handleAgreements(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetAgreement_Success(t *testing.T) {
	server := &Server{views: &stubViews{view: sampleView()}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/agreements/"+testAgreement, nil))
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp agreementResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "Pending" || resp.Title != "Kitchen remodel" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleGetAgreement_ReadFailure(t *testing.T) {
	server := &Server{views: &stubViews{err: projection.ErrReadFailed}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/agreements/"+testAgreement, nil))
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestHandleAgreementDetail_InvalidAddress(t *testing.T) {
	server := &Server{}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/agreements/not-an-address", nil))
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleTransition_Fill(t *testing.T) {
	server := &Server{
		ledger: &stubLedger{},
		views:  &stubViews{view: sampleView()},
	}

	body := strings.NewReader(`{"amount":"1000"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/agreements/"+testAgreement+"/fill", body))
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleTransition_InvalidState(t *testing.T) {
	server := &Server{
		ledger: &stubLedger{err: ledger.ErrInvalidState},
		views:  &stubViews{},
	}

	body := strings.NewReader(`{"reason":"changed my mind"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/agreements/"+testAgreement+"/cancel", body))
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleTransition_Unauthorized(t *testing.T) {
	server := &Server{
		ledger: &stubLedger{err: ledger.ErrUnauthorized},
		views:  &stubViews{},
	}

	body := strings.NewReader(`{"amount":"500"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/agreements/"+testAgreement+"/release", body))
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleTransition_EmergencyTooEarly(t *testing.T) {
	server := &Server{
		ledger: &stubLedger{err: ledger.ErrDeadline},
		views:  &stubViews{},
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/agreements/"+testAgreement+"/emergency-release", nil))
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleTransition_TransferFailure(t *testing.T) {
	server := &Server{
		ledger: &stubLedger{err: ledger.ErrTransferFailed},
		views:  &stubViews{},
	}

	body := strings.NewReader(`{"amount":"500"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/agreements/"+testAgreement+"/resolve", body))
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestHandleTransition_UnknownAction(t *testing.T) {
	server := &Server{ledger: &stubLedger{}, views: &stubViews{}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/agreements/"+testAgreement+"/refund", nil))
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleAgreementEvents_Success(t *testing.T) {
	now := time.Now().UTC()
	server := &Server{
		events: &stubEvents{
			events: []projection.LedgerEvent{
				{ID: 1, AgreementAddress: testAgreement, Type: ledger.EventTypeCreated, Attributes: map[string]string{"status": "Pending"}, CreatedAt: now},
				{ID: 2, AgreementAddress: testAgreement, Type: ledger.EventTypeFilled, Attributes: map[string]string{"status": "Filled"}, CreatedAt: now},
			},
		},
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/agreements/"+testAgreement+"/events", nil))
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Items []eventResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 2 || payload.Items[0].Type != ledger.EventTypeCreated {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
