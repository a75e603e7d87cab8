package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"escrowflow/auth"
	"escrowflow/ledger"
	"escrowflow/projection"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyWallet
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, string, error)
}

type agreementLedger interface {
	Create(creator common.Address, amount *big.Int, deadline int64, title, description, networkID string) (*ledger.Agreement, error)
	Fill(addr, caller common.Address, value *big.Int) error
	Cancel(addr, caller common.Address, reason string) error
	Release(addr, caller common.Address, releaseAmount *big.Int, description string) error
	OpenDispute(addr, caller common.Address, reason string, proposedAmount *big.Int) error
	ResolveDispute(addr, caller common.Address, releaseAmount *big.Int, description string) error
	EmergencyRelease(addr, caller common.Address) error
}

type viewService interface {
	Fetch(ctx context.Context, user, addr common.Address) (projection.Agreement, error)
	FetchAll(ctx context.Context, user common.Address) ([]projection.Agreement, error)
}

type eventLister interface {
	List(ctx context.Context, agreementAddress string) ([]projection.LedgerEvent, error)
}

// Server routes HTTP traffic to the auth, ledger and projection layers.
type Server struct {
	authService authService
	ledger      agreementLedger
	views       viewService
	events      eventLister
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/agreements", s.requireAuth(s.handleAgreements))
	mux.HandleFunc("/api/agreements/", s.requireAuth(s.handleAgreementDetail))
	return mux
}

// requireAuth validates the bearer token and stashes the account id and
// wallet address in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, wallet, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyWallet, wallet)
		next(w, r.WithContext(ctx))
	}
}

func callerWallet(r *http.Request) (common.Address, bool) {
	wallet, _ := r.Context().Value(ctxKeyWallet).(string)
	addr, err := ledger.ParseAddress(wallet)
	if err != nil {
		return common.Address{}, false
	}
	return addr, true
}

type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	WalletAddress string `json:"walletAddress"`
	CreatedAt     string `json:"createdAt"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		WalletAddress: u.WalletAddress,
		CreatedAt:     u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, newUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Token string       `json:"token"`
		User  userResponse `json:"user"`
	}{Token: result.Token, User: newUserResponse(&result.User)})
}

type agreementResponse struct {
	Address      string `json:"address"`
	Creator      string `json:"creator"`
	Depositor    string `json:"depositor,omitempty"`
	Role         string `json:"role"`
	Counterparty string `json:"counterparty"`

	Amount         string `json:"amount"`
	ReleasedAmount string `json:"releasedAmount,omitempty"`
	ProposedAmount string `json:"proposedAmount,omitempty"`

	Status      string `json:"status"`
	NetworkID   string `json:"networkId"`
	NetworkName string `json:"networkName"`
	Currency    string `json:"currency"`

	Title              string `json:"title"`
	Description        string `json:"description,omitempty"`
	DisputeReason      string `json:"disputeReason,omitempty"`
	ReleaseDescription string `json:"releaseDescription,omitempty"`
	CancelReason       string `json:"cancelReason,omitempty"`

	Deadline   string  `json:"deadline"`
	CreatedAt  string  `json:"createdAt"`
	FilledAt   *string `json:"filledAt,omitempty"`
	ReleasedAt *string `json:"releasedAt,omitempty"`
	DisputedAt *string `json:"disputedAt,omitempty"`
	CanceledAt *string `json:"canceledAt,omitempty"`
}

func newAgreementResponse(view projection.Agreement) agreementResponse {
	resp := agreementResponse{
		Address:            view.Address,
		Creator:            view.Creator,
		Depositor:          view.Depositor,
		Role:               string(view.Role),
		Counterparty:       view.Counterparty,
		Amount:             bigString(view.Amount),
		ReleasedAmount:     bigString(view.ReleasedAmount),
		ProposedAmount:     bigString(view.ProposedAmount),
		Status:             view.StatusName,
		NetworkID:          view.NetworkID,
		NetworkName:        view.NetworkName,
		Currency:           view.Currency,
		Title:              view.Title,
		Description:        view.Description,
		DisputeReason:      view.DisputeReason,
		ReleaseDescription: view.ReleaseDescription,
		CancelReason:       view.CancelReason,
		Deadline:           view.Deadline.UTC().Format(time.RFC3339),
		CreatedAt:          view.CreatedAt.UTC().Format(time.RFC3339),
		FilledAt:           timeString(view.FilledAt),
		ReleasedAt:         timeString(view.ReleasedAt),
		DisputedAt:         timeString(view.DisputedAt),
		CanceledAt:         timeString(view.CanceledAt),
	}
	return resp
}

type createAgreementRequest struct {
	Amount      string `json:"amount"`
	Deadline    int64  `json:"deadline"`
	Title       string `json:"title"`
	Description string `json:"description"`
	NetworkID   string `json:"networkId"`
}

func (s *Server) handleAgreements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListAgreements(w, r)
	case http.MethodPost:
		s.handleCreateAgreement(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListAgreements(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerWallet(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid wallet in token")
		return
	}

	views, err := s.views.FetchAll(r.Context(), caller)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list agreements failed")
		return
	}

	items := make([]agreementResponse, 0, len(views))
	for _, view := range views {
		items = append(items, newAgreementResponse(view))
	}

	writeJSON(w, http.StatusOK, struct {
		Items []agreementResponse `json:"items"`
		Total int                 `json:"total"`
	}{Items: items, Total: len(items)})
}

func (s *Server) handleCreateAgreement(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerWallet(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid wallet in token")
		return
	}

	var req createAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	created, err := s.ledger.Create(caller, amount, req.Deadline, req.Title, req.Description, req.NetworkID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	view, err := s.views.Fetch(r.Context(), caller, created.Address)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		TxID      string            `json:"txId"`
		Agreement agreementResponse `json:"agreement"`
	}{TxID: uuid.NewString(), Agreement: newAgreementResponse(view)})
}

type transitionRequest struct {
	Amount      string `json:"amount"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func (s *Server) handleAgreementDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agreements/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "agreement address required")
		return
	}

	addr, err := ledger.ParseAddress(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agreement address")
		return
	}

	caller, ok := callerWallet(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid wallet in token")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetAgreement(w, r, caller, addr)
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		s.handleAgreementEvents(w, r, addr)
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.handleTransition(w, r, caller, addr, parts[1])
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request, caller, addr common.Address) {
	view, err := s.views.Fetch(r.Context(), caller, addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgreementResponse(view))
}

type eventResponse struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  string            `json:"createdAt"`
}

func (s *Server) handleAgreementEvents(w http.ResponseWriter, r *http.Request, addr common.Address) {
	events, err := s.events.List(r.Context(), addr.Hex())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list events failed")
		return
	}

	items := make([]eventResponse, 0, len(events))
	for _, event := range events {
		items = append(items, eventResponse{
			ID:         event.ID,
			Type:       event.Type,
			Attributes: event.Attributes,
			CreatedAt:  event.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, struct {
		Items []eventResponse `json:"items"`
	}{Items: items})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, caller, addr common.Address, action string) {
	var req transitionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var err error
	switch action {
	case "fill":
		var value *big.Int
		value, err = parseAmount(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		err = s.ledger.Fill(addr, caller, value)
	case "cancel":
		err = s.ledger.Cancel(addr, caller, req.Reason)
	case "release":
		var amount *big.Int
		amount, err = parseAmount(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		err = s.ledger.Release(addr, caller, amount, req.Description)
	case "dispute":
		var proposed *big.Int
		proposed, err = parseAmount(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		err = s.ledger.OpenDispute(addr, caller, req.Reason, proposed)
	case "resolve":
		var amount *big.Int
		amount, err = parseAmount(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		err = s.ledger.ResolveDispute(addr, caller, amount, req.Description)
	case "emergency-release":
		err = s.ledger.EmergencyRelease(addr, caller)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	view, err := s.views.Fetch(r.Context(), caller, addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		TxID      string            `json:"txId"`
		Agreement agreementResponse `json:"agreement"`
	}{TxID: uuid.NewString(), Agreement: newAgreementResponse(view)})
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "agreement not found")
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "caller not authorized")
	case errors.Is(err, ledger.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid state for transition")
	case errors.Is(err, ledger.ErrAmountOutOfBounds):
		writeError(w, http.StatusBadRequest, "amount out of bounds")
	case errors.Is(err, ledger.ErrDeadline):
		writeError(w, http.StatusBadRequest, "deadline constraint violated")
	case errors.Is(err, ledger.ErrTransferFailed):
		writeError(w, http.StatusBadGateway, "transfer failed")
	case errors.Is(err, projection.ErrReadFailed):
		writeError(w, http.StatusBadGateway, "ledger read failed")
	default:
		log.Printf("api: unexpected error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("invalid amount")
	}
	return amount, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: message})
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func timeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
