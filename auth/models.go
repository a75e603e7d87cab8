package auth

import "time"

// User is the domain representation of a dashboard account. Each account is
// bound to exactly one wallet address; that address, not the account id, is
// the identity handed to the ledger and the projection layer.
type User struct {
	ID            string
	Email         string
	WalletAddress string // canonical lowercase hex
	PasswordHash  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RegisterRequest contains registration data supplied by callers.
type RegisterRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	WalletAddress string `json:"wallet_address"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
