package ledger

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Status represents the lifecycle states of an escrow agreement.
type Status uint8

const (
	StatusPending Status = iota
	StatusFilled
	StatusReleased
	StatusDisputed
	StatusCanceled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusFilled, StatusReleased, StatusDisputed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusCanceled
}

// Name returns the display name used by the projection layer.
func (s Status) Name() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFilled:
		return "filled"
	case StatusReleased:
		return "released"
	case StatusDisputed:
		return "disputed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func (s Status) String() string { return s.Name() }

// Agreement holds the full state of a single escrow agreement. The creator,
// amount, deadline, title, description and network id are fixed at creation;
// every other field is written exactly once by the transition that owns it.
// A nil Depositor models the open slot: any non-creator address may still
// become the depositor by filling.
type Agreement struct {
	Address   common.Address
	Creator   common.Address
	Depositor *common.Address

	Amount    *big.Int
	Deadline  int64
	NetworkID string

	Title       string
	Description string

	Status Status

	CreatedAt  int64
	FilledAt   int64
	ReleasedAt int64
	DisputedAt int64
	CanceledAt int64

	ReleasedAmount     *big.Int
	ProposedAmount     *big.Int
	DisputeReason      string
	ReleaseDescription string
	CancelReason       string
}

// Clone returns a deep copy so callers can mutate the copy without touching
// the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Depositor != nil {
		dep := *a.Depositor
		clone.Depositor = &dep
	}
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	}
	if a.ReleasedAmount != nil {
		clone.ReleasedAmount = new(big.Int).Set(a.ReleasedAmount)
	}
	if a.ProposedAmount != nil {
		clone.ProposedAmount = new(big.Int).Set(a.ProposedAmount)
	}
	return &clone
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ParseAddress validates a hex-encoded address and returns its canonical
// 20-byte form. Comparison of parsed addresses is therefore case-insensitive.
func ParseAddress(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if !addressPattern.MatchString(trimmed) {
		return common.Address{}, fmt.Errorf("ledger: invalid address %q", s)
	}
	return common.HexToAddress(trimmed), nil
}
