package projection

import (
	"math/big"
	"time"

	"escrowflow/ledger"
	"escrowflow/role"
)

// CounterpartyNone is shown to a creator while the depositor slot is open.
const CounterpartyNone = "No depositor yet"

// RoleRecord mirrors the user_agreements table: the advisory, append-only
// off-chain index of which agreements an address has touched and in which
// role. Rebuildable from the ledger at any time; never consulted for
// authorization.
type RoleRecord struct {
	UserAddress      string
	AgreementAddress string
	Role             role.Role
	NetworkID        string
	CreatedAt        time.Time
}

// LedgerEvent mirrors the agreement_events table: an immutable transition
// record captured from the ledger's event stream.
type LedgerEvent struct {
	ID               int64
	AgreementAddress string
	Type             string
	Attributes       map[string]string
	CreatedAt        time.Time
}

// Agreement is the display-ready view merging the ledger snapshot with the
// caller's role record. Recomputed on every fetch, never persisted.
type Agreement struct {
	Address      string
	Creator      string
	Depositor    string // empty while the slot is open
	Role         role.Role
	Counterparty string

	Amount         *big.Int
	ReleasedAmount *big.Int
	ProposedAmount *big.Int

	Status      ledger.Status
	StatusName  string
	NetworkID   string
	NetworkName string
	Currency    string

	Title              string
	Description        string
	DisputeReason      string
	ReleaseDescription string
	CancelReason       string

	Deadline   time.Time
	CreatedAt  time.Time
	FilledAt   *time.Time
	ReleasedAt *time.Time
	DisputedAt *time.Time
	CanceledAt *time.Time

	RecordedAt time.Time
}
