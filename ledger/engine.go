package ledger

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/role"
)

// Engine enforces the agreement state machine over a pluggable State backend.
// All transitions are serialized behind the engine mutex and re-validate
// their guards against current state inside the critical section, so a
// transition racing a just-committed one fails its guard instead of applying
// a duplicate effect. Guard failures abort with no mutation; a disbursement
// failure rolls back any transfer already applied. Events are built inside
// the critical section but handed to the emitter only after the mutex is
// released, so a slow emitter cannot stall other transitions.
type Engine struct {
	mu      sync.Mutex
	state   State
	emitter Emitter
	nowFn   func() int64
	nonceFn func() []byte
}

// NewEngine creates an engine over the given state with a no-op emitter.
func NewEngine(state State) *Engine {
	return &Engine{
		state:   state,
		emitter: NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		nonceFn: func() []byte {
			id := uuid.New()
			return id[:]
		},
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter Emitter) {
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Intended for tests that need
// deterministic deadlines.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *Event) {
	if e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

// Create initialises and persists a new agreement in the Pending state and
// returns a copy of it. The agreement address derives from the creator and a
// fresh nonce, so distinct creations with identical terms get distinct
// addresses.
func (e *Engine) Create(creator common.Address, amount *big.Int, deadline int64, title, description, networkID string) (*Agreement, error) {
	agreement, event, err := e.create(creator, amount, deadline, title, description, networkID)
	if err != nil {
		return nil, err
	}
	e.emit(event)
	return agreement, nil
}

func (e *Engine) create(creator common.Address, amount *big.Int, deadline int64, title, description, networkID string) (*Agreement, *Event, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: amount must be positive", ErrAmountOutOfBounds)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	if deadline <= now {
		return nil, nil, fmt.Errorf("%w: deadline must be in the future", ErrDeadline)
	}

	hash := ethcrypto.Keccak256(creator.Bytes(), e.nonceFn())
	addr := common.BytesToAddress(hash[12:])

	agreement := &Agreement{
		Address:     addr,
		Creator:     creator,
		Amount:      new(big.Int).Set(amount),
		Deadline:    deadline,
		NetworkID:   networkID,
		Title:       title,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   now,
	}
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, nil, fmt.Errorf("ledger: store agreement: %w", err)
	}
	return agreement.Clone(), NewCreatedEvent(agreement), nil
}

// Get returns a consistent snapshot of the agreement at addr.
func (e *Engine) Get(addr common.Address) (*Agreement, error) {
	agreement, ok := e.state.AgreementGet(addr)
	if !ok {
		return nil, ErrNotFound
	}
	return agreement, nil
}

// Balance reports the disbursed funds held by an external account.
func (e *Engine) Balance(account common.Address) *big.Int {
	return e.state.Balance(account)
}

// VaultBalance reports the funds currently custodied for an agreement.
func (e *Engine) VaultBalance(addr common.Address) *big.Int {
	return e.state.VaultBalance(addr)
}

// Fill sets the caller as depositor and takes custody of the attached value.
// The value travels with the call, so the caller needs no prior balance.
func (e *Engine) Fill(addr, caller common.Address, value *big.Int) error {
	event, err := e.fill(addr, caller, value)
	if err != nil {
		return err
	}
	e.emit(event)
	return nil
}

func (e *Engine) fill(addr, caller common.Address, value *big.Int) (*Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agreement, ok := e.state.AgreementGet(addr)
	if !ok {
		return nil, ErrNotFound
	}
	if agreement.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot fill in status %s", ErrInvalidState, agreement.Status)
	}
	if role.Resolve(agreement.Creator, agreement.Depositor, caller) != role.Depositor {
		return nil, fmt.Errorf("%w: creator cannot fill own agreement", ErrUnauthorized)
	}
	if value == nil || value.Cmp(agreement.Amount) != 0 {
		return nil, fmt.Errorf("%w: fill value must equal agreement amount", ErrAmountOutOfBounds)
	}

	if err := e.state.VaultCredit(addr, value); err != nil {
		return nil, fmt.Errorf("%w: credit vault: %v", ErrTransferFailed, err)
	}

	depositor := caller
	agreement.Depositor = &depositor
	agreement.Status = StatusFilled
	agreement.FilledAt = e.nowFn()
	if err := e.state.AgreementPut(agreement); err != nil {
		_ = e.state.VaultDebit(addr, value)
		return nil, fmt.Errorf("ledger: store agreement: %w", err)
	}
	return NewFilledEvent(agreement), nil
}

// Cancel voids a still-unfilled agreement. Only the creator may cancel, and
// only while no depositor exists, so no funds are ever at stake.
func (e *Engine) Cancel(addr, caller common.Address, reason string) error {
	event, err := e.cancel(addr, caller, reason)
	if err != nil {
		return err
	}
	e.emit(event)
	return nil
}

func (e *Engine) cancel(addr, caller common.Address, reason string) (*Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agreement, ok := e.state.AgreementGet(addr)
	if !ok {
		return nil, ErrNotFound
	}
	if agreement.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot cancel in status %s", ErrInvalidState, agreement.Status)
	}
	if caller != agreement.Creator {
		return nil, fmt.Errorf("%w: only the creator may cancel", ErrUnauthorized)
	}

	agreement.Status = StatusCanceled
	agreement.CanceledAt = e.nowFn()
	agreement.CancelReason = reason
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, fmt.Errorf("ledger: store agreement: %w", err)
	}
	return NewCanceledEvent(agreement), nil
}

// Release disburses releaseAmount to the depositor and the remainder to the
// creator, then marks the agreement Released.
func (e *Engine) Release(addr, caller common.Address, releaseAmount *big.Int, description string) error {
	event, err := e.settle(addr, caller, releaseAmount, description, StatusFilled, NewReleasedEvent)
	if err != nil {
		return err
	}
	e.emit(event)
	return nil
}

// OpenDispute records the creator's dispute with a proposed release amount.
// The proposed amount is informational; resolution remains the creator's
// unilateral decision.
func (e *Engine) OpenDispute(addr, caller common.Address, reason string, proposedAmount *big.Int) error {
	event, err := e.openDispute(addr, caller, reason, proposedAmount)
	if err != nil {
		return err
	}
	e.emit(event)
	return nil
}

func (e *Engine) openDispute(addr, caller common.Address, reason string, proposedAmount *big.Int) (*Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agreement, ok := e.state.AgreementGet(addr)
	if !ok {
		return nil, ErrNotFound
	}
	if agreement.Status != StatusFilled {
		return nil, fmt.Errorf("%w: cannot dispute in status %s", ErrInvalidState, agreement.Status)
	}
	if caller != agreement.Creator {
		return nil, fmt.Errorf("%w: only the creator may open a dispute", ErrUnauthorized)
	}
	if proposedAmount == nil || proposedAmount.Sign() < 0 || proposedAmount.Cmp(agreement.Amount) > 0 {
		return nil, fmt.Errorf("%w: proposed amount outside [0, amount]", ErrAmountOutOfBounds)
	}

	agreement.Status = StatusDisputed
	agreement.DisputedAt = e.nowFn()
	agreement.DisputeReason = reason
	agreement.ProposedAmount = new(big.Int).Set(proposedAmount)
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, fmt.Errorf("ledger: store agreement: %w", err)
	}
	return NewDisputedEvent(agreement), nil
}

// ResolveDispute settles a disputed agreement with the same disbursement rule
// as Release.
func (e *Engine) ResolveDispute(addr, caller common.Address, releaseAmount *big.Int, description string) error {
	event, err := e.settle(addr, caller, releaseAmount, description, StatusDisputed, NewResolvedEvent)
	if err != nil {
		return err
	}
	e.emit(event)
	return nil
}

// EmergencyRelease sends the full amount to the depositor once the deadline
// has elapsed. Any address may invoke it, so a creator gone silent cannot
// strand the deposit. The caller is recorded nowhere and grants nothing.
func (e *Engine) EmergencyRelease(addr, _ common.Address) error {
	event, err := e.emergencyRelease(addr)
	if err != nil {
		return err
	}
	e.emit(event)
	return nil
}

func (e *Engine) emergencyRelease(addr common.Address) (*Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agreement, ok := e.state.AgreementGet(addr)
	if !ok {
		return nil, ErrNotFound
	}
	if e.nowFn() <= agreement.Deadline {
		return nil, fmt.Errorf("%w: deadline not reached", ErrDeadline)
	}
	if agreement.Status != StatusFilled {
		return nil, fmt.Errorf("%w: cannot emergency-release in status %s", ErrInvalidState, agreement.Status)
	}

	rollback, err := e.disburse(agreement, agreement.Amount)
	if err != nil {
		return nil, err
	}

	agreement.Status = StatusReleased
	agreement.ReleasedAt = e.nowFn()
	agreement.ReleasedAmount = new(big.Int).Set(agreement.Amount)
	if err := e.state.AgreementPut(agreement); err != nil {
		rollback()
		return nil, fmt.Errorf("ledger: store agreement: %w", err)
	}
	return NewEmergencyReleasedEvent(agreement), nil
}

// settle applies the shared release/resolve path: guard, disburse, mutate.
func (e *Engine) settle(addr, caller common.Address, releaseAmount *big.Int, description string, from Status, eventFn func(*Agreement) *Event) (*Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agreement, ok := e.state.AgreementGet(addr)
	if !ok {
		return nil, ErrNotFound
	}
	if agreement.Status != from {
		return nil, fmt.Errorf("%w: cannot release in status %s", ErrInvalidState, agreement.Status)
	}
	if caller != agreement.Creator {
		return nil, fmt.Errorf("%w: only the creator may release", ErrUnauthorized)
	}
	if releaseAmount == nil || releaseAmount.Sign() < 0 || releaseAmount.Cmp(agreement.Amount) > 0 {
		return nil, fmt.Errorf("%w: release amount outside [0, amount]", ErrAmountOutOfBounds)
	}

	rollback, err := e.disburse(agreement, releaseAmount)
	if err != nil {
		return nil, err
	}

	agreement.Status = StatusReleased
	agreement.ReleasedAt = e.nowFn()
	agreement.ReleasedAmount = new(big.Int).Set(releaseAmount)
	agreement.ReleaseDescription = description
	if err := e.state.AgreementPut(agreement); err != nil {
		rollback()
		return nil, fmt.Errorf("ledger: store agreement: %w", err)
	}
	return eventFn(agreement), nil
}

// disburse empties the agreement vault: toDepositor goes to the depositor,
// the complement to the creator, both or neither. The returned rollback
// reverses the whole disbursement if the status write fails afterwards.
func (e *Engine) disburse(agreement *Agreement, toDepositor *big.Int) (func(), error) {
	if agreement.Depositor == nil {
		return nil, fmt.Errorf("%w: no depositor to disburse to", ErrInvalidState)
	}
	depositor := *agreement.Depositor
	total := agreement.Amount
	toCreator := new(big.Int).Sub(total, toDepositor)

	if err := e.state.VaultDebit(agreement.Address, total); err != nil {
		return nil, fmt.Errorf("%w: debit vault: %v", ErrTransferFailed, err)
	}
	if toDepositor.Sign() > 0 {
		if err := e.state.Credit(depositor, toDepositor); err != nil {
			_ = e.state.VaultCredit(agreement.Address, total)
			return nil, fmt.Errorf("%w: credit depositor: %v", ErrTransferFailed, err)
		}
	}
	if toCreator.Sign() > 0 {
		if err := e.state.Credit(agreement.Creator, toCreator); err != nil {
			if toDepositor.Sign() > 0 {
				_ = e.state.Debit(depositor, toDepositor)
			}
			_ = e.state.VaultCredit(agreement.Address, total)
			return nil, fmt.Errorf("%w: credit creator: %v", ErrTransferFailed, err)
		}
	}

	rollback := func() {
		if toDepositor.Sign() > 0 {
			_ = e.state.Debit(depositor, toDepositor)
		}
		if toCreator.Sign() > 0 {
			_ = e.state.Debit(agreement.Creator, toCreator)
		}
		_ = e.state.VaultCredit(agreement.Address, total)
	}
	return rollback, nil
}
