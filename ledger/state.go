package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// State is the storage backend the engine drives. Implementations hold the
// agreement records, the per-agreement custody vault, and the payout balances
// of external accounts. Every method is fallible so the engine can abort or
// roll back a transition when the backend refuses an operation.
type State interface {
	AgreementPut(*Agreement) error
	AgreementGet(addr common.Address) (*Agreement, bool)
	VaultCredit(addr common.Address, amount *big.Int) error
	VaultDebit(addr common.Address, amount *big.Int) error
	VaultBalance(addr common.Address) *big.Int
	Credit(account common.Address, amount *big.Int) error
	Debit(account common.Address, amount *big.Int) error
	Balance(account common.Address) *big.Int
}

// MemoryState is the in-process State used by the API server and the engine
// tests. Safe for concurrent use.
type MemoryState struct {
	mu         sync.RWMutex
	agreements map[common.Address]*Agreement
	vaults     map[common.Address]*big.Int
	balances   map[common.Address]*big.Int
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		agreements: make(map[common.Address]*Agreement),
		vaults:     make(map[common.Address]*big.Int),
		balances:   make(map[common.Address]*big.Int),
	}
}

func (m *MemoryState) AgreementPut(a *Agreement) error {
	if a == nil {
		return fmt.Errorf("ledger: nil agreement")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("ledger: invalid status %d", a.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agreements[a.Address] = a.Clone()
	return nil
}

func (m *MemoryState) AgreementGet(addr common.Address) (*Agreement, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agreements[addr]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (m *MemoryState) VaultCredit(addr common.Address, amount *big.Int) error {
	return m.adjust(m.vaultsMap, addr, amount, false)
}

func (m *MemoryState) VaultDebit(addr common.Address, amount *big.Int) error {
	return m.adjust(m.vaultsMap, addr, amount, true)
}

func (m *MemoryState) VaultBalance(addr common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bal, ok := m.vaults[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (m *MemoryState) Credit(account common.Address, amount *big.Int) error {
	return m.adjust(m.balancesMap, account, amount, false)
}

func (m *MemoryState) Debit(account common.Address, amount *big.Int) error {
	return m.adjust(m.balancesMap, account, amount, true)
}

func (m *MemoryState) Balance(account common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bal, ok := m.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (m *MemoryState) vaultsMap() map[common.Address]*big.Int   { return m.vaults }
func (m *MemoryState) balancesMap() map[common.Address]*big.Int { return m.balances }

func (m *MemoryState) adjust(table func() map[common.Address]*big.Int, key common.Address, amount *big.Int, debit bool) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: invalid amount")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := table()
	bal, ok := entries[key]
	if !ok {
		bal = big.NewInt(0)
	}
	if debit {
		if bal.Cmp(amount) < 0 {
			return fmt.Errorf("ledger: insufficient balance")
		}
		entries[key] = new(big.Int).Sub(bal, amount)
		return nil
	}
	entries[key] = new(big.Int).Add(bal, amount)
	return nil
}
