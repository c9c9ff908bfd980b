// Package funds provides the outbound value-movement capability and the
// treasury authorization policy the ledger is parameterized over.
package funds

import (
	"fmt"
	"sync"
)

// AccountBook is an in-memory Transferrer. Outbound payouts and withdrawals
// credit per-recipient balances; nothing ever debits them. It stands in for
// the custody rail in single-process deployments and in tests.
type AccountBook struct {
	mu       sync.Mutex
	balances map[string]int64
}

// NewAccountBook creates an empty account book.
func NewAccountBook() *AccountBook {
	return &AccountBook{balances: make(map[string]int64)}
}

// Transfer credits amount to the recipient. Never fails for valid input.
func (b *AccountBook) Transfer(to string, amount int64) error {
	if to == "" {
		return fmt.Errorf("transfer: empty recipient")
	}
	if amount <= 0 {
		return fmt.Errorf("transfer: non-positive amount %d", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[to] += amount
	return nil
}

// Balance returns the total credited to a recipient so far.
func (b *AccountBook) Balance(to string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[to]
}

// StaticAuthorizer allows a fixed set of treasury actors.
type StaticAuthorizer struct {
	allowed map[string]struct{}
}

// NewStaticAuthorizer builds an authorizer over the given actor names.
func NewStaticAuthorizer(actors ...string) *StaticAuthorizer {
	allowed := make(map[string]struct{}, len(actors))
	for _, a := range actors {
		allowed[a] = struct{}{}
	}
	return &StaticAuthorizer{allowed: allowed}
}

// Authorize reports whether the actor may perform treasury operations.
func (a *StaticAuthorizer) Authorize(actor string) bool {
	_, ok := a.allowed[actor]
	return ok
}
