package ledger

import (
	"DiceLedger/internal/event"

	"github.com/google/uuid"
)

// Treasury operations share the ledger's serial authority and balance
// invariants with bet resolution, but are gated on the authorization
// capability instead of wagering limits. Each is a single atomic
// transaction: it fully commits or fully aborts.

// Deposit credits privileged funds to the house balance. The deposit itself
// is the inbound funds movement, so held funds grow by the same amount.
func (l *Ledger) Deposit(opID uuid.UUID, actor string, amount int64) error {
	if l.reentrant() {
		return ErrReentrantCall
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.auth.Authorize(actor) {
		return &AuthorizationError{Actor: actor}
	}
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	l.heldFunds += amount
	l.houseBalance += amount

	ts := l.now()
	l.emit(event.EventTypeFundsDeposited, opID.String(), ts, event.FundsDeposited{
		OpID:   opID,
		Actor:  actor,
		Amount: amount,
	})
	l.publishOnly(event.EventTypeHouseBalanceChanged, opID.String(), ts, event.HouseBalanceChanged{
		NewBalance: l.houseBalance,
		HeldFunds:  l.heldFunds,
	})

	if l.metrics != nil {
		l.metrics.TreasuryOps.WithLabelValues("deposit").Inc()
		l.metrics.HouseBalance.Set(float64(l.houseBalance))
		l.metrics.HeldFunds.Set(float64(l.heldFunds))
	}
	return nil
}

// Withdraw debits the house balance and transfers the amount to the
// privileged actor. Fails with no mutation when the amount exceeds either
// the house balance or total held funds; a failed transfer rolls the
// debit back in full.
func (l *Ledger) Withdraw(opID uuid.UUID, actor string, amount int64) error {
	if l.reentrant() {
		return ErrReentrantCall
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.auth.Authorize(actor) {
		return &AuthorizationError{Actor: actor}
	}
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if amount > l.houseBalance {
		return &ValidationError{Field: "amount", Reason: "exceeds house balance"}
	}
	if amount > l.heldFunds {
		return &ValidationError{Field: "amount", Reason: "exceeds held funds"}
	}

	// Debit before the external call; roll back on transfer failure.
	l.houseBalance -= amount
	l.heldFunds -= amount

	if err := l.guardedTransfer(actor, amount); err != nil {
		l.houseBalance += amount
		l.heldFunds += amount
		return &TransferError{To: actor, Amount: amount, Err: err}
	}

	ts := l.now()
	l.emit(event.EventTypeFundsWithdrawn, opID.String(), ts, event.FundsWithdrawn{
		OpID:   opID,
		Actor:  actor,
		Amount: amount,
	})
	l.publishOnly(event.EventTypeHouseBalanceChanged, opID.String(), ts, event.HouseBalanceChanged{
		NewBalance: l.houseBalance,
		HeldFunds:  l.heldFunds,
	})

	if l.metrics != nil {
		l.metrics.TreasuryOps.WithLabelValues("withdraw").Inc()
		l.metrics.HouseBalance.Set(float64(l.houseBalance))
		l.metrics.HeldFunds.Set(float64(l.heldFunds))
	}
	return nil
}

// ReceiveUnsolicitedFunds credits inbound value not tied to any bet
// entirely to the house balance. No authorization required — anyone may
// donate to the house.
func (l *Ledger) ReceiveUnsolicitedFunds(opID uuid.UUID, from string, amount int64) error {
	if l.reentrant() {
		return ErrReentrantCall
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	l.heldFunds += amount
	l.houseBalance += amount

	ts := l.now()
	l.emit(event.EventTypeUnsolicitedCredit, opID.String(), ts, event.UnsolicitedCredit{
		OpID:   opID,
		From:   from,
		Amount: amount,
	})
	l.publishOnly(event.EventTypeHouseBalanceChanged, opID.String(), ts, event.HouseBalanceChanged{
		NewBalance: l.houseBalance,
		HeldFunds:  l.heldFunds,
	})

	if l.metrics != nil {
		l.metrics.TreasuryOps.WithLabelValues("credit").Inc()
		l.metrics.HouseBalance.Set(float64(l.houseBalance))
		l.metrics.HeldFunds.Set(float64(l.heldFunds))
	}
	return nil
}
