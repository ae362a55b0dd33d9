package execution

import (
	"sort"
	"strings"
	"sync"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/shopspring/decimal"
)

type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Ledger holds simulated per-user balances. Every mutation happens under one
// mutex, so a trade's two legs are never observed half-applied.
type Ledger struct {
	mu       sync.Mutex
	initial  map[string]decimal.Decimal
	accounts map[string]map[string]*Balance
}

// NewLedger seeds every new account with initial. Asset names are upper-cased.
func NewLedger(initial map[string]decimal.Decimal) *Ledger {
	seed := make(map[string]decimal.Decimal, len(initial))
	for asset, amount := range initial {
		seed[strings.ToUpper(asset)] = amount
	}
	return &Ledger{initial: seed, accounts: make(map[string]map[string]*Balance)}
}

// account must be called with mu held.
func (l *Ledger) account(userID string) map[string]*Balance {
	acct, ok := l.accounts[userID]
	if !ok {
		acct = make(map[string]*Balance, len(l.initial))
		for asset, amount := range l.initial {
			acct[asset] = &Balance{Asset: asset, Free: amount}
		}
		l.accounts[userID] = acct
	}
	return acct
}

func balanceOf(acct map[string]*Balance, asset string) *Balance {
	b, ok := acct[asset]
	if !ok {
		b = &Balance{Asset: asset}
		acct[asset] = b
	}
	return b
}

func freeOf(acct map[string]*Balance, asset string) decimal.Decimal {
	if b, ok := acct[asset]; ok {
		return b.Free
	}
	return decimal.Zero
}

// Balances returns a snapshot sorted by asset.
func (l *Ledger) Balances(userID string) []Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(userID)
	out := make([]Balance, 0, len(acct))
	for _, b := range acct {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Reset restores the initial balances.
func (l *Ledger) Reset(userID string) []Balance {
	l.mu.Lock()
	delete(l.accounts, userID)
	l.mu.Unlock()
	return l.Balances(userID)
}

// swap debits one asset's free balance and credits another's in one step.
// On InsufficientBalance nothing changes.
func (l *Ledger) swap(userID, debitAsset string, debit decimal.Decimal, creditAsset string, credit decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(userID)
	if free := freeOf(acct, debitAsset); free.LessThan(debit) {
		return apperror.InsufficientBalance(debitAsset, free, debit)
	}
	src := balanceOf(acct, debitAsset)
	src.Free = src.Free.Sub(debit)
	dst := balanceOf(acct, creditAsset)
	dst.Free = dst.Free.Add(credit)
	return nil
}

// lock moves amount of asset from free to locked.
func (l *Ledger) lock(userID, asset string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(userID)
	if free := freeOf(acct, asset); free.LessThan(amount) {
		return apperror.InsufficientBalance(asset, free, amount)
	}
	b := balanceOf(acct, asset)
	b.Free = b.Free.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return nil
}
