package custody

import (
	"context"
	"errors"
	"sync"

	"FlashLedger/internal/state"

	"github.com/google/uuid"
)

// ErrInsufficientBalance is returned by MemoryVault when the source cannot
// cover a transfer.
var ErrInsufficientBalance = errors.New("insufficient custody balance")

// Transferer moves token amounts between principals. The ledger calls it
// before committing a state change that depends on the transfer; an error
// aborts the command. id is stable across retries of the same command, so a
// custody service can apply each transfer at most once.
type Transferer interface {
	Transfer(ctx context.Context, id uuid.UUID, amount uint64, from, to state.Principal) error
}

var transferNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("flashledger.custody.transfer"))

// TransferID derives the id of the transfer made for purpose while executing
// the command identified by caller and commandKey.
func TransferID(caller state.Principal, commandKey, purpose string) uuid.UUID {
	return uuid.NewSHA1(transferNamespace, []byte(caller.String()+":"+commandKey+":"+purpose))
}

var (
	_ Transferer = (*MemoryVault)(nil)
	_ Transferer = (*NATSTransferer)(nil)
)

// MemoryVault is an in-process token custody. Used in tests and dev mode.
type MemoryVault struct {
	mu       sync.Mutex
	balances map[state.Principal]uint64

	// When set, a source without enough balance is treated as an external
	// mint instead of failing.
	lenient bool
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[state.Principal]uint64)}
}

// NewLenientVault returns a vault that never rejects for lack of funds.
func NewLenientVault() *MemoryVault {
	v := NewMemoryVault()
	v.lenient = true
	return v
}

// Fund credits p with amount.
func (v *MemoryVault) Fund(p state.Principal, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[p] += amount
}

// Balance returns the custody balance of p.
func (v *MemoryVault) Balance(p state.Principal) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[p]
}

func (v *MemoryVault) Transfer(ctx context.Context, _ uuid.UUID, amount uint64, from, to state.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.balances[from]
	if bal < amount {
		if !v.lenient {
			return ErrInsufficientBalance
		}
		bal = amount
	}
	if v.balances[to]+amount < v.balances[to] {
		return state.ErrMathOverflow
	}
	v.balances[from] = bal - amount
	v.balances[to] += amount
	return nil
}
