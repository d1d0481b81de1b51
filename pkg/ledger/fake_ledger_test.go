package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/filecoin-project/go-state-types/big"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
)

type fakeLedger struct {
	lk       sync.Mutex
	decimals map[chanstate.Address]uint8
	calls    map[chanstate.Address]int
	fail     bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		decimals: map[chanstate.Address]uint8{},
		calls:    map[chanstate.Address]int{},
	}
}

func (f *fakeLedger) Decimals(ctx context.Context, token chanstate.Address) (uint8, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.calls[token]++
	if f.fail {
		return 0, errors.New("ledger unavailable")
	}
	d, ok := f.decimals[token]
	if !ok {
		return 0, ErrNotContract
	}
	return d, nil
}

func (f *fakeLedger) Allowance(ctx context.Context, token, owner, spender chanstate.Address) (big.Int, error) {
	return big.Zero(), nil
}

func (f *fakeLedger) Approve(ctx context.Context, token, owner, spender chanstate.Address, amount big.Int) (chanstate.Hash, error) {
	return chanstate.Hash{}, nil
}

func (f *fakeLedger) TransactionReceipt(ctx context.Context, tx chanstate.Hash) (*Receipt, error) {
	return nil, nil
}

func (f *fakeLedger) callsFor(token chanstate.Address) int {
	f.lk.Lock()
	defer f.lk.Unlock()
	return f.calls[token]
}
