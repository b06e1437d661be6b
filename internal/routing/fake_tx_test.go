package routing

import (
	"context"
)

// fakeTx serves resolver and balancer reads from memory. Unused methods panic
// through the nil embedded interface.
type fakeTx struct {
	Tx

	locked    int
	loads     []AgentLoad
	accounts  []CashAccount
	positions []Position
	trades    []Trade
}

func (f *fakeTx) LockAgentPool(ctx context.Context) error {
	f.locked++
	return nil
}

func (f *fakeTx) ActiveAgentLoads(ctx context.Context) ([]AgentLoad, error) {
	return f.loads, nil
}

func (f *fakeTx) CashAccounts(ctx context.Context, clientID int64) ([]CashAccount, error) {
	return f.accounts, nil
}

func (f *fakeTx) TopPositions(ctx context.Context, clientID int64, limit int) ([]Position, error) {
	if len(f.positions) > limit {
		return f.positions[:limit], nil
	}
	return f.positions, nil
}

func (f *fakeTx) TradeByRef(ctx context.Context, clientID int64, ref string) (*Trade, error) {
	for _, t := range f.trades {
		if t.Ref == ref {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeTx) LatestTrade(ctx context.Context, clientID int64) (*Trade, error) {
	if len(f.trades) == 0 {
		return nil, ErrNotFound
	}
	t := f.trades[len(f.trades)-1]
	return &t, nil
}
