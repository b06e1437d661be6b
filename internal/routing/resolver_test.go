package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTradeRef(t *testing.T) {
	assert.Equal(t, "TRD000123", ExtractTradeRef("status of trd000123?", ""))
	assert.Equal(t, "TRD000001", ExtractTradeRef("", "see TRD000001 and TRD000002"))
	assert.Empty(t, ExtractTradeRef("TRD12345", "XTRD0000019"))
}

func TestResolveCashBalance(t *testing.T) {
	tx := &fakeTx{accounts: []CashAccount{
		{Number: "AC000101", Currency: "USD", Balance: 1000000, Available: 950000.5, Held: 49999.5},
	}}

	res, err := Resolve(context.Background(), tx, 1, "cash_balance", "", "")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "Cash account snapshot:\n"+
		"- AC000101 (USD): balance=1,000,000.00, available=950,000.50, held=49,999.50", res.Answer)
	assert.Nil(t, res.TradeID)
}

func TestResolveCashWithoutAccounts(t *testing.T) {
	res, err := Resolve(context.Background(), &fakeTx{}, 1, "cash_balance", "", "")
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestResolvePositions(t *testing.T) {
	tx := &fakeTx{positions: []Position{
		{Symbol: "AAPL", AssetClass: "EQUITY", Quantity: 1200, MarketPrice: 189.4512, MarketValue: 227341.44, AsOf: "2026-01-30"},
	}}
	res, err := Resolve(context.Background(), tx, 1, "position_summary", "", "")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "Top positions by market value:\n"+
		"- AAPL (EQUITY): qty=1,200.00, px=189.4512, mv=227,341.44 (as of 2026-01-30)", res.Answer)
}

func TestResolveTradeByReferenceOrLatest(t *testing.T) {
	tx := &fakeTx{trades: []Trade{
		{ID: 1, Ref: "TRD000001", Symbol: "AAPL", Side: "BUY", Quantity: 10, Price: 1, Status: "SETTLED", SubmittedAt: "s1"},
		{ID: 2, Ref: "TRD000002", Symbol: "MSFT", Side: "SELL", Quantity: 5, Price: 2, Status: "FAILED",
			SubmittedAt: "s2", FailReason: "SSI mismatch"},
	}}

	byRef, err := Resolve(context.Background(), tx, 1, "trade_status", "Where is trd000001", "")
	require.NoError(t, err)
	require.True(t, byRef.OK)
	assert.Equal(t, int64(1), *byRef.TradeID)
	assert.Contains(t, byRef.Answer, "Trade TRD000001 (AAPL BUY) status: SETTLED")

	latest, err := Resolve(context.Background(), tx, 1, "settlement_eta", "When will it settle?", "")
	require.NoError(t, err)
	require.True(t, latest.OK)
	assert.Equal(t, int64(2), *latest.TradeID)
	assert.Contains(t, latest.Answer, "- fail_reason=SSI mismatch")

	missing, err := Resolve(context.Background(), tx, 1, "trade_status", "TRD999999", "")
	require.NoError(t, err)
	assert.False(t, missing.OK)
	assert.Nil(t, missing.TradeID)
}

func TestResolveUnsupportedIntent(t *testing.T) {
	res, err := Resolve(context.Background(), &fakeTx{}, 1, "fee_dispute", "", "")
	require.NoError(t, err)
	assert.False(t, res.OK)
}
