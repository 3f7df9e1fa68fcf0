package exchange

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/common"
	"bourse/internal/risk"
)

func newTestEngine() *Engine {
	return New(zerolog.Nop())
}

func addScalar(t *testing.T, e *Engine, id common.InstrumentID) {
	t.Helper()
	require.True(t, e.AddInstrument(InstrumentSpec{
		ID: id, Symbol: "SCALAR1", Kind: common.Scalar,
		TickSize: 1, LotSize: 1, TickValue: 1.0,
	}))
}

func TestScenarioS1_SimpleCross(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)

	r1 := e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 100, TIF: common.GFD})
	require.True(t, r1.Success)
	assert.Empty(t, r1.Fills)

	r2 := e.SubmitOrder(OrderRequest{UserID: 2, InstrumentID: 1, Side: common.Sell, Price: 10000, Quantity: 100, TIF: common.GFD})
	require.True(t, r2.Success)
	require.Len(t, r2.Fills, 2)

	p1, ok := e.ledger.Position(1, 1)
	require.True(t, ok)
	assert.Equal(t, common.Qty(100), p1.NetQty)
	assert.Equal(t, common.Price(10000), p1.VWAP)

	p2, ok := e.ledger.Position(2, 1)
	require.True(t, ok)
	assert.Equal(t, common.Qty(-100), p2.NetQty)
	assert.Equal(t, common.Price(10000), p2.VWAP)
}

func TestScenarioS2_RoundTripRealizedPnL(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 100, TIF: common.GFD})
	e.SubmitOrder(OrderRequest{UserID: 2, InstrumentID: 1, Side: common.Sell, Price: 10000, Quantity: 100, TIF: common.GFD})

	e.SubmitOrder(OrderRequest{UserID: 3, InstrumentID: 1, Side: common.Buy, Price: 10500, Quantity: 100, TIF: common.GFD})
	r := e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Sell, Price: 10500, Quantity: 100, TIF: common.GFD})
	require.True(t, r.Success)
	require.Len(t, r.Fills, 2)

	assert.InDelta(t, 500.0, e.GetTotalPnL(1), 1e-9)
	assert.InDelta(t, 0.0, e.GetTotalPnL(3), 1e-9)
}

func TestScenarioS3_VWAPAcrossTwoEntries(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 100, TIF: common.GFD})
	e.SubmitOrder(OrderRequest{UserID: 2, InstrumentID: 1, Side: common.Sell, Price: 10000, Quantity: 100, TIF: common.GFD})
	e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 11000, Quantity: 100, TIF: common.GFD})
	e.SubmitOrder(OrderRequest{UserID: 2, InstrumentID: 1, Side: common.Sell, Price: 11000, Quantity: 100, TIF: common.GFD})

	positions := e.GetPositions(1)
	p, ok := positions[1]
	require.True(t, ok)
	assert.Equal(t, common.Qty(200), p.NetQty)
	assert.Equal(t, common.Price(10500), p.VWAP)
}

func TestScenarioS4_PostOnlyRejection(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Sell, Price: 10000, Quantity: 100, TIF: common.GFD})

	r := e.SubmitOrder(OrderRequest{UserID: 9, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 50, TIF: common.GFD, PostOnly: true})

	assert.False(t, r.Success)
	assert.Empty(t, r.Fills)
	snap, _ := e.GetSnapshot(1, 10)
	assert.Equal(t, common.Qty(100), snap.Asks[0].Size) // book unchanged
}

func TestScenarioS5_IOCPartial(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 50, TIF: common.GFD})

	r := e.SubmitOrder(OrderRequest{UserID: 9, InstrumentID: 1, Side: common.Sell, Price: 10000, Quantity: 100, TIF: common.IOC})

	require.True(t, r.Success)
	require.Len(t, r.Fills, 2)
	assert.Equal(t, common.Qty(50), r.Fills[0].Quantity)
}

func TestScenarioS6_CallOptionSettlementITM(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	require.True(t, e.AddInstrument(InstrumentSpec{
		ID: 2, Symbol: "C10000", Kind: common.Call, ReferenceID: 1,
		Strike: 10000, TickSize: 1, LotSize: 1, TickValue: 1.0,
	}))

	e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 2, Side: common.Buy, Price: 500, Quantity: 10, TIF: common.GFD})
	e.SubmitOrder(OrderRequest{UserID: 2, InstrumentID: 2, Side: common.Sell, Price: 500, Quantity: 10, TIF: common.GFD})

	require.True(t, e.SettleInstrument(2, 12000))

	assert.InDelta(t, 150.0, e.GetTotalPnL(1), 1e-9)
	assert.InDelta(t, -150.0, e.GetTotalPnL(2), 1e-9)
}

func TestSubmitOrder_UnknownInstrumentRejected(t *testing.T) {
	e := newTestEngine()
	r := e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 99, Side: common.Buy, Price: 100, Quantity: 1})
	assert.False(t, r.Success)
	assert.Equal(t, common.ErrMsgInstrumentNotFound, r.ErrorMessage)
	assert.EqualValues(t, 1, e.GetStats().TotalRejects)
}

func TestSubmitOrder_HaltedInstrumentRejected(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	require.True(t, e.HaltInstrument(1, true))

	r := e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 1})
	assert.False(t, r.Success)
	assert.Equal(t, common.ErrMsgInstrumentHalted, r.ErrorMessage)
}

func TestSubmitOrder_InvalidQuantityRejected(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)

	r := e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 0})
	assert.False(t, r.Success)
	assert.Equal(t, common.ErrMsgInvalidQuantity, r.ErrorMessage)
}

func TestSubmitOrder_RiskGateRejectsOverCap(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	e.SetRiskLimits(1, risk.Limits{MaxPosition: 50})

	r := e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 100})
	assert.False(t, r.Success)
	assert.Equal(t, common.ErrMsgRiskExceeded, r.ErrorMessage)
}

func TestCancelOrder_WrongOwnerFails(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	r := e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 100})
	require.True(t, r.Success)

	assert.False(t, e.CancelOrder(r.OrderID, 2))
	assert.True(t, e.CancelOrder(r.OrderID, 1))
}

func TestCancelAll_RemovesEveryActiveOrderForUser(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 10})
	e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 9900, Quantity: 10})
	e.SubmitOrder(OrderRequest{UserID: 2, InstrumentID: 1, Side: common.Buy, Price: 9800, Quantity: 10})

	n := e.CancelAll(1)
	assert.Equal(t, 2, n)

	orders := e.GetOrders(1)
	for _, o := range orders {
		assert.NotEqual(t, common.UserID(1), o.UserID)
	}
}

func TestReplace_LosesTimePriority(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	first := e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 10})
	e.SubmitOrder(OrderRequest{UserID: 2, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 10})

	replaced := e.Replace(first.OrderID, 1, nil, nil)
	require.True(t, replaced.Success)
	assert.NotEqual(t, first.OrderID, replaced.OrderID)

	sell := e.SubmitOrder(OrderRequest{UserID: 3, InstrumentID: 1, Side: common.Sell, Price: 10000, Quantity: 10})
	require.Len(t, sell.Fills, 2)
	assert.Equal(t, common.UserID(2), sell.Fills[1].UserID) // user 2's order now has priority
}

func TestSettleInstrument_FlushesRestingOrders(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 10})

	require.True(t, e.SettleInstrument(1, 10000))

	assert.Empty(t, e.GetOrders(1))
	snap, _ := e.GetSnapshot(1, 10)
	assert.Empty(t, snap.Bids)
}

func TestFillsEmitted_EqualsTwiceTradeCount(t *testing.T) {
	e := newTestEngine()
	addScalar(t, e, 1)
	e.SubmitOrder(OrderRequest{UserID: 1, InstrumentID: 1, Side: common.Buy, Price: 10000, Quantity: 10})
	e.SubmitOrder(OrderRequest{UserID: 2, InstrumentID: 1, Side: common.Sell, Price: 10000, Quantity: 10})

	assert.EqualValues(t, len(e.GetTradeHistory())*2, e.GetStats().TotalFillsEmitted)
}
