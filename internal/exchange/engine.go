// Package exchange is the engine façade: it owns the instrument registry,
// one order book per tradable symbol, the shared position ledger, the risk gate,
// and the id/sequence allocators, and exposes the single surface that a
// front end drives (submit, cancel, replace, settle, and read-only
// introspection).
package exchange

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bourse/internal/book"
	"bourse/internal/common"
	"bourse/internal/ledger"
	"bourse/internal/risk"
)

// OrderResult is returned from every mutating order operation.
type OrderResult struct {
	OrderID      common.OrderID
	Success      bool
	ErrorMessage string
	Fills        []common.Fill
}

// OrderRequest is the caller-supplied shape of a new order.
type OrderRequest struct {
	UserID       common.UserID
	InstrumentID common.InstrumentID
	Side         common.Side
	Price        common.Price
	Quantity     common.Qty
	TIF          common.TIF
	PostOnly     bool
}

// InstrumentSpec describes an instrument at registration time.
type InstrumentSpec struct {
	ID          common.InstrumentID
	Symbol      string
	Kind        common.InstrumentKind
	ReferenceID common.InstrumentID
	Strike      common.Price
	TickSize    common.Price
	LotSize     common.Qty
	TickValue   float64
}

type instrumentState struct {
	meta common.Instrument
	book *book.OrderBook
}

// Engine ties the book, ledger and risk gate together into the single
// entry point a front end drives. It has no re-entrant public methods:
// callers must serialize access (a single goroutine, or a wrapper like
// the dispatch package).
type Engine struct {
	mu sync.RWMutex

	instruments map[common.InstrumentID]*instrumentState
	ledger      *ledger.Ledger
	risk        *risk.Gate

	nextOrderID atomic64
	nextSeq     atomic64

	activeOrders map[common.OrderID]*common.Order
	byUser       map[common.UserID]map[common.OrderID]struct{}

	fillHistory  []common.Fill
	tradeHistory []common.TradeRecord

	counters counters

	log zerolog.Logger
}

// New returns an empty engine with no instruments registered.
func New(log zerolog.Logger) *Engine {
	return &Engine{
		instruments:  make(map[common.InstrumentID]*instrumentState),
		ledger:       ledger.New(),
		risk:         risk.New(log),
		activeOrders: make(map[common.OrderID]*common.Order),
		byUser:       make(map[common.UserID]map[common.OrderID]struct{}),
		log:          log.With().Str("component", "exchange").Logger(),
	}
}

// AddInstrument registers a new symbol. Duplicate ids are refused without
// mutating existing state.
func (e *Engine) AddInstrument(spec InstrumentSpec) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.instruments[spec.ID]; exists {
		return false
	}
	meta := common.Instrument{
		ID: spec.ID, Symbol: spec.Symbol, Kind: spec.Kind,
		ReferenceID: spec.ReferenceID, Strike: spec.Strike,
		TickSize: spec.TickSize, LotSize: spec.LotSize, TickValue: spec.TickValue,
	}
	e.instruments[spec.ID] = &instrumentState{
		meta: meta,
		book: book.New(spec.ID, e.log),
	}
	e.log.Info().Uint64("instrument_id", uint64(spec.ID)).Str("symbol", spec.Symbol).Msg("instrument added")
	return true
}

// HaltInstrument toggles the halt flag. Returns false if the instrument is
// unknown.
func (e *Engine) HaltInstrument(id common.InstrumentID, halted bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.instruments[id]
	if !ok {
		return false
	}
	st.meta.IsHalted = halted
	return true
}

// SetRiskLimits installs per-user limits on the risk gate.
func (e *Engine) SetRiskLimits(user common.UserID, limits risk.Limits) {
	e.risk.SetLimits(user, limits)
}

// SubmitOrder runs the full acceptance pipeline: existence and halt
// checks, quantity and tick/lot validation, the risk gate, id and
// sequence allocation, matching, ledger application, and history and
// index bookkeeping.
func (e *Engine) SubmitOrder(req OrderRequest) OrderResult {
	correlationID := uuid.New().String()

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.instruments[req.InstrumentID]
	if !ok {
		e.counters.rejects.Add(1)
		return e.reject(common.ErrMsgInstrumentNotFound)
	}
	if st.meta.IsHalted {
		e.counters.rejects.Add(1)
		return e.reject(common.ErrMsgInstrumentHalted)
	}
	if req.Quantity <= 0 || !st.meta.ValidLot(req.Quantity) || !st.meta.ValidTick(req.Price) {
		e.counters.rejects.Add(1)
		return e.reject(common.ErrMsgInvalidQuantity)
	}

	currentNet := common.Qty(0)
	if p, ok := e.ledger.Position(req.UserID, req.InstrumentID); ok {
		currentNet = p.NetQty
	}
	if !e.risk.Approve(req.UserID, req.Side, req.Quantity, currentNet) {
		e.counters.rejects.Add(1)
		return e.reject(common.ErrMsgRiskExceeded)
	}

	order := &common.Order{
		ID:           common.OrderID(e.nextOrderID.next()),
		UserID:       req.UserID,
		InstrumentID: req.InstrumentID,
		Side:         req.Side,
		LimitPrice:   req.Price,
		Quantity:     req.Quantity,
		TIF:          req.TIF,
		PostOnly:     req.PostOnly,
		Timestamp:    common.Sequence(e.nextSeq.next()),
		CreatedAt:    time.Now(),
	}

	fills := st.book.AddOrder(order)
	if order.Status == common.Rejected {
		e.counters.rejects.Add(1)
		e.log.Debug().Str("correlation_id", correlationID).Msg("post-only order rejected")
		return OrderResult{OrderID: order.ID, Success: false, ErrorMessage: "post-only order would cross"}
	}

	e.applyFills(st.meta, fills)

	if order.Live() {
		e.activeOrders[order.ID] = order
		if e.byUser[order.UserID] == nil {
			e.byUser[order.UserID] = make(map[common.OrderID]struct{})
		}
		e.byUser[order.UserID][order.ID] = struct{}{}
	}

	e.counters.ordersAccepted.Add(1)
	e.log.Debug().Str("correlation_id", correlationID).Uint64("order_id", uint64(order.ID)).Msg("order accepted")

	return OrderResult{OrderID: order.ID, Success: true, Fills: fills}
}

// applyFills folds every consecutive fill pair into the ledger and builds
// one trade record per pair. Must be called with e.mu held.
func (e *Engine) applyFills(inst common.Instrument, fills []common.Fill) {
	for i := 0; i+1 < len(fills); i += 2 {
		aggressor, passive := fills[i], fills[i+1]

		e.ledger.ApplyFill(aggressor.UserID, inst.ID, aggressor.Side, aggressor.Quantity, aggressor.Price)
		e.ledger.ApplyFill(passive.UserID, inst.ID, passive.Side, passive.Quantity, passive.Price)

		e.fillHistory = append(e.fillHistory, aggressor, passive)
		e.counters.fillsEmitted.Add(2)

		trade := common.TradeRecord{
			InstrumentID: inst.ID,
			Price:        aggressor.Price,
			Quantity:     aggressor.Quantity,
			Timestamp:    aggressor.Timestamp,
		}
		if aggressor.Side == common.Buy {
			trade.BuyOrderID, trade.BuyerID = aggressor.OrderID, aggressor.UserID
			trade.SellOrderID, trade.SellerID = passive.OrderID, passive.UserID
		} else {
			trade.SellOrderID, trade.SellerID = aggressor.OrderID, aggressor.UserID
			trade.BuyOrderID, trade.BuyerID = passive.OrderID, passive.UserID
		}
		e.tradeHistory = append(e.tradeHistory, trade)
	}
}

func (e *Engine) reject(msg string) OrderResult {
	return OrderResult{Success: false, ErrorMessage: msg}
}

// CancelOrder removes a live order the user owns. Returns false (without
// mutation) if the order is unknown or not owned by the caller.
func (e *Engine) CancelOrder(id common.OrderID, user common.UserID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelLocked(id, user)
}

func (e *Engine) cancelLocked(id common.OrderID, user common.UserID) bool {
	order, ok := e.activeOrders[id]
	if !ok || order.UserID != user {
		return false
	}
	st, ok := e.instruments[order.InstrumentID]
	if !ok {
		return false
	}
	if !st.book.CancelOrder(id) {
		return false
	}
	delete(e.activeOrders, id)
	delete(e.byUser[user], id)
	e.counters.cancels.Add(1)
	return true
}

// CancelAll cancels every active order belonging to the user, snapshotting
// the active set first so cancellation doesn't mutate it mid-iteration.
func (e *Engine) CancelAll(user common.UserID) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]common.OrderID, 0, len(e.byUser[user]))
	for id := range e.byUser[user] {
		ids = append(ids, id)
	}
	cancelled := 0
	for _, id := range ids {
		if e.cancelLocked(id, user) {
			cancelled++
		}
	}
	return cancelled
}

// Replace cancels the existing order and submits a new one in its place,
// losing queue priority. newQty defaults to the old order's unfilled
// remainder; newPrice defaults to the old order's price.
func (e *Engine) Replace(id common.OrderID, user common.UserID, newPrice *common.Price, newQty *common.Qty) OrderResult {
	e.mu.Lock()
	order, ok := e.activeOrders[id]
	if !ok || order.UserID != user {
		e.mu.Unlock()
		return e.reject(common.ErrMsgOrderNotFound)
	}
	req := OrderRequest{
		UserID: user, InstrumentID: order.InstrumentID, Side: order.Side,
		Price: order.LimitPrice, Quantity: order.Remaining(),
		TIF: order.TIF, PostOnly: order.PostOnly,
	}
	if newPrice != nil {
		req.Price = *newPrice
	}
	if newQty != nil {
		req.Quantity = *newQty
	}
	e.cancelLocked(id, user)
	e.mu.Unlock()

	return e.SubmitOrder(req)
}

// SettleInstrument pays out every non-zero holder of the instrument at the
// given settlement value, flattens their positions, halts the instrument,
// and flushes every order still resting against it.
func (e *Engine) SettleInstrument(id common.InstrumentID, settlementValue common.Price) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.instruments[id]
	if !ok {
		return false
	}

	payoff := st.meta.SettlementPayoff(settlementValue)
	for _, user := range e.ledger.UsersWithPosition(id) {
		e.ledger.Settle(user, id, payoff, st.meta.TickValue)
	}

	for orderID, order := range e.activeOrders {
		if order.InstrumentID != id {
			continue
		}
		st.book.CancelOrder(orderID)
		delete(e.activeOrders, orderID)
		delete(e.byUser[order.UserID], orderID)
	}

	st.meta.IsHalted = true
	e.log.Info().Uint64("instrument_id", uint64(id)).Int64("settlement_value", int64(settlementValue)).Msg("instrument settled")
	return true
}

// markPrice resolves the mark precedence: last trade, else mid of best
// bid/ask, else zero (no mark). Must be called with e.mu (R)locked.
func (e *Engine) markPrice(id common.InstrumentID) common.Price {
	st, ok := e.instruments[id]
	if !ok {
		return 0
	}
	if last := st.book.LastPrice(); last > 0 {
		return last
	}
	bid, bidOK := st.book.BestBid()
	ask, askOK := st.book.BestAsk()
	if bidOK && askOK {
		return (bid + ask) / 2
	}
	return 0
}

// GetSnapshot returns the book's best-levels view for the instrument, up
// to depth levels per side.
func (e *Engine) GetSnapshot(id common.InstrumentID, depth int) (book.Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.instruments[id]
	if !ok {
		return book.Snapshot{}, false
	}
	return st.book.Snapshot(depth), true
}

// GetOrders returns the live orders resting against the instrument.
func (e *Engine) GetOrders(id common.InstrumentID) []common.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []common.Order
	for _, order := range e.activeOrders {
		if order.InstrumentID == id {
			out = append(out, *order)
		}
	}
	return out
}

// GetPositions returns the user's non-zero positions, marked to market.
func (e *Engine) GetPositions(user common.UserID) map[common.InstrumentID]ledger.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.OpenPositions(user, e.markPrice)
}

// GetTotalPnL sums realized plus unrealized P&L across every instrument
// the user has ever held.
func (e *Engine) GetTotalPnL(user common.UserID) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.TotalPnL(user, e.markPrice)
}

// GetStats returns the current counter block.
func (e *Engine) GetStats() Stats {
	return e.counters.snapshot()
}

// GetTradeHistory returns every matched trade recorded so far.
func (e *Engine) GetTradeHistory() []common.TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]common.TradeRecord, len(e.tradeHistory))
	copy(out, e.tradeHistory)
	return out
}

// GetFillHistory returns every fill recorded so far, in emission order.
func (e *Engine) GetFillHistory() []common.Fill {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]common.Fill, len(e.fillHistory))
	copy(out, e.fillHistory)
	return out
}
