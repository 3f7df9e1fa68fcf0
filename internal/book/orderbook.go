// Package book implements the per-instrument limit order book: two
// price-indexed FIFO queues, the price-time-priority matching kernel, and
// the snapshot producer.
package book

import (
	"container/list"
	"errors"

	"github.com/rs/zerolog"
	"github.com/tidwall/btree"

	"bourse/internal/common"
)

// ErrBadLevel indicates a book invariant was violated — a head-of-level
// order was found with nothing left to fill. This is a bug, not a
// user-visible error.
var ErrBadLevel = errors.New("book: head-of-level order has zero remaining quantity")

// handle is what the by-ID index stores for a resting order: enough to
// locate and remove it from its level in O(1) once found.
type handle struct {
	side  common.Side
	level *priceLevel
	elem  *list.Element
}

// LevelView is one aggregated price level in a MarketSnapshot.
type LevelView struct {
	Price common.Price
	Size  common.Qty
}

// Snapshot reports up to a requested number of best levels per side.
type Snapshot struct {
	InstrumentID common.InstrumentID
	Bids         []LevelView
	Asks         []LevelView
	LastPrice    common.Price
	Timestamp    common.Sequence
}

// OrderBook is the matching engine for a single instrument. It is not
// safe for concurrent use; callers must serialize access.
type OrderBook struct {
	instrumentID common.InstrumentID

	bids *btree.BTreeG[*priceLevel] // best = highest price, descending
	asks *btree.BTreeG[*priceLevel] // best = lowest price, ascending

	index     map[common.OrderID]*handle
	lastPrice common.Price

	log zerolog.Logger
}

// New builds an empty book for the given instrument.
func New(instrumentID common.InstrumentID, log zerolog.Logger) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *priceLevel) bool { return a.price > b.price })
	asks := btree.NewBTreeG(func(a, b *priceLevel) bool { return a.price < b.price })
	return &OrderBook{
		instrumentID: instrumentID,
		bids:         bids,
		asks:         asks,
		index:        make(map[common.OrderID]*handle),
		log:          log.With().Uint64("instrument_id", uint64(instrumentID)).Logger(),
	}
}

func (b *OrderBook) levelsFor(side common.Side) *btree.BTreeG[*priceLevel] {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) oppositeLevels(side common.Side) *btree.BTreeG[*priceLevel] {
	return b.levelsFor(side.Opposite())
}

// crosses reports whether a resting level at levelPrice is marketable
// against an incoming order of side/limitPrice.
func crosses(side common.Side, limitPrice, levelPrice common.Price) bool {
	if side == common.Buy {
		return limitPrice >= levelPrice
	}
	return limitPrice <= levelPrice
}

// AddOrder matches the incoming order against the opposite side of the book
// following price-time priority, then rests any residual if eligible. It
// always sets order.Status to a final state before returning and returns
// the fills produced, aggressor-first, one pair per matched counterparty
// slice.
func (b *OrderBook) AddOrder(order *common.Order) []common.Fill {
	opposite := b.oppositeLevels(order.Side)

	// Post-only atomicity: detect a cross against the current best opposite
	// level before any state is touched. Our own order can only shrink the
	// opposite side as it matches, never improve it, so a single check here
	// is equivalent to checking before every iteration of the match loop.
	if order.PostOnly {
		if lvl, ok := opposite.MinMut(); ok && crosses(order.Side, order.LimitPrice, lvl.price) {
			order.Status = common.Rejected
			return nil
		}
	}

	var fills []common.Fill
	for order.Remaining() > 0 {
		lvl, ok := opposite.MinMut()
		if !ok {
			break
		}
		if !crosses(order.Side, order.LimitPrice, lvl.price) {
			break
		}

		elem := lvl.orders.Front()
		passive := elem.Value.(*common.Order)
		if passive.Remaining() <= 0 {
			panic(ErrBadLevel)
		}

		m := min(order.Remaining(), passive.Remaining())
		order.FilledQuantity += m
		passive.FilledQuantity += m
		b.lastPrice = lvl.price

		fills = append(fills,
			common.Fill{
				OrderID: order.ID, UserID: order.UserID, InstrumentID: b.instrumentID,
				Side: order.Side, Price: lvl.price, Quantity: m, Timestamp: order.Timestamp,
			},
			common.Fill{
				OrderID: passive.ID, UserID: passive.UserID, InstrumentID: b.instrumentID,
				Side: passive.Side, Price: lvl.price, Quantity: m, Timestamp: order.Timestamp,
			},
		)

		if passive.Remaining() == 0 {
			passive.Status = common.Filled
			lvl.orders.Remove(elem)
			delete(b.index, passive.ID)
		} else {
			passive.Status = common.Partial
		}

		if lvl.orders.Len() == 0 {
			opposite.Delete(lvl)
		}
	}

	switch {
	case order.Remaining() == 0:
		order.Status = common.Filled
	case order.TIF == common.IOC:
		order.Status = common.Cancelled
	default:
		b.rest(order)
		if order.FilledQuantity > 0 {
			order.Status = common.Partial
		} else {
			order.Status = common.Pending
		}
	}

	b.log.Debug().
		Uint64("order_id", uint64(order.ID)).
		Int("fills", len(fills)).
		Str("status", order.Status.String()).
		Msg("order processed")

	return fills
}

// rest appends order to the tail of its level, creating the level if needed.
func (b *OrderBook) rest(order *common.Order) {
	levels := b.levelsFor(order.Side)
	lvl, ok := levels.GetMut(&priceLevel{price: order.LimitPrice})
	if !ok {
		lvl = newPriceLevel(order.LimitPrice)
		levels.Set(lvl)
	}
	elem := lvl.orders.PushBack(order)
	b.index[order.ID] = &handle{side: order.Side, level: lvl, elem: elem}
}

// CancelOrder removes a live resting order if present, marking it
// CANCELLED. Reports whether anything was removed.
func (b *OrderBook) CancelOrder(id common.OrderID) bool {
	h, ok := b.index[id]
	if !ok {
		return false
	}
	order := h.elem.Value.(*common.Order)
	h.level.orders.Remove(h.elem)
	delete(b.index, id)

	if h.level.orders.Len() == 0 {
		b.levelsFor(h.side).Delete(h.level)
	}
	order.Status = common.Cancelled
	return true
}

// BestBid returns the highest resting bid price, if any.
func (b *OrderBook) BestBid() (common.Price, bool) {
	lvl, ok := b.bids.MinMut()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// BestAsk returns the lowest resting ask price, if any.
func (b *OrderBook) BestAsk() (common.Price, bool) {
	lvl, ok := b.asks.MinMut()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// LastPrice returns the most recent trade price, 0 if none has occurred.
func (b *OrderBook) LastPrice() common.Price {
	return b.lastPrice
}

// Snapshot reports up to depth best levels per side with each level's
// aggregate live size, and the last trade price.
func (b *OrderBook) Snapshot(depth int) Snapshot {
	return Snapshot{
		InstrumentID: b.instrumentID,
		Bids:         collectLevels(b.bids, depth),
		Asks:         collectLevels(b.asks, depth),
		LastPrice:    b.lastPrice,
	}
}

func collectLevels(levels *btree.BTreeG[*priceLevel], depth int) []LevelView {
	var out []LevelView
	levels.Scan(func(lvl *priceLevel) bool {
		if len(out) >= depth {
			return false
		}
		out = append(out, LevelView{Price: lvl.price, Size: lvl.liveSize()})
		return true
	})
	return out
}
