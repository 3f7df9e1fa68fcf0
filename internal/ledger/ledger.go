package ledger

import (
	"sync"

	"bourse/internal/common"
)

type key struct {
	user common.UserID
	inst common.InstrumentID
}

// Ledger holds every user's positions across every instrument. It is safe
// for concurrent use; callers outside the serialized command path (e.g. a
// read-only snapshot endpoint) may query it directly.
type Ledger struct {
	mu        sync.RWMutex
	positions map[key]*Position
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{positions: make(map[key]*Position)}
}

func (l *Ledger) get(user common.UserID, inst common.InstrumentID) *Position {
	k := key{user, inst}
	p, ok := l.positions[k]
	if !ok {
		p = &Position{}
		l.positions[k] = p
	}
	return p
}

// ApplyFill folds a single fill into the named user's position in the
// fill's instrument.
func (l *Ledger) ApplyFill(user common.UserID, inst common.InstrumentID, side common.Side, qty common.Qty, price common.Price) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.get(user, inst).applyFill(side, qty, price)
}

// MarkToMarket recomputes unrealized P&L for one user's position in one
// instrument against the supplied mark price.
func (l *Ledger) MarkToMarket(user common.UserID, inst common.InstrumentID, mark common.Price) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.get(user, inst).markToMarket(mark)
}

// Position returns a snapshot copy of one user's position in one
// instrument, and whether any position record exists for the pair.
func (l *Ledger) Position(user common.UserID, inst common.InstrumentID) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[key{user, inst}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// OpenPositions returns every instrument the user holds a nonzero net
// quantity in, each already marked to the supplied mark function.
func (l *Ledger) OpenPositions(user common.UserID, markFor func(common.InstrumentID) common.Price) map[common.InstrumentID]Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[common.InstrumentID]Position)
	for k, p := range l.positions {
		if k.user != user || p.NetQty == 0 {
			continue
		}
		p.markToMarket(markFor(k.inst))
		out[k.inst] = *p
	}
	return out
}

// TotalPnL sums realized plus unrealized P&L across every instrument the
// user has ever held a position in, including instruments now flat (their
// realized P&L still counts).
func (l *Ledger) TotalPnL(user common.UserID, markFor func(common.InstrumentID) common.Price) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for k, p := range l.positions {
		if k.user != user {
			continue
		}
		if p.NetQty != 0 {
			p.markToMarket(markFor(k.inst))
		}
		total += p.TotalPnL()
	}
	return total
}

// Settle converts an open position into a realized cash flow at the given
// per-unit payoff, then flattens it. payoffPerUnit is in real dollars with
// the instrument's tickValue already applied; the entry value is brought to
// the same units (VWAP / PriceScale * tickValue) before the difference is
// multiplied by the net quantity.
func (l *Ledger) Settle(user common.UserID, inst common.InstrumentID, payoffPerUnit, tickValue float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[key{user, inst}]
	if !ok || p.NetQty == 0 {
		return
	}
	entryValue := float64(p.VWAP) / common.PriceScale * tickValue
	p.RealizedPnL += (payoffPerUnit - entryValue) * float64(p.NetQty)
	p.NetQty = 0
	p.VWAP = 0
	p.UnrealizedPnL = 0
}

// UsersWithPosition returns every user holding a nonzero position in the
// given instrument, for settlement fan-out.
func (l *Ledger) UsersWithPosition(inst common.InstrumentID) []common.UserID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var users []common.UserID
	for k, p := range l.positions {
		if k.inst == inst && p.NetQty != 0 {
			users = append(users, k.user)
		}
	}
	return users
}
