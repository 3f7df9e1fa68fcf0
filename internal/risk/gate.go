// Package risk implements the engine's pre-trade approval check: a
// per-user position cap applied before an order reaches the book.
package risk

import (
	"sync"

	"github.com/rs/zerolog"

	"bourse/internal/common"
)

// Limits bounds one user's trading activity. MaxNotional and
// MaxOrdersPerSec are accepted and stored for API parity but are not
// enforced; only MaxPosition gates submissions.
type Limits struct {
	MaxPosition    common.Qty
	MaxNotional    float64
	MaxOrdersPerSec int
}

// Gate holds per-user limits and approves or rejects order submissions
// against them.
type Gate struct {
	mu     sync.RWMutex
	limits map[common.UserID]Limits
	log    zerolog.Logger
}

// New returns a gate with no configured limits; submissions pass until a
// user's limits are set.
func New(log zerolog.Logger) *Gate {
	return &Gate{
		limits: make(map[common.UserID]Limits),
		log:    log.With().Str("component", "risk").Logger(),
	}
}

// SetLimits installs or replaces a user's limits.
func (g *Gate) SetLimits(user common.UserID, limits Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits[user] = limits
}

// Limits returns a user's configured limits, if any.
func (g *Gate) Limits(user common.UserID) (Limits, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l, ok := g.limits[user]
	return l, ok
}

// Approve reports whether a submission of side/qty against a user whose
// current net quantity in the instrument is currentNetQty would keep the
// resulting position within the user's MaxPosition. Users with no
// configured limits always pass.
func (g *Gate) Approve(user common.UserID, side common.Side, qty common.Qty, currentNetQty common.Qty) bool {
	g.mu.RLock()
	limits, ok := g.limits[user]
	g.mu.RUnlock()
	if !ok {
		return true
	}

	s := common.Qty(1)
	if side == common.Sell {
		s = -1
	}
	projected := currentNetQty + s*qty
	if projected < 0 {
		projected = -projected
	}

	if projected > limits.MaxPosition {
		g.log.Debug().
			Uint64("user_id", uint64(user)).
			Int64("projected", int64(projected)).
			Int64("max_position", int64(limits.MaxPosition)).
			Msg("submission rejected by risk gate")
		return false
	}
	return true
}
