package exchange

import "sync/atomic"

// Stats is a read-only snapshot of the engine's running counters.
type Stats struct {
	TotalOrdersAccepted uint64
	TotalFillsEmitted   uint64
	TotalCancels        uint64
	TotalRejects        uint64
}

type counters struct {
	ordersAccepted atomic.Uint64
	fillsEmitted   atomic.Uint64
	cancels        atomic.Uint64
	rejects        atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		TotalOrdersAccepted: c.ordersAccepted.Load(),
		TotalFillsEmitted:   c.fillsEmitted.Load(),
		TotalCancels:        c.cancels.Load(),
		TotalRejects:        c.rejects.Load(),
	}
}
