package exchange

import "sync/atomic"

// atomic64 is a monotonic counter starting at 1 on its first next() call,
// used for both order-id allocation and the FIFO sequence counter.
type atomic64 struct {
	v atomic.Uint64
}

func (a *atomic64) next() uint64 {
	return a.v.Add(1)
}
