package common

import (
	"fmt"
	"time"
)

// Order is a single resting or historical order record. Quantity is
// immutable once accepted; FilledQuantity is monotonic non-decreasing.
//
// Lifecycle:
//
//	accepted -> PENDING --match--> PARTIAL --match--> FILLED (terminal)
//	          |                  |                   |
//	          |                  +----cancel---------> CANCELLED (terminal)
//	          |
//	          +---- IOC leftover -----------------------> CANCELLED (terminal)
//	          +---- post-only crosses ------------------> REJECTED (terminal)
type Order struct {
	ID             OrderID
	UserID         UserID
	InstrumentID   InstrumentID
	Side           Side
	LimitPrice     Price
	Quantity       Qty
	FilledQuantity Qty
	TIF            TIF
	PostOnly       bool
	Status         OrderStatus

	// Timestamp is the monotonic sequence number assigned at acceptance; it
	// alone determines FIFO order within a price level.
	Timestamp Sequence

	// CreatedAt is a wall-clock stamp kept for display only. It must never
	// be consulted for matching priority.
	CreatedAt time.Time
}

// Remaining returns the quantity still eligible to match or rest.
func (o *Order) Remaining() Qty {
	return o.Quantity - o.FilledQuantity
}

// Live reports whether the order still occupies book space.
func (o *Order) Live() bool {
	return o.Status.Live()
}

func (o Order) String() string {
	return fmt.Sprintf(
		"Order{id=%d user=%d inst=%d side=%s price=%d qty=%d/%d tif=%s post_only=%v status=%s}",
		o.ID, o.UserID, o.InstrumentID, o.Side, o.LimitPrice, o.FilledQuantity, o.Quantity, o.TIF, o.PostOnly, o.Status,
	)
}
