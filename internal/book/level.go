package book

import (
	"container/list"

	"bourse/internal/common"
)

// priceLevel is a FIFO queue of live orders resting at one price. Orders are
// appended at the tail on entry and removed from the head on full fill, or
// from anywhere on cancel.
type priceLevel struct {
	price  common.Price
	orders *list.List // of *common.Order
}

func newPriceLevel(price common.Price) *priceLevel {
	return &priceLevel{price: price, orders: list.New()}
}

// liveSize sums the remaining (unfilled) quantity of every resting order at
// this level — the aggregate size a snapshot reports for the level.
func (l *priceLevel) liveSize() common.Qty {
	var total common.Qty
	for e := l.orders.Front(); e != nil; e = e.Next() {
		total += e.Value.(*common.Order).Remaining()
	}
	return total
}
