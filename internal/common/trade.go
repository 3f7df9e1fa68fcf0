package common

// Fill is one side of a matched trade. Fills are always produced in pairs:
// the aggressor's fill immediately followed by the passive side's, both
// carrying the same price, quantity and timestamp.
type Fill struct {
	OrderID      OrderID
	UserID       UserID
	InstrumentID InstrumentID
	Side         Side
	Price        Price
	Quantity     Qty
	Timestamp    Sequence
}

// TradeRecord is one matched pair, derived from a Fill pair.
type TradeRecord struct {
	InstrumentID InstrumentID
	Price        Price
	Quantity     Qty
	Timestamp    Sequence

	BuyOrderID  OrderID
	SellOrderID OrderID
	BuyerID     UserID
	SellerID    UserID
}
