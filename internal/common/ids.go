// Package common holds the value types shared by every layer of the
// matching engine: identifiers, fixed-point prices, enums, and the order
// and instrument records themselves.
package common

// PriceScale converts the integer fixed-point Price representation into a
// human dollar value for settlement and P&L arithmetic. A Price of 10050
// means 100.50 in the instrument's currency.
const PriceScale = 100

// UserID, InstrumentID and OrderID are opaque positive integers. OrderID is
// allocated by the engine and is unique across all instruments in a session.
type (
	UserID       uint64
	InstrumentID uint64
	OrderID      uint64
)

// Price is a signed integer fixed-point value in an instrument's smallest
// unit (see PriceScale).
type Price int64

// Qty is a signed quantity. Submitted order quantities must be strictly
// positive; the sign only carries meaning inside position arithmetic.
type Qty int64

// Sequence is the engine's monotonic counter used purely to establish FIFO
// order within a price level. It carries no wall-clock meaning.
type Sequence uint64
