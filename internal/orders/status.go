package orders

type Status string

const (
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusPreparing       Status = "PREPARING"
	StatusShipped         Status = "SHIPPED"
	StatusDelivered       Status = "DELIVERED"
	StatusCanceled        Status = "CANCELED"
	StatusFailed          Status = "FAILED"
)

var validNext = map[Status]map[Status]bool{
	StatusAwaitingPayment: {StatusPaid: true, StatusCanceled: true, StatusFailed: true},
	StatusPaid:            {StatusPreparing: true, StatusShipped: true, StatusCanceled: true},
	StatusPreparing:       {StatusShipped: true, StatusCanceled: true},
	StatusShipped:         {StatusDelivered: true},
	StatusDelivered:       {},
	StatusCanceled:        {},
	StatusFailed:          {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Cancellable reports whether a customer or admin may still cancel the
// order. Shipped and delivered orders are past the point of no return.
func (s Status) Cancellable() bool {
	switch s {
	case StatusAwaitingPayment, StatusPaid, StatusPreparing:
		return true
	}
	return false
}

// Processed reports whether payment has been captured and stock
// decremented, which decides whether cancellation owes a restock.
func (s Status) Processed() bool {
	switch s {
	case StatusPaid, StatusPreparing, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

// StockHeld reports whether an order in this status holds stock: from
// payment onward for every method, from creation for eager ones. Callers
// deciding a restock must evaluate it on the status read under the row
// lock, not on an earlier snapshot.
func StockHeld(s Status, m PaymentMethod) bool {
	if s.Processed() {
		return true
	}
	return s == StatusAwaitingPayment && m.Eager()
}
