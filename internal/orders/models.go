package orders

import "time"

type PaymentMethod string

const (
	PayCard         PaymentMethod = "card"
	PayPaypal       PaymentMethod = "paypal"
	PayBankTransfer PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PayCard, PayPaypal, PayBankTransfer:
		return true
	}
	return false
}

// Eager reports whether stock is decremented at order creation. Bank
// transfers have no asynchronous confirmation the customer is guaranteed to
// complete, so the claim is taken up front and released by the reaper.
func (m PaymentMethod) Eager() bool { return m == PayBankTransfer }

// AddressSnapshot is copied onto the order at checkout and never re-derived
// from the live address book.
type AddressSnapshot struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Line is an order line. Product name, price and image are snapshots taken
// at creation time; the article row may change or disappear later.
type Line struct {
	ID           string
	OrderID      string
	ArticleID    string
	ProductName  string
	UnitPrice    int // cents
	Quantity     int
	ProductImage string
}

type Order struct {
	ID            string
	Reference     string
	UserID        string
	UserEmail     string
	Status        Status
	PaymentMethod PaymentMethod
	TotalCents    int
	Lines         []Line

	ShippingSnapshot AddressSnapshot
	BillingSnapshot  AddressSnapshot

	GatewaySessionID       string
	GatewayPaymentIntentID string
	GatewayRefundID        string

	InvoiceSent bool

	ReservedUntil *time.Time
	PaidAt        *time.Time
	CanceledAt    *time.Time
	RefundedAt    *time.Time
	FailedAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvoiceAvailable: invoices exist only for validated payments and never
// for canceled orders.
func (o *Order) InvoiceAvailable() bool {
	return o.Status != StatusCanceled && o.Status != StatusFailed && o.Status != StatusAwaitingPayment
}
