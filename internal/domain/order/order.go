// Package order implements the checkout core: order creation with atomic
// stock reservation, the status state machine with its append-only audit
// trail, and cancellation with restock.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod enumerates the supported payment methods.
type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
	PaymentCreditCard     PaymentMethod = "credit_card"
)

// IsValid reports whether m is a known payment method.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentBankTransfer, PaymentCreditCard:
		return true
	}
	return false
}

// GuestAllowed reports whether the method is available without a stored
// payment profile. Guest checkout is restricted to these.
func (m PaymentMethod) GuestAllowed() bool {
	return m == PaymentCashOnDelivery
}

// Address is a structured billing or shipping address. It is serialized once
// at the storage boundary (JSONB), never as ad hoc text.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	Ward       string `json:"ward,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// IsZero reports whether no field of the address is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Order is a committed, priced purchase with its own lifecycle. Guest orders
// have an empty UserID and carry the captured customer contact instead.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	Status        Status
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus

	Subtotal       decimal.Decimal
	ShippingFee    decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	Currency       string

	BillingAddress  Address
	ShippingAddress Address
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	Notes           string
	PromoCode       string

	TrackingNumber string
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Items   []Item
	History []HistoryEntry
}

// IsGuest reports whether the order was placed without a registered user.
func (o *Order) IsGuest() bool {
	return o.UserID == ""
}

// Item is an immutable snapshot of a product line captured at order time.
// It must not change even if the underlying product later does.
type Item struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	ProductSKU  string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	Image       string
	// StockManaged records whether stock was reserved for this line, so
	// cancellation restores exactly what checkout took.
	StockManaged bool
}

// HistoryEntry is one append-only audit record of a status change. Payment
// transitions share the table under a "payment_" label prefix.
type HistoryEntry struct {
	ID        string
	OrderID   string
	Status    string
	Comment   string
	CreatedBy string
	CreatedAt time.Time
}

// StatusUpdate enumerates every field a shipment-status transition may touch.
type StatusUpdate struct {
	Status         Status
	Comment        string
	TrackingNumber string
	ActorID        string
}

// PaymentUpdate enumerates every field a payment-status transition may touch.
type PaymentUpdate struct {
	Status  PaymentStatus
	Comment string
	ActorID string
}

// ListFilter restricts and pages an order listing. A zero field means
// "no constraint"; UserID is forced by the service for non-admin actors.
type ListFilter struct {
	Status        Status
	PaymentStatus PaymentStatus
	Search        string
	CreatedFrom   time.Time
	CreatedTo     time.Time
	UserID        string
	Limit         int
	Offset        int
}

// Page is one page of a listing together with the unpaged total.
type Page struct {
	Orders []Order
	Total  int
}

// Repository defines persistence for orders. Implementations must make each
// mutating call a single atomic transaction: creation spans the conditional
// stock decrements and the header/items/history inserts; cancellation spans
// the state check, the restock, and the history append; status updates span
// the state check, the row update, and the history append.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	List(ctx context.Context, f ListFilter) (*Page, error)
	UpdateStatus(ctx context.Context, id string, upd StatusUpdate) (*Order, error)
	UpdatePaymentStatus(ctx context.Context, id string, upd PaymentUpdate) (*Order, error)
	Cancel(ctx context.Context, id, reason, actorID string) (*Order, error)
}
