package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/openmart/orders-api/internal/domain/auth"
	"github.com/openmart/orders-api/internal/domain/product"
	"github.com/openmart/orders-api/internal/domain/promo"
)

// LineRequest is one requested (product, quantity) pair.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// GuestContact is the captured identity of an anonymous buyer.
type GuestContact struct {
	Name  string
	Email string
	Phone string
}

// CreateRequest holds the input for placing an order. ShippingFee comes from
// the external shipping estimator and is only validated here.
type CreateRequest struct {
	Items           []LineRequest
	ShippingAddress Address
	BillingAddress  Address
	PaymentMethod   PaymentMethod
	ShippingFee     decimal.Decimal
	Notes           string
	PromoCode       string
}

// Service is the order factory and the single entry point for every order
// mutation. Registered and guest checkouts converge on the same pipeline and
// produce structurally identical records.
type Service struct {
	products product.Repository
	promos   promo.Validator
	orders   Repository
	currency string
}

// NewService creates a Service with the required domain dependencies.
func NewService(products product.Repository, promos promo.Validator, orders Repository, currency string) *Service {
	return &Service{
		products: products,
		promos:   promos,
		orders:   orders,
		currency: currency,
	}
}

// Create places an order for a registered user.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor auth.Actor) (*Order, error) {
	if actor.UserID == "" {
		return nil, &AuthorizationError{Reason: "registered checkout requires an authenticated user"}
	}
	return s.place(ctx, req, actor.UserID, GuestContact{})
}

// CreateGuest places an order for an anonymous buyer. Guest checkout is
// restricted to payment methods that need no stored profile; when the request
// carries none, cash on delivery is assumed.
func (s *Service) CreateGuest(ctx context.Context, req CreateRequest, contact GuestContact) (*Order, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = PaymentCashOnDelivery
	}
	if !req.PaymentMethod.GuestAllowed() {
		return nil, &ValidationError{Field: "payment_method", Message: "not available for guest checkout"}
	}
	if contact.Name == "" {
		return nil, &ValidationError{Field: "contact.name", Message: "required"}
	}
	if contact.Email == "" && contact.Phone == "" {
		return nil, &ValidationError{Field: "contact", Message: "email or phone required"}
	}
	return s.place(ctx, req, "", contact)
}

// place is the shared pipeline: validate lines against the catalog, price
// them, apply an optional promo code, and hand the whole set to the store as
// one transaction. Any single-line failure aborts the request with no effect.
func (s *Service) place(ctx context.Context, req CreateRequest, userID string, contact GuestContact) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, &ValidationError{Field: "items", Message: "at least one item is required"}
	}
	if !req.PaymentMethod.IsValid() {
		return nil, &ValidationError{Field: "payment_method", Message: "unknown payment method"}
	}
	if req.ShippingAddress.IsZero() {
		return nil, &ValidationError{Field: "shipping_address", Message: "required"}
	}
	if req.ShippingFee.IsNegative() {
		return nil, &ValidationError{Field: "shipping_fee", Message: "must not be negative"}
	}
	if req.BillingAddress.IsZero() {
		req.BillingAddress = req.ShippingAddress
	}

	ids := make([]string, len(req.Items))
	for i, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, &ValidationError{Field: "items", Message: "quantity must be greater than 0 for product " + line.ProductID}
		}
		ids[i] = line.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]Item, 0, len(req.Items))
	promoItems := make([]promo.Item, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, line := range req.Items {
		p, ok := byID[line.ProductID]
		if !ok {
			return nil, errors.Wrapf(product.ErrNotFound, "product %s", line.ProductID)
		}
		if !p.Active {
			return nil, &ValidationError{Field: "items", Message: "product " + line.ProductID + " is not available"}
		}
		// Advisory check for a friendly error; the store re-applies it as an
		// atomic conditional decrement inside the transaction.
		if p.StockManaged && p.Stock < line.Quantity {
			return nil, &InsufficientStockError{
				ProductID: p.ID,
				Requested: line.Quantity,
				Available: p.Stock,
			}
		}

		unit := p.EffectivePrice()
		lineTotal := unit.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, Item{
			ProductID:    p.ID,
			ProductName:  p.Name,
			ProductSKU:   p.SKU,
			Quantity:     line.Quantity,
			UnitPrice:    unit,
			TotalPrice:   lineTotal,
			Image:        p.Image,
			StockManaged: p.StockManaged,
		})
		promoItems = append(promoItems, promo.Item{
			ProductID: p.ID,
			Price:     unit,
			Quantity:  line.Quantity,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	discount := decimal.Zero
	if req.PromoCode != "" {
		d, err := s.promos.Validate(ctx, req.PromoCode, promoItems)
		if err != nil {
			if errors.Is(err, promo.ErrInvalidCode) || errors.Is(err, promo.ErrExpired) || errors.Is(err, promo.ErrUsageLimitReached) {
				return nil, &ValidationError{Field: "promo_code", Message: err.Error()}
			}
			return nil, errors.Wrap(err, "validate promo code")
		}
		discount = d.Amount
	}

	total := subtotal.Add(req.ShippingFee).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := &Order{
		UserID:          userID,
		Status:          StatusPending,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   PaymentStatusPending,
		Subtotal:        subtotal,
		ShippingFee:     req.ShippingFee,
		DiscountAmount:  discount,
		TotalAmount:     total,
		Currency:        s.currency,
		BillingAddress:  req.BillingAddress,
		ShippingAddress: req.ShippingAddress,
		CustomerName:    contact.Name,
		CustomerEmail:   contact.Email,
		CustomerPhone:   contact.Phone,
		Notes:           req.Notes,
		PromoCode:       req.PromoCode,
		Items:           items,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		// The store re-checks the usage cap atomically; a loss of the race
		// between validation and commit surfaces here.
		if errors.Is(err, promo.ErrUsageLimitReached) {
			return nil, &ValidationError{Field: "promo_code", Message: err.Error()}
		}
		return nil, err
	}
	return o, nil
}

// Get returns an order with its items and history, resolving idOrNumber as a
// surrogate id first and a human-readable order number second. Non-admin
// actors may only read their own orders.
func (s *Service) Get(ctx context.Context, idOrNumber string, actor auth.Actor) (*Order, error) {
	o, err := s.resolve(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.Owns(o.UserID) {
		return nil, &AuthorizationError{Reason: "not the owner of this order"}
	}
	return o, nil
}

// List returns a filtered, paged order listing. Non-admin actors are always
// scoped to their own orders regardless of the requested filter; an actor
// without a bound user has nothing to be scoped to and is rejected.
func (s *Service) List(ctx context.Context, f ListFilter, actor auth.Actor) (*Page, error) {
	if !actor.IsAdmin() {
		if actor.UserID == "" {
			return nil, &AuthorizationError{Reason: "authentication required"}
		}
		f.UserID = actor.UserID
	}
	if f.Status != "" && !f.Status.IsValid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status"}
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.IsValid() {
		return nil, &ValidationError{Field: "payment_status", Message: "unknown payment status"}
	}
	return s.orders.List(ctx, f)
}

// UpdateStatus applies a shipment-status transition. Administrators only; the
// legality of the transition is enforced atomically with the write.
func (s *Service) UpdateStatus(ctx context.Context, id string, upd StatusUpdate, actor auth.Actor) (*Order, error) {
	if !actor.IsAdmin() {
		return nil, &AuthorizationError{Reason: "administrator role required"}
	}
	if !upd.Status.IsValid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status"}
	}
	if upd.Status == StatusCancelled {
		// Cancellation restocks; it has its own entry point.
		return nil, &ValidationError{Field: "status", Message: "use the cancel operation"}
	}
	if upd.TrackingNumber != "" && upd.Status != StatusShipped {
		return nil, &ValidationError{Field: "tracking_number", Message: "only allowed when shipping"}
	}
	upd.ActorID = actor.UserID
	return s.orders.UpdateStatus(ctx, id, upd)
}

// UpdatePaymentStatus applies a payment-status transition. The payment
// dimension neither gates nor is gated by shipment transitions.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id string, upd PaymentUpdate, actor auth.Actor) (*Order, error) {
	if !actor.IsAdmin() {
		return nil, &AuthorizationError{Reason: "administrator role required"}
	}
	if !upd.Status.IsValid() {
		return nil, &ValidationError{Field: "payment_status", Message: "unknown payment status"}
	}
	upd.ActorID = actor.UserID
	return s.orders.UpdatePaymentStatus(ctx, id, upd)
}

// Cancel cancels an order and restores the stock its snapshots reserved. The
// status precondition and the restock are enforced in one transaction, so a
// racing second cancel fails with IllegalTransitionError instead of
// restocking twice.
func (s *Service) Cancel(ctx context.Context, id, reason string, actor auth.Actor) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.Owns(o.UserID) {
		return nil, &AuthorizationError{Reason: "not the owner of this order"}
	}
	return s.orders.Cancel(ctx, id, reason, actor.UserID)
}

func (s *Service) resolve(ctx context.Context, idOrNumber string) (*Order, error) {
	if strings.HasPrefix(idOrNumber, "ORD-") {
		return s.orders.GetByNumber(ctx, idOrNumber)
	}
	return s.orders.GetByID(ctx, idOrNumber)
}
