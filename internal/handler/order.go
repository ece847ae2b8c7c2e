package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmart/orders-api/internal/domain/order"
)

type lineItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Items           []lineItemRequest `json:"items"`
	ShippingAddress order.Address     `json:"shipping_address"`
	BillingAddress  order.Address     `json:"billing_address"`
	PaymentMethod   string            `json:"payment_method"`
	ShippingFee     decimal.Decimal   `json:"shipping_fee"`
	Notes           string            `json:"notes"`
	PromoCode       string            `json:"promo_code"`
}

type guestContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type createGuestOrderRequest struct {
	Items           []lineItemRequest   `json:"items"`
	Contact         guestContactRequest `json:"contact"`
	ShippingAddress order.Address       `json:"shipping_address"`
	PaymentMethod   string              `json:"payment_method"`
	ShippingFee     decimal.Decimal     `json:"shipping_fee"`
	Notes           string              `json:"notes"`
	PromoCode       string              `json:"promo_code"`
}

type updateStatusRequest struct {
	Status         string `json:"status"`
	Comment        string `json:"comment"`
	TrackingNumber string `json:"tracking_number"`
}

type updatePaymentRequest struct {
	PaymentStatus string `json:"payment_status"`
	Comment       string `json:"comment"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderItemResponse struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	ProductSKU  string          `json:"product_sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Image       string          `json:"product_image,omitempty"`
}

type historyResponse struct {
	Status    string    `json:"status"`
	Comment   string    `json:"comment,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"order_number"`
	UserID          string              `json:"user_id,omitempty"`
	Status          string              `json:"status"`
	PaymentMethod   string              `json:"payment_method"`
	PaymentStatus   string              `json:"payment_status"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	ShippingFee     decimal.Decimal     `json:"shipping_fee"`
	DiscountAmount  decimal.Decimal     `json:"discount_amount"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	Currency        string              `json:"currency"`
	BillingAddress  order.Address       `json:"billing_address"`
	ShippingAddress order.Address       `json:"shipping_address"`
	CustomerName    string              `json:"customer_name,omitempty"`
	CustomerEmail   string              `json:"customer_email,omitempty"`
	CustomerPhone   string              `json:"customer_phone,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	PromoCode       string              `json:"promo_code,omitempty"`
	TrackingNumber  string              `json:"tracking_number,omitempty"`
	ShippedAt       *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Items           []orderItemResponse `json:"items"`
	History         []historyResponse   `json:"history,omitempty"`
}

type orderPageResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
}

// CreateOrder places an order for the authenticated user.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	o, err := h.orders.Create(r.Context(), toCreateRequest(
		req.Items, req.ShippingAddress, req.BillingAddress,
		req.PaymentMethod, req.ShippingFee, req.Notes, req.PromoCode,
	), actorFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderResponse(o, true))
}

// CreateGuestOrder places an order for an anonymous buyer. No authentication;
// payment is restricted to methods without a stored profile.
func (h *Handler) CreateGuestOrder(w http.ResponseWriter, r *http.Request) {
	var req createGuestOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	o, err := h.orders.CreateGuest(r.Context(), toCreateRequest(
		req.Items, req.ShippingAddress, order.Address{},
		req.PaymentMethod, req.ShippingFee, req.Notes, req.PromoCode,
	), order.GuestContact{
		Name:  req.Contact.Name,
		Email: req.Contact.Email,
		Phone: req.Contact.Phone,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderResponse(o, true))
}

// GetOrder returns one order with items and history. The path value may be a
// surrogate id or a human-readable order number.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"), actorFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o, true))
}

// ListOrders returns a filtered page of orders. Non-admin callers only ever
// see their own.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	page, err := h.orders.List(r.Context(), f, actorFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := orderPageResponse{Total: page.Total, Orders: make([]orderResponse, len(page.Orders))}
	for i := range page.Orders {
		resp.Orders[i] = toOrderResponse(&page.Orders[i], false)
	}
	respondJSON(w, http.StatusOK, resp)
}

// UpdateStatus applies a shipment-status transition (admin only).
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), order.StatusUpdate{
		Status:         order.Status(req.Status),
		Comment:        req.Comment,
		TrackingNumber: req.TrackingNumber,
	}, actorFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o, true))
}

// UpdatePaymentStatus applies a payment-status transition (admin only).
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req updatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	o, err := h.orders.UpdatePaymentStatus(r.Context(), r.PathValue("id"), order.PaymentUpdate{
		Status:  order.PaymentStatus(req.PaymentStatus),
		Comment: req.Comment,
	}, actorFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o, true))
}

// CancelOrder cancels an order and restores its reserved stock.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	o, err := h.orders.Cancel(r.Context(), r.PathValue("id"), req.Reason, actorFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o, true))
}

func toCreateRequest(items []lineItemRequest, shipping, billing order.Address,
	method string, fee decimal.Decimal, notes, promoCode string,
) order.CreateRequest {
	lines := make([]order.LineRequest, len(items))
	for i, it := range items {
		lines[i] = order.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return order.CreateRequest{
		Items:           lines,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		PaymentMethod:   order.PaymentMethod(method),
		ShippingFee:     fee,
		Notes:           notes,
		PromoCode:       promoCode,
	}
}

func toOrderResponse(o *order.Order, withHistory bool) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Status:          string(o.Status),
		PaymentMethod:   string(o.PaymentMethod),
		PaymentStatus:   string(o.PaymentStatus),
		Subtotal:        o.Subtotal,
		ShippingFee:     o.ShippingFee,
		DiscountAmount:  o.DiscountAmount,
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency,
		BillingAddress:  o.BillingAddress,
		ShippingAddress: o.ShippingAddress,
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		CustomerPhone:   o.CustomerPhone,
		Notes:           o.Notes,
		PromoCode:       o.PromoCode,
		TrackingNumber:  o.TrackingNumber,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           make([]orderItemResponse, len(o.Items)),
	}
	for i, it := range o.Items {
		resp.Items[i] = orderItemResponse{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			ProductSKU:  it.ProductSKU,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
			Image:       it.Image,
		}
	}
	if withHistory {
		resp.History = make([]historyResponse, len(o.History))
		for i, h := range o.History {
			resp.History[i] = historyResponse{
				Status:    h.Status,
				Comment:   h.Comment,
				CreatedBy: h.CreatedBy,
				CreatedAt: h.CreatedAt,
			}
		}
	}
	return resp
}

func parseListFilter(r *http.Request) (order.ListFilter, error) {
	q := r.URL.Query()
	f := order.ListFilter{
		Status:        order.Status(q.Get("status")),
		PaymentStatus: order.PaymentStatus(q.Get("payment_status")),
		Search:        q.Get("search"),
	}

	var err error
	if v := q.Get("from"); v != "" {
		if f.CreatedFrom, err = time.Parse(time.RFC3339, v); err != nil {
			return f, &order.ValidationError{Field: "from", Message: "must be RFC3339"}
		}
	}
	if v := q.Get("to"); v != "" {
		if f.CreatedTo, err = time.Parse(time.RFC3339, v); err != nil {
			return f, &order.ValidationError{Field: "to", Message: "must be RFC3339"}
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, &order.ValidationError{Field: "limit", Message: "must be an integer"}
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			return f, &order.ValidationError{Field: "offset", Message: "must be an integer"}
		}
	}
	return f, nil
}
