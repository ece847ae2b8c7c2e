// Package handler exposes the order core over HTTP. Handlers decode and
// validate the wire shape, delegate to the order service, and map domain
// errors onto status codes; no business rules live here.
package handler

import (
	"net/http"

	"github.com/openmart/orders-api/internal/domain/order"
	"github.com/openmart/orders-api/internal/domain/product"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Handler serves the public API, delegating business logic to the order
// service and the product repository.
type Handler struct {
	products     product.Repository
	orders       *order.Service
	imageBaseURL string
}

// New constructs a Handler with the required domain dependencies.
func New(cfg Config, products product.Repository, orders *order.Service) *Handler {
	return &Handler{
		products:     products,
		orders:       orders,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register mounts all API routes on mux. requireAuth guards the routes that
// need a resolved actor; guest checkout stays public.
func (h *Handler) Register(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	authed := func(fn http.HandlerFunc) http.Handler { return requireAuth(fn) }

	mux.Handle("GET /api/products", http.HandlerFunc(h.ListProducts))
	mux.Handle("GET /api/products/{id}", http.HandlerFunc(h.GetProduct))

	mux.Handle("POST /api/orders", authed(h.CreateOrder))
	mux.Handle("GET /api/orders", authed(h.ListOrders))
	mux.Handle("GET /api/orders/{id}", authed(h.GetOrder))
	mux.Handle("PATCH /api/orders/{id}/status", authed(h.UpdateStatus))
	mux.Handle("PATCH /api/orders/{id}/payment", authed(h.UpdatePaymentStatus))
	mux.Handle("POST /api/orders/{id}/cancel", authed(h.CancelOrder))

	mux.Handle("POST /api/guest/orders", http.HandlerFunc(h.CreateGuestOrder))
}
