package handler

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openmart/orders-api/internal/domain/product"
)

type productResponse struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	SKU          string           `json:"sku,omitempty"`
	Price        decimal.Decimal  `json:"price"`
	SalePrice    *decimal.Decimal `json:"sale_price,omitempty"`
	Stock        int              `json:"stock"`
	StockManaged bool             `json:"stock_managed"`
	Active       bool             `json:"active"`
	Image        string           `json:"image,omitempty"`
}

// ListProducts returns the catalog snapshots ordered by ID.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = h.toProductResponse(p)
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetProduct returns a single catalog snapshot.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toProductResponse(*p))
}

func (h *Handler) toProductResponse(p product.Product) productResponse {
	resp := productResponse{
		ID:           p.ID,
		Name:         p.Name,
		SKU:          p.SKU,
		Price:        p.Price,
		Stock:        p.Stock,
		StockManaged: p.StockManaged,
		Active:       p.Active,
		Image:        h.imageURL(p.Image),
	}
	if p.HasSalePrice {
		sp := p.SalePrice
		resp.SalePrice = &sp
	}
	return resp
}

// imageURL prepends the configured base URL to relative image paths.
func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimSuffix(h.imageBaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
