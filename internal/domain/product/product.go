package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the catalog snapshot the order pipeline reads during validation:
// pricing, stock, and whether stock is enforced for this product at all.
type Product struct {
	ID           string
	Name         string
	SKU          string
	Price        decimal.Decimal
	SalePrice    decimal.Decimal
	HasSalePrice bool
	Stock        int
	StockManaged bool
	Active       bool
	Image        string
}

// EffectivePrice returns the price a new order line is charged at: the sale
// price when one is set, the list price otherwise.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.HasSalePrice {
		return p.SalePrice
	}
	return p.Price
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
