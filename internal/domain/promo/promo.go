// Package promo implements promotional discount codes applied at checkout.
// A valid code reduces the order's total through the discount_amount field;
// it never affects line-item snapshots.
package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported promo discount strategies.
type DiscountType string

const (
	// DiscountPercentage reduces the subtotal by a percentage.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed subtracts a fixed amount, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeLowest removes the cost of the cheapest unit in the order.
	DiscountFreeLowest DiscountType = "free_lowest"
)

var (
	// ErrInvalidCode is returned when a promo code is unknown or the order
	// does not satisfy the code's minimum item requirement.
	ErrInvalidCode = errors.New("invalid promo code")
	// ErrExpired is returned when a code is outside its validity window.
	ErrExpired = errors.New("promo code expired")
	// ErrUsageLimitReached is returned when a code has exhausted its uses.
	ErrUsageLimitReached = errors.New("promo code usage limit reached")
)

// Rule defines a promo code's discount behaviour and eligibility constraints.
type Rule struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinItems     int
	Description  string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
	MaxDiscount  decimal.Decimal
}

// Discount holds the computed discount amount and a human-readable label.
type Discount struct {
	Amount      decimal.Decimal
	Description string
}

// Item is an order line for discount calculation purposes.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

// Repository provides lookup of promo rules. Usage consumption happens in
// the order store, atomically with order creation.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
}
