package promo

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPromoRepo struct {
	rule *Rule
	err  error
}

func (m *mockPromoRepo) FindByCode(_ context.Context, _ string) (*Rule, error) {
	return m.rule, m.err
}

func TestRepoValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name       string
		repo       *mockPromoRepo
		code       string
		items      []Item
		wantAmount decimal.Decimal
		wantErr    error
	}{
		{
			name: "percentage code returns discount",
			repo: &mockPromoRepo{
				rule: &Rule{
					Code:         "WELCOME10",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(10),
					Description:  "10% off",
				},
			},
			code: "WELCOME10",
			items: []Item{
				{ProductID: "p1", Price: decimal.NewFromInt(100000), Quantity: 2},
			},
			wantAmount: decimal.NewFromInt(20000),
		},
		{
			name: "unknown code returns ErrInvalidCode",
			repo: &mockPromoRepo{
				err: ErrInvalidCode,
			},
			code: "BOGUS",
			items: []Item{
				{ProductID: "p1", Price: decimal.NewFromInt(50), Quantity: 1},
			},
			wantErr: ErrInvalidCode,
		},
		{
			name: "below minimum item count returns ErrInvalidCode",
			repo: &mockPromoRepo{
				rule: &Rule{
					Code:         "BULKDEAL",
					DiscountType: DiscountFixed,
					Value:        decimal.NewFromInt(50000),
					MinItems:     5,
				},
			},
			code: "BULKDEAL",
			items: []Item{
				{ProductID: "p1", Price: decimal.NewFromInt(20000), Quantity: 2},
			},
			wantErr: ErrInvalidCode,
		},
		{
			name: "minimum item count satisfied across lines",
			repo: &mockPromoRepo{
				rule: &Rule{
					Code:         "BULKDEAL",
					DiscountType: DiscountFixed,
					Value:        decimal.NewFromInt(50000),
					MinItems:     5,
				},
			},
			code: "BULKDEAL",
			items: []Item{
				{ProductID: "p1", Price: decimal.NewFromInt(20000), Quantity: 3},
				{ProductID: "p2", Price: decimal.NewFromInt(30000), Quantity: 2},
			},
			wantAmount: decimal.NewFromInt(50000),
		},
		{
			name: "expired code",
			repo: &mockPromoRepo{
				rule: &Rule{
					Code:         "SUMMER",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(15),
					ValidUntil:   &pastTime,
				},
			},
			code: "SUMMER",
			items: []Item{
				{ProductID: "p1", Price: decimal.NewFromInt(100), Quantity: 1},
			},
			wantErr: ErrExpired,
		},
		{
			name: "not yet valid code",
			repo: &mockPromoRepo{
				rule: &Rule{
					Code:         "AUTUMN",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(15),
					ValidFrom:    &futureTime,
				},
			},
			code: "AUTUMN",
			items: []Item{
				{ProductID: "p1", Price: decimal.NewFromInt(100), Quantity: 1},
			},
			wantErr: ErrExpired,
		},
		{
			name: "within valid window",
			repo: &mockPromoRepo{
				rule: &Rule{
					Code:         "WINDOW",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(10),
					ValidFrom:    &pastTime,
					ValidUntil:   &futureTime,
				},
			},
			code: "WINDOW",
			items: []Item{
				{ProductID: "p1", Price: decimal.NewFromInt(100), Quantity: 1},
			},
			wantAmount: decimal.NewFromInt(10),
		},
		{
			name: "usage limit reached",
			repo: &mockPromoRepo{
				rule: &Rule{
					Code:         "LIMITED",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(10),
					MaxUses:      100,
					Uses:         100,
				},
			},
			code: "LIMITED",
			items: []Item{
				{ProductID: "p1", Price: decimal.NewFromInt(100), Quantity: 1},
			},
			wantErr: ErrUsageLimitReached,
		},
		{
			name: "unlimited uses when max_uses is zero",
			repo: &mockPromoRepo{
				rule: &Rule{
					Code:         "UNLIMITED",
					DiscountType: DiscountFixed,
					Value:        decimal.NewFromInt(5),
					Uses:         9999,
				},
			},
			code: "UNLIMITED",
			items: []Item{
				{ProductID: "p1", Price: decimal.NewFromInt(100), Quantity: 1},
			},
			wantAmount: decimal.NewFromInt(5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoValidator(tt.repo)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Validate(context.Background(), tt.code, tt.items)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.wantAmount.Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
		})
	}
}

func TestRepoValidator_ValidateDoesNotMutateRule(t *testing.T) {
	repo := &mockPromoRepo{
		rule: &Rule{
			Code:         "READONLY",
			DiscountType: DiscountFixed,
			Value:        decimal.NewFromInt(5),
			MaxUses:      10,
			Uses:         3,
		},
	}

	v := NewRepoValidator(repo)
	_, err := v.Validate(context.Background(), "READONLY", []Item{
		{ProductID: "p1", Price: decimal.NewFromInt(100), Quantity: 1},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, repo.rule.Uses)
}
