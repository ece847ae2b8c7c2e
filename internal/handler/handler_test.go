package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmart/orders-api/internal/domain/auth"
	"github.com/openmart/orders-api/internal/domain/order"
	"github.com/openmart/orders-api/internal/domain/product"
	"github.com/openmart/orders-api/internal/domain/promo"
)

// --- Mock implementations ---

type mockProductRepo struct {
	products []product.Product
	byID     map[string]*product.Product
	listErr  error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return m.products, m.listErr
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockPromoValidator struct {
	discount *promo.Discount
	err      error
}

func (m *mockPromoValidator) Validate(_ context.Context, _ string, _ []promo.Item) (*promo.Discount, error) {
	return m.discount, m.err
}

type mockOrderRepo struct {
	byID      map[string]*order.Order
	mutateErr error
}

func (m *mockOrderRepo) Create(_ context.Context, o *order.Order) error {
	o.ID = "o1"
	o.OrderNumber = "ORD-20260829-000001"
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) GetByNumber(_ context.Context, _ string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (m *mockOrderRepo) List(_ context.Context, _ order.ListFilter) (*order.Page, error) {
	return &order.Page{}, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, _ order.StatusUpdate) (*order.Order, error) {
	if m.mutateErr != nil {
		return nil, m.mutateErr
	}
	return m.byID[id], nil
}

func (m *mockOrderRepo) UpdatePaymentStatus(_ context.Context, id string, _ order.PaymentUpdate) (*order.Order, error) {
	if m.mutateErr != nil {
		return nil, m.mutateErr
	}
	return m.byID[id], nil
}

func (m *mockOrderRepo) Cancel(_ context.Context, id, _, _ string) (*order.Order, error) {
	if m.mutateErr != nil {
		return nil, m.mutateErr
	}
	o := m.byID[id]
	o.Status = order.StatusCancelled
	return o, nil
}

type mockAPIKeyRepo struct {
	byHash map[string]*auth.APIKeyInfo
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, errors.New("key not found")
	}
	return info, nil
}

// --- Helpers ---

const (
	testPepper     = "test-pepper"
	customerKey    = "customer-api-key"
	adminKey       = "admin-api-key"
	customerUserID = "u1"
	adminUserID    = "admin-1"
)

func keyHash(key string) string {
	mac := hmac.New(sha256.New, []byte(testPepper))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

func newAPIKeyRepo() *mockAPIKeyRepo {
	return &mockAPIKeyRepo{byHash: map[string]*auth.APIKeyInfo{
		keyHash(customerKey): {ID: "k1", KeyHash: keyHash(customerKey), UserID: customerUserID, Role: auth.RoleCustomer},
		keyHash(adminKey):    {ID: "k2", KeyHash: keyHash(adminKey), UserID: adminUserID, Role: auth.RoleAdmin},
	}}
}

func newTestProduct(id, name string, price decimal.Decimal, stock int) product.Product {
	return product.Product{
		ID:           id,
		Name:         name,
		SKU:          "SKU-" + id,
		Price:        price,
		Stock:        stock,
		StockManaged: true,
		Active:       true,
		Image:        "images/" + id + ".jpg",
	}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{products: products, byID: byID}
}

type testEnv struct {
	mux *http.ServeMux
}

func newEnv(cfg Config, products *mockProductRepo, promos *mockPromoValidator, orders *mockOrderRepo) *testEnv {
	svc := order.NewService(products, promos, orders, "VND")
	h := New(cfg, products, svc)

	authn := NewAuthenticator(newAPIKeyRepo(), []byte(testPepper))
	mux := http.NewServeMux()
	h.Register(mux, authn.RequireAuth)

	return &testEnv{mux: mux}
}

func (e *testEnv) do(t *testing.T, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

var testAddress = order.Address{Line1: "12 Nguyen Hue", City: "Ho Chi Minh City", Country: "VN"}

func orderBody(items ...lineItemRequest) createOrderRequest {
	return createOrderRequest{
		Items:           items,
		ShippingAddress: testAddress,
		PaymentMethod:   "cash_on_delivery",
	}
}

// --- Product tests ---

func TestListProducts(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", decimal.NewFromInt(10), 5)
	p2 := newTestProduct("p2", "Gadget", decimal.NewFromInt(20), 0)
	p2.SalePrice = decimal.NewFromInt(15)
	p2.HasSalePrice = true
	env := newEnv(Config{ImageBaseURL: "https://cdn.example.com"}, newProductRepo(p1, p2), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[[]productResponse](t, rec)
	require.Len(t, resp, 2)
	assert.Equal(t, "p1", resp[0].ID)
	assert.Equal(t, "https://cdn.example.com/images/p1.jpg", resp[0].Image)
	assert.Nil(t, resp[0].SalePrice)
	require.NotNil(t, resp[1].SalePrice)
	assert.True(t, decimal.NewFromInt(15).Equal(*resp[1].SalePrice))
}

func TestGetProduct_NotFound(t *testing.T) {
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodGet, "/api/products/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, http.StatusNotFound, body.Code)
}

// --- Auth tests ---

func TestCreateOrder_RequiresAPIKey(t *testing.T) {
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodPost, "/api/orders", "", orderBody())
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/orders", "wrong-key", orderBody())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// --- Order creation tests ---

func TestCreateOrder(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", decimal.RequireFromString("100000"), 10)
	env := newEnv(Config{}, newProductRepo(p1), &mockPromoValidator{}, &mockOrderRepo{})

	body := orderBody(lineItemRequest{ProductID: "p1", Quantity: 2})
	body.ShippingFee = decimal.RequireFromString("30000")

	rec := env.do(t, http.MethodPost, "/api/orders", customerKey, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[orderResponse](t, rec)
	assert.Equal(t, "ORD-20260829-000001", resp.OrderNumber)
	assert.Equal(t, customerUserID, resp.UserID)
	assert.Equal(t, "pending", resp.Status)
	assert.True(t, decimal.RequireFromString("230000").Equal(resp.TotalAmount))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 2, resp.Items[0].Quantity)
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodPost, "/api/orders", customerKey, orderBody())
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrder_UnknownField(t *testing.T) {
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodPost, "/api/orders", customerKey, map[string]any{
		"items":    []any{},
		"surprise": true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", decimal.NewFromInt(10), 2)
	env := newEnv(Config{}, newProductRepo(p1), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodPost, "/api/orders", customerKey,
		orderBody(lineItemRequest{ProductID: "p1", Quantity: 5}))
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "p1", body.Context["product_id"])
	assert.EqualValues(t, 5, body.Context["requested"])
	assert.EqualValues(t, 2, body.Context["available"])
}

func TestCreateGuestOrder(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", decimal.RequireFromString("50000"), 10)
	env := newEnv(Config{}, newProductRepo(p1), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodPost, "/api/guest/orders", "", createGuestOrderRequest{
		Items:           []lineItemRequest{{ProductID: "p1", Quantity: 1}},
		Contact:         guestContactRequest{Name: "Linh", Phone: "0901234567"},
		ShippingAddress: testAddress,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[orderResponse](t, rec)
	assert.Empty(t, resp.UserID)
	assert.Equal(t, "cash_on_delivery", resp.PaymentMethod)
	assert.Equal(t, "Linh", resp.CustomerName)
}

func TestCreateGuestOrder_MissingContact(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", decimal.NewFromInt(10), 5)
	env := newEnv(Config{}, newProductRepo(p1), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodPost, "/api/guest/orders", "", createGuestOrderRequest{
		Items:           []lineItemRequest{{ProductID: "p1", Quantity: 1}},
		ShippingAddress: testAddress,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Read tests ---

func TestGetOrder_OwnershipEnforced(t *testing.T) {
	o := &order.Order{ID: "o1", UserID: "someone-else", Status: order.StatusPending}
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{},
		&mockOrderRepo{byID: map[string]*order.Order{"o1": o}})

	rec := env.do(t, http.MethodGet, "/api/orders/o1", customerKey, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/orders/o1", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodGet, "/api/orders/nope", adminKey, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders_BadLimit(t *testing.T) {
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodGet, "/api/orders?limit=lots", customerKey, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Transition tests ---

func TestUpdateStatus_AdminOnly(t *testing.T) {
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{}, &mockOrderRepo{})

	rec := env.do(t, http.MethodPatch, "/api/orders/o1/status", customerKey,
		updateStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateStatus_IllegalTransition(t *testing.T) {
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{}, &mockOrderRepo{
		mutateErr: &order.IllegalTransitionError{From: "delivered", To: "processing"},
	})

	rec := env.do(t, http.MethodPatch, "/api/orders/o1/status", adminKey,
		updateStatusRequest{Status: "processing"})
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "delivered", body.Context["from"])
	assert.Equal(t, "processing", body.Context["to"])
}

func TestUpdatePaymentStatus(t *testing.T) {
	o := &order.Order{ID: "o1", Status: order.StatusPending, PaymentStatus: order.PaymentStatusPaid}
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{},
		&mockOrderRepo{byID: map[string]*order.Order{"o1": o}})

	rec := env.do(t, http.MethodPatch, "/api/orders/o1/payment", adminKey,
		updatePaymentRequest{PaymentStatus: "paid"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[orderResponse](t, rec)
	assert.Equal(t, "paid", resp.PaymentStatus)
}

// --- Cancellation tests ---

func TestCancelOrder(t *testing.T) {
	o := &order.Order{ID: "o1", UserID: customerUserID, Status: order.StatusPending}
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{},
		&mockOrderRepo{byID: map[string]*order.Order{"o1": o}})

	rec := env.do(t, http.MethodPost, "/api/orders/o1/cancel", customerKey,
		cancelOrderRequest{Reason: "changed my mind"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[orderResponse](t, rec)
	assert.Equal(t, "cancelled", resp.Status)
}

func TestCancelOrder_Stranger(t *testing.T) {
	o := &order.Order{ID: "o1", UserID: "someone-else", Status: order.StatusPending}
	env := newEnv(Config{}, newProductRepo(), &mockPromoValidator{},
		&mockOrderRepo{byID: map[string]*order.Order{"o1": o}})

	rec := env.do(t, http.MethodPost, "/api/orders/o1/cancel", customerKey,
		cancelOrderRequest{})
	require.Equal(t, http.StatusForbidden, rec.Code)
}
