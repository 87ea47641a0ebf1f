package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/minmin-cart/internal/domain/cart"
	"github.com/xenking/minmin-cart/internal/domain/catalog"
	"github.com/xenking/minmin-cart/internal/session"
	"github.com/xenking/minmin-cart/pkg/httpmiddleware"
)

// --- Mock implementations ---

type mockCarts struct {
	view *session.View
	err  error

	lastID     string
	lastItemID string
	lastQty    int
	lastAdd    session.AddItemInput
	lastCoupon string
	lastRemark map[string]string
	lastReord  session.ReorderInput
	calls      []string
}

func (m *mockCarts) result(name, id string) (*session.View, error) {
	m.calls = append(m.calls, name)
	m.lastID = id
	return m.view, m.err
}

func (m *mockCarts) Create(_ context.Context) (*session.View, error) {
	return m.result("create", "")
}

func (m *mockCarts) Get(_ context.Context, id string) (*session.View, error) {
	return m.result("get", id)
}

func (m *mockCarts) AddItem(_ context.Context, id string, in session.AddItemInput) (*session.View, error) {
	m.lastAdd = in
	return m.result("add", id)
}

func (m *mockCarts) SetQuantity(_ context.Context, id, itemID string, quantity int) (*session.View, error) {
	m.lastItemID, m.lastQty = itemID, quantity
	return m.result("set_quantity", id)
}

func (m *mockCarts) RemoveItem(_ context.Context, id, itemID string) (*session.View, error) {
	m.lastItemID = itemID
	return m.result("remove", id)
}

func (m *mockCarts) ApplyCoupon(_ context.Context, id, code string) (*session.View, error) {
	m.lastCoupon = code
	return m.result("coupon", id)
}

func (m *mockCarts) SetRemarks(_ context.Context, id string, remarks map[string]string) (*session.View, error) {
	m.lastRemark = remarks
	return m.result("remarks", id)
}

func (m *mockCarts) Reorder(_ context.Context, id string, in session.ReorderInput) (*session.View, error) {
	m.lastReord = in
	return m.result("reorder", id)
}

func (m *mockCarts) Clear(_ context.Context, id string) (*session.View, error) {
	return m.result("clear", id)
}

func (m *mockCarts) Refresh(_ context.Context, id string) (*session.View, error) {
	return m.result("refresh", id)
}

type mockMenu struct {
	items map[string]*catalog.MenuItem
}

func (m *mockMenu) GetByID(_ context.Context, id string) (*catalog.MenuItem, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return it, nil
}

func (m *mockMenu) GetByIDs(_ context.Context, ids []string) ([]catalog.MenuItem, error) {
	var out []catalog.MenuItem
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (m *mockMenu) ListByTenant(_ context.Context, _ string) ([]catalog.MenuItem, error) {
	return nil, nil
}

// --- Helpers ---

func sampleView() *session.View {
	c := &cart.Cart{
		ID:      "c1",
		Context: cart.Context{RestaurantID: "r1", BranchID: "b1", TableID: "t4"},
		Lines: []cart.Line{
			{ItemID: "burger", Name: "Burger", Image: "img/burger.png", Quantity: 2, Price: decimal.NewFromInt(100), Origin: cart.OriginUser},
			{ItemID: "fries", Name: "Fries", Quantity: 1, Price: decimal.Zero, Origin: cart.OriginPromotion},
		},
		Tenant:    cart.Tenant{Tax: decimal.NewFromInt(10)},
		Discount:  decimal.RequireFromString("12.5"),
		Coupon:    "SAVE",
		Remarks:   map[string]string{"burger": "no onions"},
		Version:   7,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	return &session.View{Cart: c, Totals: c.Totals()}
}

func newTestServer(t *testing.T, carts *mockCarts, mw ...httpmiddleware.Middleware) *httptest.Server {
	t.Helper()
	menu := &mockMenu{items: map[string]*catalog.MenuItem{
		"burger": {ID: "burger", TenantID: "r1", Name: "Burger", Image: "/img/burger.png", Price: decimal.NewFromInt(100), Available: true},
	}}
	h := New(Config{ImageBaseURL: "https://cdn.example.com/"}, carts, menu)

	mux := http.NewServeMux()
	h.Register(mux, mw...)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

// --- Tests ---

func TestHandler_CreateCart(t *testing.T) {
	carts := &mockCarts{view: &session.View{Cart: cart.New("c1")}}
	srv := newTestServer(t, carts)

	status, body := do(t, srv, http.MethodPost, "/api/cart", "")
	assert.Equal(t, http.StatusCreated, status)
	assert.JSONEq(t, `{
		"id":"c1","restaurantId":"","branchId":"","tableId":"","items":[],"coupon":"","remarks":{},
		"subtotal":0.00,"tax":0.00,"serviceCharge":0.00,"discount":0.00,"redeemAmount":0.00,
		"total":0.00,"payable":0.00,"discountStale":false,"version":0
	}`, body)
}

func TestHandler_EncodesView(t *testing.T) {
	carts := &mockCarts{view: sampleView()}
	srv := newTestServer(t, carts)

	status, body := do(t, srv, http.MethodGet, "/api/cart/c1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "c1", carts.lastID)
	assert.JSONEq(t, `{
		"id":"c1","restaurantId":"r1","branchId":"b1","tableId":"t4",
		"items":[
			{"id":"burger","name":"Burger","image":"https://cdn.example.com/img/burger.png","description":"","quantity":2,"price":100.00,"isFree":false,"origin":"user"},
			{"id":"fries","name":"Fries","image":"","description":"","quantity":1,"price":0.00,"isFree":true,"origin":"promotion"}
		],
		"coupon":"SAVE","remarks":{"burger":"no onions"},
		"subtotal":200.00,"tax":20.00,"serviceCharge":0.00,"discount":12.50,"redeemAmount":0.00,
		"total":187.50,"payable":207.50,"discountStale":false,"version":7,"updatedAt":"2026-01-02T03:04:05Z"
	}`, body)
	assert.Contains(t, body, `"price":100.00`)
}

func TestHandler_Routes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		call   string
		check  func(t *testing.T, m *mockCarts)
	}{
		{
			name: "add item", method: http.MethodPost, path: "/api/cart/c1/items",
			body: `{"itemId":"burger","quantity":2,"restaurantId":"r1","branchId":"b1","tableId":"t4","extra":true}`,
			call: "add",
			check: func(t *testing.T, m *mockCarts) {
				assert.Equal(t, session.AddItemInput{
					ItemID: "burger", Quantity: 2,
					Context: cart.Context{RestaurantID: "r1", BranchID: "b1", TableID: "t4"},
				}, m.lastAdd)
			},
		},
		{
			name: "set quantity", method: http.MethodPatch, path: "/api/cart/c1/items/burger",
			body: `{"quantity":0}`, call: "set_quantity",
			check: func(t *testing.T, m *mockCarts) {
				assert.Equal(t, "burger", m.lastItemID)
				assert.Equal(t, 0, m.lastQty)
			},
		},
		{
			name: "remove item", method: http.MethodDelete, path: "/api/cart/c1/items/fries", call: "remove",
			check: func(t *testing.T, m *mockCarts) { assert.Equal(t, "fries", m.lastItemID) },
		},
		{
			name: "apply coupon", method: http.MethodPost, path: "/api/cart/c1/coupon",
			body: `{"coupon":"SAVE10"}`, call: "coupon",
			check: func(t *testing.T, m *mockCarts) { assert.Equal(t, "SAVE10", m.lastCoupon) },
		},
		{
			name: "remove coupon", method: http.MethodPost, path: "/api/cart/c1/coupon",
			body: `{"coupon":null}`, call: "coupon",
			check: func(t *testing.T, m *mockCarts) { assert.Empty(t, m.lastCoupon) },
		},
		{
			name: "set remarks", method: http.MethodPut, path: "/api/cart/c1/remarks",
			body: `{"remarks":{"burger":"well done"}}`, call: "remarks",
			check: func(t *testing.T, m *mockCarts) {
				assert.Equal(t, map[string]string{"burger": "well done"}, m.lastRemark)
			},
		},
		{
			name: "reorder", method: http.MethodPost, path: "/api/cart/c1/reorder",
			body: `{"restaurantId":"r1","branchId":"b1","items":[{"itemId":"burger","quantity":1},{"itemId":"fries","quantity":2}]}`,
			call: "reorder",
			check: func(t *testing.T, m *mockCarts) {
				assert.Equal(t, session.ReorderInput{
					Context: cart.Context{RestaurantID: "r1", BranchID: "b1"},
					Items:   []session.ReorderItem{{ItemID: "burger", Quantity: 1}, {ItemID: "fries", Quantity: 2}},
				}, m.lastReord)
			},
		},
		{name: "refresh", method: http.MethodPost, path: "/api/cart/c1/reconcile", call: "refresh"},
		{name: "clear", method: http.MethodDelete, path: "/api/cart/c1", call: "clear"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carts := &mockCarts{view: sampleView()}
			srv := newTestServer(t, carts)

			status, body := do(t, srv, tt.method, tt.path, tt.body)
			require.Equal(t, http.StatusOK, status, body)
			assert.Equal(t, []string{tt.call}, carts.calls)
			assert.Equal(t, "c1", carts.lastID)
			if tt.check != nil {
				tt.check(t, carts)
			}
		})
	}
}

func TestHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name, method, path, body string
	}{
		{"not json", http.MethodPost, "/api/cart/c1/items", `nope`},
		{"not an object", http.MethodPost, "/api/cart/c1/items", `[1]`},
		{"missing item id", http.MethodPost, "/api/cart/c1/items", `{"quantity":1}`},
		{"quantity not a number", http.MethodPatch, "/api/cart/c1/items/burger", `{"quantity":"two"}`},
		{"missing quantity", http.MethodPatch, "/api/cart/c1/items/burger", `{}`},
		{"remarks not strings", http.MethodPut, "/api/cart/c1/remarks", `{"remarks":{"burger":1}}`},
		{"reorder items not a list", http.MethodPost, "/api/cart/c1/reorder", `{"items":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carts := &mockCarts{view: sampleView()}
			srv := newTestServer(t, carts)

			status, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, body, `"code":400`)
			assert.Empty(t, carts.calls)
		})
	}
}

func TestHandler_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cart not found", cart.ErrNotFound, http.StatusNotFound},
		{"line not found", session.ErrLineNotFound, http.StatusNotFound},
		{"invalid quantity", cart.ErrInvalidQuantity, http.StatusBadRequest},
		{"context mismatch", cart.ErrContextMismatch, http.StatusUnprocessableEntity},
		{"promotion line", session.ErrPromotionLine, http.StatusUnprocessableEntity},
		{"unavailable", session.ErrItemUnavailable, http.StatusUnprocessableEntity},
		{"discount", &session.DiscountError{Err: errors.New("boom")}, http.StatusBadGateway},
		{"wrapped not found", errors.Wrap(cart.ErrNotFound, "get"), http.StatusNotFound},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carts := &mockCarts{err: tt.err}
			srv := newTestServer(t, carts)

			status, body := do(t, srv, http.MethodPost, "/api/cart/c1/reconcile", "")
			assert.Equal(t, tt.want, status)
			assert.NotContains(t, body, "db down")
		})
	}
}

func TestHandler_AddUnknownItem(t *testing.T) {
	carts := &mockCarts{err: catalog.ErrNotFound}
	srv := newTestServer(t, carts)

	status, body := do(t, srv, http.MethodPost, "/api/cart/c1/items", `{"itemId":"ghost","quantity":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body, "ghost")
}

func TestHandler_BodyTooLarge(t *testing.T) {
	carts := &mockCarts{view: sampleView()}
	h := New(Config{MaxBodyBytes: 16}, carts, &mockMenu{})
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	status, _ := do(t, srv, http.MethodPut, "/api/cart/c1/remarks", `{"remarks":{"burger":"a very long remark"}}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Empty(t, carts.calls)
}

func TestHandler_GetMenuItem(t *testing.T) {
	srv := newTestServer(t, &mockCarts{})

	status, body := do(t, srv, http.MethodGet, "/api/menu/burger", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{
		"id":"burger","restaurantId":"r1","name":"Burger","description":"",
		"image":"https://cdn.example.com/img/burger.png","price":100.00,"available":true
	}`, body)

	status, _ = do(t, srv, http.MethodGet, "/api/menu/ghost", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHandler_Middlewares(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
	carts := &mockCarts{view: sampleView()}
	srv := newTestServer(t, carts, deny)

	status, _ := do(t, srv, http.MethodGet, "/api/cart/c1", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Empty(t, carts.calls)
}

func TestImageURL(t *testing.T) {
	h := New(Config{ImageBaseURL: "https://cdn.example.com/"}, nil, nil)
	assert.Equal(t, "https://cdn.example.com/a.png", h.imageURL("/a.png"))
	assert.Equal(t, "http://other/a.png", h.imageURL("http://other/a.png"))
	assert.Empty(t, h.imageURL(""))

	plain := New(Config{}, nil, nil)
	assert.Equal(t, "a.png", plain.imageURL("a.png"))
}
