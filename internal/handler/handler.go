// Package handler serves the cart REST API.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/xenking/minmin-cart/internal/domain/catalog"
	"github.com/xenking/minmin-cart/internal/session"
	"github.com/xenking/minmin-cart/pkg/httpmiddleware"
)

// CartService is the session cart API.
type CartService interface {
	Create(ctx context.Context) (*session.View, error)
	Get(ctx context.Context, id string) (*session.View, error)
	AddItem(ctx context.Context, id string, in session.AddItemInput) (*session.View, error)
	SetQuantity(ctx context.Context, id, itemID string, quantity int) (*session.View, error)
	RemoveItem(ctx context.Context, id, itemID string) (*session.View, error)
	ApplyCoupon(ctx context.Context, id, code string) (*session.View, error)
	SetRemarks(ctx context.Context, id string, remarks map[string]string) (*session.View, error)
	Reorder(ctx context.Context, id string, in session.ReorderInput) (*session.View, error)
	Clear(ctx context.Context, id string) (*session.View, error)
	Refresh(ctx context.Context, id string) (*session.View, error)
}

var _ CartService = (*session.Service)(nil)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths. When empty, image
	// paths are returned as stored.
	ImageBaseURL string
	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64
}

// Handler serves the cart and menu routes.
type Handler struct {
	carts        CartService
	menu         catalog.Repository
	imageBaseURL string
	maxBody      int64
}

// New creates a Handler.
func New(cfg Config, carts CartService, menu catalog.Repository) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{
		carts:        carts,
		menu:         menu,
		imageBaseURL: strings.TrimRight(cfg.ImageBaseURL, "/"),
		maxBody:      cfg.MaxBodyBytes,
	}
}

// Register mounts the API routes on mux behind the given middlewares.
func (h *Handler) Register(mux *http.ServeMux, mw ...httpmiddleware.Middleware) {
	routes := []struct {
		pattern string
		fn      http.HandlerFunc
	}{
		{"POST /api/cart", h.createCart},
		{"GET /api/cart/{id}", h.getCart},
		{"DELETE /api/cart/{id}", h.clearCart},
		{"POST /api/cart/{id}/items", h.addItem},
		{"PATCH /api/cart/{id}/items/{itemId}", h.setQuantity},
		{"DELETE /api/cart/{id}/items/{itemId}", h.removeItem},
		{"POST /api/cart/{id}/coupon", h.applyCoupon},
		{"PUT /api/cart/{id}/remarks", h.setRemarks},
		{"POST /api/cart/{id}/reorder", h.reorder},
		{"POST /api/cart/{id}/reconcile", h.refresh},
		{"GET /api/menu/{id}", h.getMenuItem},
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, httpmiddleware.Wrap(rt.fn, mw...))
	}
}

func (h *Handler) imageURL(path string) string {
	if h.imageBaseURL == "" || path == "" ||
		strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return h.imageBaseURL + "/" + strings.TrimLeft(path, "/")
}
