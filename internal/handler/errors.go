package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/minmin-cart/internal/domain/cart"
	"github.com/xenking/minmin-cart/internal/domain/catalog"
	"github.com/xenking/minmin-cart/internal/session"
	"github.com/xenking/minmin-cart/pkg/httpmiddleware"
)

// requestError is a client error with a fixed status.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: errors.Errorf(format, args...).Error()}
}

// statusOf maps service errors to HTTP statuses.
func statusOf(err error) (int, string) {
	var (
		reqErr      *requestError
		discountErr *session.DiscountError
	)
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, reqErr.msg
	case errors.Is(err, cart.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, session.ErrLineNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, cart.ErrInvalidQuantity):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, cart.ErrContextMismatch),
		errors.Is(err, session.ErrPromotionLine),
		errors.Is(err, session.ErrItemUnavailable):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &discountErr):
		return http.StatusBadGateway, "discount service unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request error", zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, msg)
}
