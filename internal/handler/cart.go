package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/minmin-cart/internal/domain/catalog"
	"github.com/xenking/minmin-cart/internal/session"
)

func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.carts.Create(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeView(w, http.StatusCreated, v)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.carts.Get(r.Context(), r.PathValue("id")))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.carts.Clear(r.Context(), r.PathValue("id")))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	in, err := decodeBody(h, r, decodeAddItem)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.carts.AddItem(r.Context(), r.PathValue("id"), in)
	if errors.Is(err, catalog.ErrNotFound) {
		h.fail(w, r, &requestError{status: http.StatusUnprocessableEntity, msg: "menu item " + in.ItemID + " not found"})
		return
	}
	h.respond(w, r)(v, err)
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	qty, err := decodeBody(h, r, decodeQuantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r)(h.carts.SetQuantity(r.Context(), r.PathValue("id"), r.PathValue("itemId"), qty))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.carts.RemoveItem(r.Context(), r.PathValue("id"), r.PathValue("itemId")))
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	code, err := decodeBody(h, r, decodeCoupon)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r)(h.carts.ApplyCoupon(r.Context(), r.PathValue("id"), code))
}

func (h *Handler) setRemarks(w http.ResponseWriter, r *http.Request) {
	remarks, err := decodeBody(h, r, decodeRemarks)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r)(h.carts.SetRemarks(r.Context(), r.PathValue("id"), remarks))
}

func (h *Handler) reorder(w http.ResponseWriter, r *http.Request) {
	in, err := decodeBody(h, r, decodeReorder)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r)(h.carts.Reorder(r.Context(), r.PathValue("id"), in))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.carts.Refresh(r.Context(), r.PathValue("id")))
}

func (h *Handler) getMenuItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.menu.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeMenuItem(w, item)
}

// respond returns a callback writing a view or the error of a service call.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request) func(*session.View, error) {
	return func(v *session.View, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.writeView(w, http.StatusOK, v)
	}
}
