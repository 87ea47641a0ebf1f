package reconcile

import (
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// flightState tracks the newest reconciliation issued for a cart and the
// writes the reconciler itself is making to it.
type flightState struct {
	latest   uint64
	updating bool
	// written is the cart version produced by the last applied patch.
	written int64
}

// guard hands out reconciliation tokens. Only the run holding the latest
// token for a cart may apply its result; older runs are superseded.
//
// Tokens come from a single counter shared by all carts, so a token is never
// reused even after a cart's state is dropped. State is kept for the most
// recently reconciled carts only; a run whose cart was evicted counts as
// superseded.
type guard struct {
	seq atomic.Uint64

	mu    sync.Mutex
	carts *simplelru.LRU[string, *flightState]
}

func newGuard(size int) (*guard, error) {
	carts, err := simplelru.NewLRU[string, *flightState](size, nil)
	if err != nil {
		return nil, err
	}
	return &guard{carts: carts}, nil
}

// issue returns a new token and makes it the latest for cartID.
func (g *guard) issue(cartID string) uint64 {
	token := g.seq.Add(1)

	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.carts.Get(cartID)
	if !ok {
		st = &flightState{}
		g.carts.Add(cartID, st)
	}
	st.latest = token
	return token
}

// isLatest reports whether token is still the newest run for cartID.
func (g *guard) isLatest(cartID string, token uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.carts.Peek(cartID)
	return ok && st.latest == token
}

// beginApply marks the cart as updating if token is still the latest.
func (g *guard) beginApply(cartID string, token uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.carts.Peek(cartID)
	if !ok || st.latest != token {
		return false
	}
	st.updating = true
	return true
}

// endApply clears the updating flag and remembers the version written, zero
// when the apply failed.
func (g *guard) endApply(cartID string, written int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if st, ok := g.carts.Peek(cartID); ok {
		st.updating = false
		if written != 0 {
			st.written = written
		}
	}
}

// selfTriggered reports whether a change notification for version was caused
// by the reconciler: either a patch is being applied right now, or version is
// the one the last patch produced.
func (g *guard) selfTriggered(cartID string, version int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.carts.Peek(cartID)
	if !ok {
		return false
	}
	if st.updating && version == 0 {
		return true
	}
	return version != 0 && st.written == version
}

// forget invalidates every run in flight for the cart.
func (g *guard) forget(cartID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.carts.Remove(cartID)
}
