// Package health serves liveness and readiness probes.
//
// Checks run in the background on a fixed interval. A check turns unhealthy
// after FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive successes.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind int

const (
	// Liveness checks failing means the process should be restarted.
	Liveness Kind = iota
	// Readiness checks failing means traffic should be routed elsewhere.
	Readiness
)

// Options configures the probe runner.
type Options struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 1
	}
}

type check struct {
	name string
	kind Kind
	fn   CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	// Only touched by the goroutine running the check.
	fails, oks int
}

func (c *check) run(ctx context.Context, opts Options) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := c.fn(ctx); err != nil {
		msg := err.Error()
		c.lastErr.Store(&msg)
		c.oks = 0
		c.fails++
		if c.fails >= opts.FailureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.lastErr.Store(nil)
	c.fails = 0
	c.oks++
	if c.oks >= opts.SuccessThreshold {
		c.healthy.Store(true)
	}
}

func (c *check) failure() string {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return "unhealthy"
}

// Health holds the registered checks and the manual readiness flag.
type Health struct {
	opts  Options
	ready atomic.Bool

	mu     sync.Mutex
	checks []*check
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Health. The service starts not ready.
func New(opts Options) *Health {
	opts.setDefaults()
	return &Health{opts: opts}
}

// Add registers a check. Checks start healthy. Add must be called before
// Start.
func (h *Health) Add(kind Kind, name string, fn CheckFunc) {
	c := &check{name: name, kind: kind, fn: fn}
	c.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// Start runs every check once right away and then on the configured
// interval until Stop is called or ctx is done.
func (h *Health) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, h.cancel = context.WithCancel(ctx)
	for _, c := range h.checks {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.loop(ctx, c)
		}()
	}
}

func (h *Health) loop(ctx context.Context, c *check) {
	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()

	c.run(ctx, h.opts)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx, h.opts)
		}
	}
}

// Stop halts the background checks and waits for them to return.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		h.wg.Wait()
	}
}

// SetReady sets the manual readiness flag.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// failures lists unhealthy checks of kind by name.
func (h *Health) failures(kind Kind) map[string]string {
	h.mu.Lock()
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	out := make(map[string]string)
	for _, c := range checks {
		if c.kind == kind && !c.healthy.Load() {
			out[c.name] = c.failure()
		}
	}
	return out
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

// Register mounts /livez and /readyz on mux.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /livez", h.LiveEndpoint)
	mux.HandleFunc("GET /readyz", h.ReadyEndpoint)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.ObjStart()
	e.FieldStart("status")
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
