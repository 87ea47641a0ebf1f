package httpmiddleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument records request count and latency per route pattern. The
// pattern is read after the handler ran, so wrap the mux, not a route.
func Instrument(mp metric.MeterProvider) (Middleware, error) {
	meter := mp.Meter("github.com/xenking/minmin-cart/pkg/httpmiddleware")

	requests, err := meter.Int64Counter("http.server.requests",
		metric.WithDescription("Served HTTP requests"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "requests counter")
	}
	duration, err := meter.Float64Histogram("http.server.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			attrs := metric.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.status_code", strconv.Itoa(rec.code())),
			)
			requests.Add(r.Context(), 1, attrs)
			duration.Record(r.Context(), time.Since(start).Seconds(), attrs)
		})
	}, nil
}
