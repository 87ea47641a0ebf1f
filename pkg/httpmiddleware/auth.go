package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/minmin-cart/internal/domain/auth"
)

// HeaderAPIKey carries the client API key.
const HeaderAPIKey = "api_key"

// Authenticator resolves a raw API key.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// APIKey rejects requests without a valid api_key header with 401 and stores
// the key identity in the context of accepted ones.
func APIKey(a Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := a.Authenticate(r.Context(), r.Header.Get(HeaderAPIKey))
			if err != nil {
				zctx.From(r.Context()).Debug("Rejected api key", zap.Error(err))
				WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := auth.WithKeyInfo(r.Context(), info)
			ctx = zctx.With(ctx, zap.String("api_key_id", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
