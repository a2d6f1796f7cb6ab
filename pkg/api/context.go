// Package api is the thin HTTP invocation layer over the sync core:
// authentication middleware, per-IP and per-organization rate limiting, and
// the four resource endpoints. All domain behavior lives below this package.
package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/domain"
)

// ApiContext carries the authenticated request identity through handlers.
type ApiContext struct {
	RequestID    string
	Method       domain.AuthMethod
	Organization domain.Organization
	User         *domain.User
	Role         domain.Role
	Logger       *slog.Logger
}

type ctxKey struct{}

// WithApiContext attaches the ApiContext to a request context.
func WithApiContext(ctx context.Context, ac *ApiContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext retrieves the ApiContext; the second return is false when the
// request bypassed the auth middleware.
func FromContext(ctx context.Context) (*ApiContext, bool) {
	ac, ok := ctx.Value(ctxKey{}).(*ApiContext)
	return ac, ok
}

// newRequestID mints the id stamped on request logs and error reports.
func newRequestID() string {
	return uuid.New().String()
}
