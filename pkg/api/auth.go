package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/cache"
	"github.com/skeinhq/skein/pkg/domain"
	"github.com/skeinhq/skein/pkg/ratelimit"
	"github.com/skeinhq/skein/pkg/store"
)

// Request headers.
const (
	HeaderOrganizationID = "X-Organization-Id"
	HeaderAPIKey         = "X-Api-Key"
)

// TokenVerifier validates a bearer token and returns the subject's email.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (email string, err error)
}

// Auth0Verifier validates auth0-issued JWTs. Keyfunc resolves the signing
// key (JWKS lookup in production, a static key in tests).
type Auth0Verifier struct {
	Issuer   string
	Audience string
	Keyfunc  jwt.Keyfunc
	Methods  []string
}

func (v *Auth0Verifier) Verify(_ context.Context, token string) (string, error) {
	methods := v.Methods
	if len(methods) == 0 {
		methods = []string{"RS256"}
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, v.Keyfunc, opts...); err != nil {
		return "", fmt.Errorf("api: token verification failed: %w", err)
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return "", fmt.Errorf("api: token carries no email claim")
	}
	return email, nil
}

// Authenticator is the ingress auth middleware: organization header
// validation, api-key or auth0 resolution through the context cache, and the
// per-organization rate limit check.
type Authenticator struct {
	Cache    cache.ContextCache
	Control  store.ControlStore
	Limiter  *ratelimit.Limiter
	Verifier TokenVerifier
	Debug    bool
	Logger   *slog.Logger
}

// Middleware authenticates the request and attaches the ApiContext.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := a.authenticate(r)
		if err != nil {
			apierror.Write(w, err, a.Debug)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithApiContext(r.Context(), ac)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*ApiContext, error) {
	ctx := r.Context()

	// Format check comes first; a malformed header must never reach the
	// cache or the store.
	rawOrg := r.Header.Get(HeaderOrganizationID)
	if rawOrg == "" {
		return nil, apierror.New(apierror.KindBadRequest, "Missing organization ID")
	}
	orgID, err := uuid.Parse(rawOrg)
	if err != nil {
		return nil, apierror.New(apierror.KindBadRequest, "Invalid organization ID format")
	}

	ac := &ApiContext{RequestID: newRequestID()}

	switch {
	case r.Header.Get(HeaderAPIKey) != "":
		keyOrg, err := a.resolveAPIKey(ctx, r.Header.Get(HeaderAPIKey))
		if err != nil {
			return nil, err
		}
		if keyOrg != orgID {
			return nil, apierror.New(apierror.KindForbidden, "API key does not belong to this organization")
		}
		ac.Method = domain.AuthMethodAPIKey

	case r.Header.Get("Authorization") != "":
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			return nil, apierror.New(apierror.KindBadRequest, "Unsupported authorization scheme")
		}
		if a.Verifier == nil {
			return nil, apierror.New(apierror.KindBadRequest, "Token authentication is not configured")
		}
		email, err := a.Verifier.Verify(ctx, token)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindForbidden, "invalid token", err)
		}
		user, role, err := a.resolveUser(ctx, orgID, email)
		if err != nil {
			return nil, err
		}
		ac.Method = domain.AuthMethodAuth0
		ac.User = user
		ac.Role = role

	default:
		return nil, apierror.New(apierror.KindForbidden, "Missing credentials")
	}

	org, err := a.resolveOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	ac.Organization = *org

	if a.Limiter != nil {
		if _, err := a.Limiter.Check(ctx, *org); err != nil {
			return nil, err
		}
	}

	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ac.Logger = logger.With(
		"request_id", ac.RequestID,
		"organization_id", org.ID,
		"auth_method", ac.Method,
	)
	return ac, nil
}

// resolveAPIKey maps a raw api key to its organization. Only the SHA-256
// digest of the key touches the cache and the store.
func (a *Authenticator) resolveAPIKey(ctx context.Context, rawKey string) (uuid.UUID, error) {
	if orgID, ok := a.Cache.GetAPIKeyOrgID(ctx, rawKey); ok {
		return orgID, nil
	}
	orgID, err := a.Control.OrganizationForAPIKey(ctx, cache.HashAPIKey(rawKey))
	if err != nil {
		if apierror.KindOf(err) == apierror.KindNotFound {
			return uuid.Nil, apierror.New(apierror.KindForbidden, "Unknown API key")
		}
		return uuid.Nil, err
	}
	a.Cache.SetAPIKeyOrgID(ctx, rawKey, orgID)
	return orgID, nil
}

func (a *Authenticator) resolveUser(ctx context.Context, orgID uuid.UUID, email string) (*domain.User, domain.Role, error) {
	user, ok := a.Cache.GetUserByEmail(ctx, email)
	if !ok {
		var err error
		user, err = a.Control.GetUserByEmail(ctx, email)
		if err != nil {
			if apierror.KindOf(err) == apierror.KindNotFound {
				return nil, "", apierror.New(apierror.KindForbidden, "Unknown user")
			}
			return nil, "", err
		}
		a.Cache.SetUserByEmail(ctx, *user)
	}

	membership, err := a.Control.GetMembership(ctx, orgID, user.ID)
	if err != nil {
		if apierror.KindOf(err) == apierror.KindNotFound {
			return nil, "", apierror.New(apierror.KindForbidden, "User is not a member of this organization")
		}
		return nil, "", err
	}
	return user, membership.Role, nil
}

func (a *Authenticator) resolveOrganization(ctx context.Context, orgID uuid.UUID) (*domain.Organization, error) {
	if org, ok := a.Cache.GetOrganization(ctx, orgID); ok {
		return org, nil
	}
	org, err := a.Control.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	a.Cache.SetOrganization(ctx, *org)
	return org, nil
}

// RequireAdmin gates administrative operations: user auth with role at least
// admin. API keys are refused regardless of role.
func RequireAdmin(debug bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := FromContext(r.Context())
		if !ok {
			apierror.Write(w, apierror.New(apierror.KindForbidden, "Missing credentials"), debug)
			return
		}
		if ac.Method == domain.AuthMethodAPIKey {
			apierror.Write(w, apierror.New(apierror.KindForbidden,
				"Administrative operations require user authentication"), debug)
			return
		}
		if !ac.Role.AtLeast(domain.RoleAdmin) {
			apierror.Write(w, apierror.New(apierror.KindForbidden,
				"Administrative operations require the admin role"), debug)
			return
		}
		next.ServeHTTP(w, r)
	})
}
