package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/pkg/cache"
	"github.com/skeinhq/skein/pkg/domain"
	"github.com/skeinhq/skein/pkg/ratelimit"
	"github.com/skeinhq/skein/pkg/store"
)

var jwtSecret = []byte("test-signing-secret")

// countingCache wraps the memory cache and counts read operations.
type countingCache struct {
	cache.ContextCache
	reads int
}

func (c *countingCache) GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, bool) {
	c.reads++
	return c.ContextCache.GetOrganization(ctx, id)
}

func (c *countingCache) GetUserByEmail(ctx context.Context, email string) (*domain.User, bool) {
	c.reads++
	return c.ContextCache.GetUserByEmail(ctx, email)
}

func (c *countingCache) GetAPIKeyOrgID(ctx context.Context, rawKey string) (uuid.UUID, bool) {
	c.reads++
	return c.ContextCache.GetAPIKeyOrgID(ctx, rawKey)
}

type apiFixture struct {
	control store.ControlStore
	cache   *countingCache
	auth    *Authenticator
	org     domain.Organization
	rawKey  string
	admin   *domain.User
	member  *domain.User
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	f := &apiFixture{
		control: store.NewMemoryControl(),
		cache:   &countingCache{ContextCache: cache.NewMemoryCache()},
		rawKey:  "super-secret-api-key-12345",
	}

	f.org = domain.Organization{Name: "acme", PlanID: domain.PlanDeveloper}
	require.NoError(t, f.control.CreateOrganization(ctx, &f.org))
	require.NoError(t, f.control.CreateAPIKey(ctx, f.org.ID, cache.HashAPIKey(f.rawKey)))

	f.admin = &domain.User{Email: "admin@acme.test"}
	require.NoError(t, f.control.CreateUser(ctx, f.admin,
		domain.Membership{OrganizationID: f.org.ID, Role: domain.RoleAdmin}))
	f.member = &domain.User{Email: "member@acme.test"}
	require.NoError(t, f.control.CreateUser(ctx, f.member,
		domain.Membership{OrganizationID: f.org.ID, Role: domain.RoleMember}))

	f.auth = &Authenticator{
		Cache:   f.cache,
		Control: f.control,
		Limiter: ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
		Verifier: &Auth0Verifier{
			Methods: []string{"HS256"},
			Keyfunc: func(*jwt.Token) (any, error) { return jwtSecret, nil },
		},
	}
	return f
}

func signedToken(t *testing.T, email string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwtSecret)
	require.NoError(t, err)
	return token
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := FromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"auth_method":     string(ac.Method),
			"organization_id": ac.Organization.ID.String(),
		})
	})
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Detail
}

func TestAuthMalformedOrgHeader(t *testing.T) {
	f := newAPIFixture(t)
	handler := f.auth.Middleware(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOrganizationID, `'; DROP TABLE organizations;--`)
	req.Header.Set(HeaderAPIKey, f.rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid organization ID format", decodeDetail(t, rec))
	assert.Zero(t, f.cache.reads, "malformed header must not reach the cache")
}

func TestAuthMissingOrgHeader(t *testing.T) {
	f := newAPIFixture(t)
	handler := f.auth.Middleware(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthAPIKey(t *testing.T) {
	f := newAPIFixture(t)
	handler := f.auth.Middleware(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOrganizationID, f.org.ID.String())
	req.Header.Set(HeaderAPIKey, f.rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var identity map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, "api_key", identity["auth_method"])
	assert.Equal(t, f.org.ID.String(), identity["organization_id"])
}

func TestAuthAPIKeyWrongOrganization(t *testing.T) {
	f := newAPIFixture(t)
	other := domain.Organization{Name: "other", PlanID: domain.PlanDeveloper}
	require.NoError(t, f.control.CreateOrganization(context.Background(), &other))

	handler := f.auth.Middleware(echoIdentity())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOrganizationID, other.ID.String())
	req.Header.Set(HeaderAPIKey, f.rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthUnknownAPIKey(t *testing.T) {
	f := newAPIFixture(t)
	handler := f.auth.Middleware(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOrganizationID, f.org.ID.String())
	req.Header.Set(HeaderAPIKey, "nope")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthJWT(t *testing.T) {
	f := newAPIFixture(t)
	handler := f.auth.Middleware(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOrganizationID, f.org.ID.String())
	req.Header.Set("Authorization", "Bearer "+signedToken(t, f.admin.Email))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var identity map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, "auth0", identity["auth_method"])
}

func TestAuthJWTRejectsTamperedToken(t *testing.T) {
	f := newAPIFixture(t)
	handler := f.auth.Middleware(echoIdentity())

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": f.admin.Email,
	}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOrganizationID, f.org.ID.String())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminRefusesAPIKey(t *testing.T) {
	f := newAPIFixture(t)
	handler := f.auth.Middleware(RequireAdmin(false, echoIdentity()))

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.Header.Set(HeaderOrganizationID, f.org.ID.String())
	req.Header.Set(HeaderAPIKey, f.rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code,
		"api keys cannot perform administrative operations")
}

func TestRequireAdminRefusesMemberRole(t *testing.T) {
	f := newAPIFixture(t)
	handler := f.auth.Middleware(RequireAdmin(false, echoIdentity()))

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.Header.Set(HeaderOrganizationID, f.org.ID.String())
	req.Header.Set("Authorization", "Bearer "+signedToken(t, f.member.Email))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminAllowsAdmin(t *testing.T) {
	f := newAPIFixture(t)
	handler := f.auth.Middleware(RequireAdmin(false, echoIdentity()))

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.Header.Set(HeaderOrganizationID, f.org.ID.String())
	req.Header.Set("Authorization", "Bearer "+signedToken(t, f.admin.Email))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPLimiter(t *testing.T) {
	limiter := NewIPLimiter(1, 2, false)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different client has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyCacheKeyNeverContainsRawKey(t *testing.T) {
	digest := cache.HashAPIKey("super-secret-api-key-12345")
	assert.Len(t, digest, 64)
	assert.Equal(t, digest, cache.HashAPIKey("super-secret-api-key-12345"))
	assert.NotContains(t, digest, "super")
	assert.NotContains(t, digest, "secret")
	assert.NotContains(t, digest, "12345")
}

// requestWithIdentity builds a request carrying a pre-authenticated context,
// bypassing the middleware for handler-level tests.
func requestWithIdentity(method, target string, body []byte, ac *ApiContext) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(WithApiContext(req.Context(), ac))
}
