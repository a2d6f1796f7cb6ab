package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:          404,
		KindBadRequest:        400,
		KindForbidden:         403,
		KindRateLimitExceeded: 429,
		KindPaymentRequired:   402,
		KindInvalidState:      409,
		KindUpstream:          502,
		KindDataIntegrity:     500,
	}
	for kind, want := range cases {
		assert.Equal(t, want, Status(kind), "kind %s", kind)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindDataIntegrity, KindOf(errors.New("boom")))
	wrapped := fmt.Errorf("outer: %w", NotFound("collection"))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestWriteProductionHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("secret internal failure"), false)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var b map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, "Internal Server Error", b["detail"])
	_, hasTrace := b["trace"]
	assert.False(t, hasTrace)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestWriteDebugIncludesTrace(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("boom"), true)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var b map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Contains(t, b["detail"], "boom")
	assert.NotEmpty(t, b["trace"])
}

func TestWriteRetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, RateLimited(17), false)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "17", rec.Header().Get("Retry-After"))
}

func TestWriteClientErrorsPassThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, New(KindBadRequest, "Invalid organization ID format"), false)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var b map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, "Invalid organization ID format", b["detail"])
}
