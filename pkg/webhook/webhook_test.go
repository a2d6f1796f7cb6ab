package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/pkg/apierror"
)

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:    endpoint,
		Secret:      "s3cret",
		Timeout:     time.Second,
		MaxAttempts: 3,
		RPS:         1000,
		Burst:       1000,
	}
}

func TestForwardDeliversSignedPayload(t *testing.T) {
	var gotChannel, gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotChannel = r.Header.Get(HeaderChannel)
		gotSig = r.Header.Get(HeaderSignature)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := NewPublisher(testConfig(srv.URL), nil)
	require.NoError(t, err)

	payload := map[string]any{"event_type": "sync.completed", "organization_id": "abc"}
	require.NoError(t, p.Forward(context.Background(), "sync.completed", payload))

	assert.Equal(t, "sync.completed", gotChannel)
	assert.True(t, VerifySignature([]byte("s3cret"), gotBody, gotSig))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, payload, decoded, "payload reaches the receiver unchanged")
}

func TestForwardRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := NewPublisher(testConfig(srv.URL), nil)
	require.NoError(t, err)

	require.NoError(t, p.Forward(context.Background(), "sync.started", map[string]any{"k": "v"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestForwardDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := NewPublisher(testConfig(srv.URL), nil)
	require.NoError(t, err)

	err = p.Forward(context.Background(), "sync.started", map[string]any{"k": "v"})
	require.Error(t, err)
	assert.Equal(t, apierror.KindUpstream, apierror.KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are not retried")
}

func TestForwardExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 2
	p, err := NewPublisher(cfg, nil)
	require.NoError(t, err)

	err = p.Forward(context.Background(), "entity.batch_processed", map[string]any{"k": "v"})
	require.Error(t, err)
	assert.Equal(t, apierror.KindUpstream, apierror.KindOf(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewPublisherRequiresEndpoint(t *testing.T) {
	_, err := NewPublisher(Config{}, nil)
	require.Error(t, err)
}

func TestVerifySignatureRejectsTamper(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign([]byte("s3cret"), body)
	assert.True(t, VerifySignature([]byte("s3cret"), body, sig))
	assert.False(t, VerifySignature([]byte("s3cret"), []byte(`{"a":2}`), sig))
	assert.False(t, VerifySignature([]byte("other"), body, sig))
}
