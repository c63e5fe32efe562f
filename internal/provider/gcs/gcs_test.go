package gcs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/config"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/retry"
)

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), config.GCSConfig{}, retry.None)
	assert.EqualError(t, err, "gcs: bucket is required")
}

func TestNew_MissingBucketFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
	}))
	defer srv.Close()

	_, err := New(context.Background(), config.GCSConfig{
		Bucket:   "nope",
		Endpoint: srv.URL + "/storage/v1/",
	}, retry.None)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `gcs: bucket "nope"`)
}

func TestKey(t *testing.T) {
	p := &GCSProvider{}
	assert.Equal(t, "f1", p.key("f1"))
	p.root = "node1"
	assert.Equal(t, "node1/f1", p.key("f1"))
}

func TestClientOptions(t *testing.T) {
	assert.Len(t, clientOptions(config.GCSConfig{}), 1)
	assert.Len(t, clientOptions(config.GCSConfig{Endpoint: "http://localhost:4443"}), 3)
	assert.Len(t, clientOptions(config.GCSConfig{Endpoint: "http://x", CredentialsFile: "/k.json"}), 3)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&googleapi.Error{Code: http.StatusServiceUnavailable}))
	assert.True(t, isRetryable(&googleapi.Error{Code: http.StatusTooManyRequests}))
	assert.False(t, isRetryable(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isRetryable(errors.New("boom")))
}
