package job

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendWebhook_Delivers(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	payload := Payload{JobID: "job-1", Project: "finance", Status: "completed", TotalInserted: 42}
	err := SendWebhook(context.Background(), srv.URL, payload)
	require.NoError(t, err)

	assert.Equal(t, "job-1", received.JobID)
	assert.Equal(t, 42, received.TotalInserted)
}

func TestSendWebhook_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := SendWebhook(context.Background(), srv.URL, Payload{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendWebhook_FailsAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := SendWebhook(context.Background(), srv.URL, Payload{JobID: "job-1"})
	require.Error(t, err)
	assert.Equal(t, int32(webhookRetries), calls.Load())
	assert.Contains(t, err.Error(), "502")
}

func TestSendWebhook_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Cancellation is honored at the retry delay
	err := SendWebhook(ctx, srv.URL, Payload{JobID: "job-1"})
	require.Error(t, err)
}
