package forward

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assembly-line-sim/internal/types"
	"assembly-line-sim/internal/util"
)

func testClient(url string, retries uint64) *Client {
	return NewClient(Options{BaseURL: url, MaxRetries: retries, InitialInterval: time.Millisecond}, nil)
}

func TestSendLineStatus_RetriesServerErrors(t *testing.T) {
	var calls int32
	var got LineStatusReport
	var traceID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, lineStatusPath, r.URL.Path)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		traceID = r.Header.Get("X-Trace-ID")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := util.ContextWithTraceID(context.Background(), "trace-1")
	err := testClient(srv.URL, 3).SendLineStatus(ctx, LineStatusReport{RunID: "run", Stats: types.LineStatistics{Tick: 30, CurrentProduction: 12}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "trace-1", traceID)
	assert.Equal(t, 12, got.Stats.CurrentProduction)
	assert.Equal(t, "run", got.RunID)
}

func TestSendLineStatus_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testClient(srv.URL, 2).SendLineStatus(context.Background(), LineStatusReport{})
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendLineStatus_ClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := testClient(srv.URL, 5).SendLineStatus(context.Background(), LineStatusReport{})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHealthCheck(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, healthPath, r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL, 0)
	assert.NoError(t, c.HealthCheck(context.Background()))
	healthy = false
	assert.Error(t, c.HealthCheck(context.Background()))
}
