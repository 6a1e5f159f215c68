package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder

	require.NotPanics(t, func() {
		r.ObserveRequest("echo", OutcomeOK, time.Millisecond)
		r.SetPending(3)
		r.WorkerSpawned()
		r.WorkerDown()
		r.WorkerCrashed(time.Second)
		r.RestartAttempted()
		r.SpawnFailed()
		r.UnmatchedResult(UnmatchedLate)
	})
	require.Nil(t, r.Registry())
}

func TestRecorder_CountsRequestsByOutcome(t *testing.T) {
	r := New()

	r.ObserveRequest("echo", OutcomeOK, 10*time.Millisecond)
	r.ObserveRequest("echo", OutcomeOK, 20*time.Millisecond)
	r.ObserveRequest("sleep", OutcomeTimeout, 50*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(r.requests.WithLabelValues("echo", OutcomeOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.requests.WithLabelValues("sleep", OutcomeTimeout)))
}

func TestRecorder_WorkerLifecycleGauges(t *testing.T) {
	r := New()

	r.WorkerSpawned()
	require.Equal(t, 1.0, testutil.ToFloat64(r.workerUp))

	r.WorkerCrashed(2 * time.Second)
	require.Equal(t, 0.0, testutil.ToFloat64(r.workerUp))
	require.Equal(t, 1.0, testutil.ToFloat64(r.crashes))
	require.Equal(t, 2.0, testutil.ToFloat64(r.restartDelay))

	r.RestartAttempted()
	r.WorkerSpawned()
	require.Equal(t, 2.0, testutil.ToFloat64(r.spawns))
	require.Equal(t, 1.0, testutil.ToFloat64(r.restarts))
}

func TestRecorder_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.SetPending(5)
	require.Equal(t, 5.0, testutil.ToFloat64(a.pending))
	require.Equal(t, 0.0, testutil.ToFloat64(b.pending))
}

func TestRecorder_HandlerExposesMetrics(t *testing.T) {
	r := New()
	r.UnmatchedResult(UnmatchedUnknown)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Contains(t, string(body), `rinawarp_supervisor_unmatched_results_total{reason="unknown"} 1`)
}

func TestSetupEndpoint_ServesHealth(t *testing.T) {
	r := New()
	server := SetupEndpoint("127.0.0.1:0", r, func() any { return map[string]any{"state": "running"} })
	defer server.Close()

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "running", got["state"])
}

func TestRecorder_RegisterSinkDrops(t *testing.T) {
	r := New()
	var dropped uint64 = 7
	r.RegisterSinkDrops(func() uint64 { return dropped })

	n, err := testutil.GatherAndCount(r.Registry(), "rinawarp_supervisor_sink_dropped_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A second registration is rejected without panicking.
	require.NotPanics(t, func() { r.RegisterSinkDrops(func() uint64 { return 0 }) })
}
