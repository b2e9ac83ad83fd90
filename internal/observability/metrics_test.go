package observability

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_ObserversDoNotPanic(t *testing.T) {
	m := NewMetrics()
	m.ObservePollFetched(5)
	m.ObservePollDropped("low", 2)
	m.ObservePollCircuitOpen()
	m.ObservePollQuotaRemaining(100)
	m.ObserveBatch(10, 50*time.Millisecond)
	m.ObserveDetectorTimeout("behavioral")
	m.ObserveAnomalyScore(0.7)
	m.ObserveQueueDepth(3)
	m.ObservePublishDropped(1)
	m.ObserveSeverity("HIGH")
	m.ObserveProfileCache(true)
	m.ObserveProfileCache(false)
	m.ObserveStorageWrite(time.Millisecond)
}

func TestServeMetrics_ExposesMetricsEndpoint(t *testing.T) {
	m := NewMetrics()
	m.ObservePollFetched(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.ServeMetrics(ctx, "127.0.0.1:19191") }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:19191/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:19191/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "anomalyd_poller_events_fetched_total")

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeMetrics did not shut down after context cancellation")
	}
}
