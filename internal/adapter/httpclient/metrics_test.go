package httpclient

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkMetrics_StatusBounds(t *testing.T) {
	t.Parallel()

	m := NewNetworkMetrics()
	m.observe(0, time.Millisecond, 0)
	m.observe(599, time.Millisecond, 10)
	m.observe(600, time.Millisecond, 10)
	m.observe(-1, time.Millisecond, 0)

	snap := m.Snapshot()
	assert.Equal(t, uint64(4), snap.Requests, "every attempt counts as a request")
	assert.Equal(t, map[int]uint64{0: 1, 599: 1}, snap.Statuses, "out-of-range codes are ignored")
	assert.Equal(t, uint64(20), snap.BytesReceived)
	assert.Equal(t, 4*time.Millisecond, snap.Network)
	assert.Zero(t, m.Status(600))
	assert.Zero(t, m.Status(-5))
}

func TestNetworkMetrics_Concurrent(t *testing.T) {
	t.Parallel()

	m := NewNetworkMetrics()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.observe(200, time.Microsecond, 1)
				m.observeRetry(time.Microsecond)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, uint64(800), snap.Requests)
	assert.Equal(t, uint64(800), snap.Retries)
	assert.Equal(t, uint64(800), snap.BytesReceived)
	assert.Equal(t, 800*time.Microsecond, snap.Sleep)
	assert.Equal(t, uint64(800), m.Status(200))
}

func TestCollector(t *testing.T) {
	t.Parallel()

	m := NewNetworkMetrics()
	m.observe(503, 2*time.Second, 0)
	m.observeRetry(500 * time.Millisecond)
	m.observe(200, time.Second, 42)

	c := NewCollector("wdfetch", m)

	// five scalar counters plus one series per observed status
	assert.Equal(t, 7, testutil.CollectAndCount(c))

	expected := `
# HELP wdfetch_http_requests_total HTTP attempts made, including retries.
# TYPE wdfetch_http_requests_total counter
wdfetch_http_requests_total 2
# HELP wdfetch_http_backoff_seconds_total Time spent sleeping between attempts.
# TYPE wdfetch_http_backoff_seconds_total counter
wdfetch_http_backoff_seconds_total 0.5
# HELP wdfetch_http_responses_total Attempts by final status code (0 = no response).
# TYPE wdfetch_http_responses_total counter
wdfetch_http_responses_total{status="200"} 1
wdfetch_http_responses_total{status="503"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"wdfetch_http_requests_total",
		"wdfetch_http_backoff_seconds_total",
		"wdfetch_http_responses_total",
	))
}
