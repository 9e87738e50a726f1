package httpclient

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a NetworkMetrics aggregator to Prometheus. Values are read
// at scrape time, so no extra bookkeeping happens on the request path.
type Collector struct {
	m *NetworkMetrics

	requests *prometheus.Desc
	retries  *prometheus.Desc
	sleep    *prometheus.Desc
	network  *prometheus.Desc
	bytes    *prometheus.Desc
	statuses *prometheus.Desc
}

// NewCollector returns a collector publishing m under namespace.
func NewCollector(namespace string, m *NetworkMetrics) *Collector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "http", n) }
	return &Collector{
		m:        m,
		requests: prometheus.NewDesc(name("requests_total"), "HTTP attempts made, including retries.", nil, nil),
		retries:  prometheus.NewDesc(name("retries_total"), "Retries scheduled after a failed attempt.", nil, nil),
		sleep:    prometheus.NewDesc(name("backoff_seconds_total"), "Time spent sleeping between attempts.", nil, nil),
		network:  prometheus.NewDesc(name("network_seconds_total"), "Time spent in transport, per attempt.", nil, nil),
		bytes:    prometheus.NewDesc(name("received_bytes_total"), "Response body bytes received.", nil, nil),
		statuses: prometheus.NewDesc(name("responses_total"), "Attempts by final status code (0 = no response).", []string{"status"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.retries
	ch <- c.sleep
	ch <- c.network
	ch <- c.bytes
	ch <- c.statuses
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.Requests))
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(s.Retries))
	ch <- prometheus.MustNewConstMetric(c.sleep, prometheus.CounterValue, s.Sleep.Seconds())
	ch <- prometheus.MustNewConstMetric(c.network, prometheus.CounterValue, s.Network.Seconds())
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.BytesReceived))
	for code, n := range s.Statuses {
		ch <- prometheus.MustNewConstMetric(c.statuses, prometheus.CounterValue, float64(n), strconv.Itoa(code))
	}
}
