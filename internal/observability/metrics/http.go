package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type latencyKey struct {
	handler string
	method  string
}

type transitionKey struct {
	from string
	to   string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu           sync.Mutex
	requests     map[requestKey]uint64
	authFailures map[string]uint64
	transitions  map[transitionKey]uint64
	latency      map[latencyKey]*histogram
}

var httpCollector = &collector{
	requests:     make(map[requestKey]uint64),
	authFailures: make(map[string]uint64),
	transitions:  make(map[transitionKey]uint64),
	latency:      make(map[latencyKey]*histogram),
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpCollector.observe(handler, method, status, duration)
}

// ObserveAuthFailure counts rejected authentication attempts per scheme
// ("agentauth" or "session").
func ObserveAuthFailure(scheme string) {
	httpCollector.mu.Lock()
	httpCollector.authFailures[scheme]++
	httpCollector.mu.Unlock()
}

// ObserveIntentTransition counts accepted intent status transitions.
func ObserveIntentTransition(from, to string) {
	httpCollector.mu.Lock()
	httpCollector.transitions[transitionKey{from: from, to: to}]++
	httpCollector.mu.Unlock()
}

func (c *collector) observe(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqKey := requestKey{handler: handler, method: method, code: strconv.Itoa(status)}
	c.requests[reqKey]++

	latKey := latencyKey{handler: handler, method: method}
	hist := c.latency[latKey]
	if hist == nil {
		hist = newHistogram()
		c.latency[latKey] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
	// Values greater than the last bucket only appear in the +Inf bucket via h.count.
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type requestMetric struct {
		requestKey
		value uint64
	}
	type latencyMetric struct {
		latencyKey
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for key, hist := range c.latency {
		lats = append(lats, latencyMetric{
			latencyKey: key,
			buckets:    append([]float64(nil), hist.buckets...),
			counts:     append([]uint64(nil), hist.counts...),
			sum:        hist.sum,
			count:      hist.count,
		})
	}

	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler == reqs[j].handler {
			if reqs[i].method == reqs[j].method {
				return reqs[i].code < reqs[j].code
			}
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].handler < reqs[j].handler
	})
	sort.Slice(lats, func(i, j int) bool {
		if lats[i].handler == lats[j].handler {
			return lats[i].method < lats[j].method
		}
		return lats[i].handler < lats[j].handler
	})

	schemes := make([]string, 0, len(c.authFailures))
	for scheme := range c.authFailures {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)

	trans := make([]transitionKey, 0, len(c.transitions))
	for key := range c.transitions {
		trans = append(trans, key)
	}
	sort.Slice(trans, func(i, j int) bool {
		if trans[i].from == trans[j].from {
			return trans[i].to < trans[j].to
		}
		return trans[i].from < trans[j].from
	})

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP intentchain_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE intentchain_http_requests_total counter\n")
	for _, metric := range reqs {
		builder.WriteString(fmt.Sprintf("intentchain_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(metric.handler), escape(metric.method), escape(metric.code), metric.value))
	}

	builder.WriteString("# HELP intentchain_auth_failures_total Total number of rejected authentication attempts.\n")
	builder.WriteString("# TYPE intentchain_auth_failures_total counter\n")
	for _, scheme := range schemes {
		builder.WriteString(fmt.Sprintf("intentchain_auth_failures_total{scheme=\"%s\"} %d\n",
			escape(scheme), c.authFailures[scheme]))
	}

	builder.WriteString("# HELP intentchain_intent_transitions_total Total number of accepted intent status transitions.\n")
	builder.WriteString("# TYPE intentchain_intent_transitions_total counter\n")
	for _, key := range trans {
		builder.WriteString(fmt.Sprintf("intentchain_intent_transitions_total{from=\"%s\",to=\"%s\"} %d\n",
			escape(key.from), escape(key.to), c.transitions[key]))
	}

	builder.WriteString("# HELP intentchain_http_request_duration_seconds HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE intentchain_http_request_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("intentchain_http_request_duration_seconds_bucket{handler=\"%s\",method=\"%s\",le=\"%s\"} %d\n",
				escape(metric.handler), escape(metric.method), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("intentchain_http_request_duration_seconds_bucket{handler=\"%s\",method=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.handler), escape(metric.method), metric.count))
		builder.WriteString(fmt.Sprintf("intentchain_http_request_duration_seconds_sum{handler=\"%s\",method=\"%s\"} %s\n",
			escape(metric.handler), escape(metric.method), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("intentchain_http_request_duration_seconds_count{handler=\"%s\",method=\"%s\"} %d\n",
			escape(metric.handler), escape(metric.method), metric.count))
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
