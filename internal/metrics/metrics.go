package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/socialnet/backend/internal/transcode"
)

const prefix = "social"

// Metrics holds all application metrics and renders them in the Prometheus
// text format.
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	requestCount    map[string]*uint64    // endpoint:method -> count
	requestDuration map[string]*Histogram // endpoint:method -> duration histogram
	requestErrors   map[string]*uint64    // endpoint:method:status_class -> count

	// Transcoding pipeline
	jobsSubmitted  map[string]*uint64    // job_type -> count
	jobsFinished   map[string]*uint64    // job_type:status -> count
	encodeDuration map[string]*Histogram // job_type -> seconds
	jobsRejected   uint64
	queueStats     func() transcode.Stats

	activeWSConnections int64

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu         sync.Mutex
	count      uint64
	sum        float64
	buckets    []float64
	bucketVals []uint64
}

var (
	// 5ms .. 10s
	requestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	// 1s .. 30m, the default job timeout
	encodeBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800}
)

func NewHistogram(buckets []float64) *Histogram {
	return &Histogram{
		buckets:    buckets,
		bucketVals: make([]uint64, len(buckets)),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]*uint64),
		requestDuration: make(map[string]*Histogram),
		requestErrors:   make(map[string]*uint64),
		jobsSubmitted:   make(map[string]*uint64),
		jobsFinished:    make(map[string]*uint64),
		encodeDuration:  make(map[string]*Histogram),
		startTime:       time.Now(),
	}
}

// counter returns the counter for key in set, creating it under m.mu.
func (m *Metrics) counter(set map[string]*uint64, key string) *uint64 {
	m.mu.RLock()
	c := set[key]
	m.mu.RUnlock()
	if c != nil {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if set[key] == nil {
		set[key] = new(uint64)
	}
	return set[key]
}

func (m *Metrics) histogram(set map[string]*Histogram, key string, buckets []float64) *Histogram {
	m.mu.RLock()
	h := set[key]
	m.mu.RUnlock()
	if h != nil {
		return h
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if set[key] == nil {
		set[key] = NewHistogram(buckets)
	}
	return set[key]
}

// RecordRequest records a request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)

	atomic.AddUint64(m.counter(m.requestCount, key), 1)
	m.histogram(m.requestDuration, key, requestBuckets).Observe(duration.Seconds())

	if statusCode >= 400 {
		errorKey := fmt.Sprintf("%s:%d", key, statusCode/100)
		atomic.AddUint64(m.counter(m.requestErrors, errorKey), 1)
	}
}

// normalizeEndpoint replaces UUIDs and numeric ids with {id}
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if len(part) > 0 && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// JobSubmitted implements transcode.Recorder.
func (m *Metrics) JobSubmitted(jobType string) {
	atomic.AddUint64(m.counter(m.jobsSubmitted, jobType), 1)
}

// JobRejected counts submissions refused because the queue was full.
func (m *Metrics) JobRejected() {
	atomic.AddUint64(&m.jobsRejected, 1)
}

// JobFinished counts a terminal job. A zero elapsed means the job was
// finished without running here (recovered after a restart) and is not
// observed in the duration histogram.
func (m *Metrics) JobFinished(jobType, status string, elapsed time.Duration) {
	atomic.AddUint64(m.counter(m.jobsFinished, jobType+":"+status), 1)
	if elapsed > 0 {
		m.histogram(m.encodeDuration, jobType, encodeBuckets).Observe(elapsed.Seconds())
	}
}

// SetQueueStats registers the snapshot source for the queue gauges.
func (m *Metrics) SetQueueStats(fn func() transcode.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueStats = fn
}

func (m *Metrics) IncWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, 1)
}

func (m *Metrics) DecWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, -1)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(m.render()))
	}
}

func (m *Metrics) render() string {
	var sb strings.Builder

	header := func(name, help, kind string) {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", prefix, name, help)
		fmt.Fprintf(&sb, "# TYPE %s_%s %s\n", prefix, name, kind)
	}

	header("uptime_seconds", "Time since the server started", "gauge")
	fmt.Fprintf(&sb, "%s_uptime_seconds %f\n\n", prefix, time.Since(m.startTime).Seconds())

	header("websocket_connections_active", "Active WebSocket connections", "gauge")
	fmt.Fprintf(&sb, "%s_websocket_connections_active %d\n\n", prefix, atomic.LoadInt64(&m.activeWSConnections))

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.queueStats != nil {
		s := m.queueStats()
		header("transcode_queue_jobs", "Jobs waiting or running in this process", "gauge")
		fmt.Fprintf(&sb, "%s_transcode_queue_jobs{state=\"queued\"} %d\n", prefix, s.Queued)
		fmt.Fprintf(&sb, "%s_transcode_queue_jobs{state=\"processing\"} %d\n", prefix, s.Processing)
		header("transcode_queue_capacity", "Configured queue slots", "gauge")
		fmt.Fprintf(&sb, "%s_transcode_queue_capacity %d\n", prefix, s.Capacity)
		header("transcode_workers", "Configured encode workers", "gauge")
		fmt.Fprintf(&sb, "%s_transcode_workers %d\n\n", prefix, s.Workers)
	}

	header("transcode_jobs_rejected_total", "Submissions refused with a full queue", "counter")
	fmt.Fprintf(&sb, "%s_transcode_jobs_rejected_total %d\n\n", prefix, atomic.LoadUint64(&m.jobsRejected))

	if len(m.jobsSubmitted) > 0 {
		header("transcode_jobs_submitted_total", "Accepted transcoding jobs", "counter")
		for _, jobType := range sortedKeys(m.jobsSubmitted) {
			fmt.Fprintf(&sb, "%s_transcode_jobs_submitted_total{job_type=\"%s\"} %d\n",
				prefix, jobType, atomic.LoadUint64(m.jobsSubmitted[jobType]))
		}
		sb.WriteString("\n")
	}

	if len(m.jobsFinished) > 0 {
		header("transcode_jobs_finished_total", "Transcoding jobs that reached a terminal status", "counter")
		for _, key := range sortedKeys(m.jobsFinished) {
			parts := strings.SplitN(key, ":", 2)
			fmt.Fprintf(&sb, "%s_transcode_jobs_finished_total{job_type=\"%s\",status=\"%s\"} %d\n",
				prefix, parts[0], parts[1], atomic.LoadUint64(m.jobsFinished[key]))
		}
		sb.WriteString("\n")
	}

	if len(m.encodeDuration) > 0 {
		header("transcode_job_duration_seconds", "Wall time from claim to terminal status", "histogram")
		for _, jobType := range sortedKeys(m.encodeDuration) {
			writeHistogram(&sb, "transcode_job_duration_seconds", fmt.Sprintf("job_type=\"%s\"", jobType), m.encodeDuration[jobType])
		}
		sb.WriteString("\n")
	}

	if len(m.requestCount) > 0 {
		header("http_requests_total", "Total HTTP requests", "counter")
		for _, key := range sortedKeys(m.requestCount) {
			parts := strings.SplitN(key, ":", 2)
			fmt.Fprintf(&sb, "%s_http_requests_total{endpoint=\"%s\",method=\"%s\"} %d\n",
				prefix, parts[0], parts[1], atomic.LoadUint64(m.requestCount[key]))
		}
		sb.WriteString("\n")
	}

	if len(m.requestDuration) > 0 {
		header("http_request_duration_seconds", "HTTP request latency", "histogram")
		for _, key := range sortedKeys(m.requestDuration) {
			parts := strings.SplitN(key, ":", 2)
			labels := fmt.Sprintf("endpoint=\"%s\",method=\"%s\"", parts[0], parts[1])
			writeHistogram(&sb, "http_request_duration_seconds", labels, m.requestDuration[key])
		}
		sb.WriteString("\n")
	}

	if len(m.requestErrors) > 0 {
		header("http_errors_total", "Total HTTP errors by status class", "counter")
		for _, key := range sortedKeys(m.requestErrors) {
			// endpoint:method:class
			parts := strings.Split(key, ":")
			if len(parts) >= 3 {
				fmt.Fprintf(&sb, "%s_http_errors_total{endpoint=\"%s\",method=\"%s\",status_class=\"%sxx\"} %d\n",
					prefix, parts[0], parts[1], parts[2], atomic.LoadUint64(m.requestErrors[key]))
			}
		}
	}

	return sb.String()
}

func writeHistogram(sb *strings.Builder, name, labels string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, bucket := range h.buckets {
		fmt.Fprintf(sb, "%s_%s_bucket{%s,le=\"%g\"} %d\n", prefix, name, labels, bucket, h.bucketVals[i])
	}
	fmt.Fprintf(sb, "%s_%s_bucket{%s,le=\"+Inf\"} %d\n", prefix, name, labels, h.count)
	fmt.Fprintf(sb, "%s_%s_sum{%s} %f\n", prefix, name, labels, h.sum)
	fmt.Fprintf(sb, "%s_%s_count{%s} %d\n", prefix, name, labels, h.count)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the websocket upgrade needs.
func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
