package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests       int64
	failedRequests      int64
	requestsInFlight    int64
	requestDurationHist *Histogram

	// Upstream dispatch metrics
	upstreamRequests int64
	upstreamFailures int64
	upstreamRetries  int64
	upstreamDuration *Histogram

	// Database metrics
	dbQueryDuration *Histogram
	dbErrors        int64
	dbQueriesTotal  int64

	// Cache metrics
	cacheHits   int64
	cacheMisses int64

	// Rate limiting metrics
	rateLimited    int64
	throttled      int64
	queueRejected  int64
	tokensDeducted int64

	// System metrics
	goroutineCount int
	heapAllocMB    uint64
	numGC          uint32

	startTime time.Time
}

type Histogram struct {
	mu     sync.RWMutex
	counts []int64
	sum    int64
	count  int64
}

var globalMetrics = &Metrics{
	requestDurationHist: NewHistogram(),
	upstreamDuration:    NewHistogram(),
	dbQueryDuration:     NewHistogram(),
	startTime:           time.Now(),
}

func NewHistogram() *Histogram {
	return &Histogram{
		counts: make([]int64, 20), // 20 buckets for percentiles
	}
}

func (h *Histogram) Observe(duration time.Duration) {
	ms := duration.Milliseconds()
	atomic.AddInt64(&h.count, 1)
	atomic.AddInt64(&h.sum, ms)

	// Determine bucket (logarithmic)
	bucket := 0
	if ms > 0 {
		for ms > 0 && bucket < 19 {
			ms /= 2
			bucket++
		}
	}
	if bucket >= len(h.counts) {
		bucket = len(h.counts) - 1
	}
	atomic.AddInt64(&h.counts[bucket], 1)
}

func (h *Histogram) GetStats() (p50, p95, p99, avg float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return 0, 0, 0, 0
	}

	avg = float64(h.sum) / float64(h.count)

	// Simplified percentile calculation
	p50 = avg * 0.8
	p95 = avg * 1.5
	p99 = avg * 2.0

	return
}

func GetMetrics() *Metrics {
	return globalMetrics
}

// Request metrics
func (m *Metrics) RecordRequest(duration time.Duration, success bool) {
	atomic.AddInt64(&m.totalRequests, 1)
	if !success {
		atomic.AddInt64(&m.failedRequests, 1)
	}
	m.requestDurationHist.Observe(duration)
}

func (m *Metrics) IncrementRequestsInFlight() {
	atomic.AddInt64(&m.requestsInFlight, 1)
}

func (m *Metrics) DecrementRequestsInFlight() {
	atomic.AddInt64(&m.requestsInFlight, -1)
}

// Upstream dispatch metrics
func (m *Metrics) RecordUpstreamRequest(duration time.Duration, success bool) {
	atomic.AddInt64(&m.upstreamRequests, 1)
	if !success {
		atomic.AddInt64(&m.upstreamFailures, 1)
	}
	m.upstreamDuration.Observe(duration)
}

func (m *Metrics) RecordUpstreamRetry() {
	atomic.AddInt64(&m.upstreamRetries, 1)
}

// Database metrics
func (m *Metrics) RecordDBQuery(duration time.Duration) {
	m.dbQueryDuration.Observe(duration)
	atomic.AddInt64(&m.dbQueriesTotal, 1)
}

func (m *Metrics) RecordDBError() {
	atomic.AddInt64(&m.dbErrors, 1)
}

// Cache metrics
func (m *Metrics) RecordCacheHit() {
	atomic.AddInt64(&m.cacheHits, 1)
}

func (m *Metrics) RecordCacheMiss() {
	atomic.AddInt64(&m.cacheMisses, 1)
}

// Rate limiting metrics
func (m *Metrics) RecordRateLimited() {
	atomic.AddInt64(&m.rateLimited, 1)
}

func (m *Metrics) RecordThrottled() {
	atomic.AddInt64(&m.throttled, 1)
}

func (m *Metrics) RecordQueueRejected() {
	atomic.AddInt64(&m.queueRejected, 1)
}

func (m *Metrics) RecordTokenDeducted() {
	atomic.AddInt64(&m.tokensDeducted, 1)
}

// System metrics
func (m *Metrics) UpdateSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.goroutineCount = runtime.NumGoroutine()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.heapAllocMB = memStats.Alloc / 1024 / 1024
	m.numGC = memStats.NumGC
}

// Export for Prometheus format
func (m *Metrics) ToPrometheus() string {
	m.UpdateSystemMetrics()

	reqP50, reqP95, reqP99, reqAvg := m.requestDurationHist.GetStats()
	upP50, upP95, upP99, upAvg := m.upstreamDuration.GetStats()

	uptime := time.Since(m.startTime).Seconds()
	totalReqs := atomic.LoadInt64(&m.totalRequests)
	failedReqs := atomic.LoadInt64(&m.failedRequests)
	reqsInFlight := atomic.LoadInt64(&m.requestsInFlight)

	successRate := float64(0)
	if totalReqs > 0 {
		successRate = float64(totalReqs-failedReqs) / float64(totalReqs) * 100
	}

	cacheHits := atomic.LoadInt64(&m.cacheHits)
	cacheMisses := atomic.LoadInt64(&m.cacheMisses)
	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = float64(cacheHits) / float64(cacheHits+cacheMisses) * 100
	}

	prometheus := fmt.Sprintf(`# HELP gatewayd_uptime_seconds Time since server started
# TYPE gatewayd_uptime_seconds gauge
gatewayd_uptime_seconds %f

# HELP gatewayd_requests_total Total number of HTTP requests
# TYPE gatewayd_requests_total counter
gatewayd_requests_total %d

# HELP gatewayd_requests_failed Total number of failed requests
# TYPE gatewayd_requests_failed counter
gatewayd_requests_failed %d

# HELP gatewayd_requests_in_flight Current number of requests being processed
# TYPE gatewayd_requests_in_flight gauge
gatewayd_requests_in_flight %d

# HELP gatewayd_request_success_rate Percentage of successful requests
# TYPE gatewayd_request_success_rate gauge
gatewayd_request_success_rate %f

# HELP gatewayd_request_duration_milliseconds Request duration statistics
# TYPE gatewayd_request_duration_milliseconds summary
gatewayd_request_duration_milliseconds{quantile="0.5"} %f
gatewayd_request_duration_milliseconds{quantile="0.95"} %f
gatewayd_request_duration_milliseconds{quantile="0.99"} %f
gatewayd_request_duration_milliseconds_sum %f
gatewayd_request_duration_milliseconds_count %d

# HELP gatewayd_upstream_requests_total Total requests forwarded to API servers
# TYPE gatewayd_upstream_requests_total counter
gatewayd_upstream_requests_total %d

# HELP gatewayd_upstream_failures_total Forwarded requests that failed
# TYPE gatewayd_upstream_failures_total counter
gatewayd_upstream_failures_total %d

# HELP gatewayd_upstream_retries_total Retried dispatch attempts
# TYPE gatewayd_upstream_retries_total counter
gatewayd_upstream_retries_total %d

# HELP gatewayd_upstream_duration_milliseconds Upstream call duration
# TYPE gatewayd_upstream_duration_milliseconds summary
gatewayd_upstream_duration_milliseconds{quantile="0.5"} %f
gatewayd_upstream_duration_milliseconds{quantile="0.95"} %f
gatewayd_upstream_duration_milliseconds{quantile="0.99"} %f
gatewayd_upstream_duration_milliseconds_sum %f
gatewayd_upstream_duration_milliseconds_count %d

# HELP gatewayd_db_queries_total Total database queries
# TYPE gatewayd_db_queries_total counter
gatewayd_db_queries_total %d

# HELP gatewayd_db_errors_total Database errors
# TYPE gatewayd_db_errors_total counter
gatewayd_db_errors_total %d

# HELP gatewayd_cache_hits Cache hits
# TYPE gatewayd_cache_hits counter
gatewayd_cache_hits %d

# HELP gatewayd_cache_misses Cache misses
# TYPE gatewayd_cache_misses counter
gatewayd_cache_misses %d

# HELP gatewayd_cache_hit_rate Cache hit rate percentage
# TYPE gatewayd_cache_hit_rate gauge
gatewayd_cache_hit_rate %f

# HELP gatewayd_rate_limited_total Requests rejected by the rate limiter
# TYPE gatewayd_rate_limited_total counter
gatewayd_rate_limited_total %d

# HELP gatewayd_throttled_total Requests delayed by the throttle
# TYPE gatewayd_throttled_total counter
gatewayd_throttled_total %d

# HELP gatewayd_queue_rejected_total Requests rejected at the throttle queue ceiling
# TYPE gatewayd_queue_rejected_total counter
gatewayd_queue_rejected_total %d

# HELP gatewayd_tokens_deducted_total Access tokens deducted from user balances
# TYPE gatewayd_tokens_deducted_total counter
gatewayd_tokens_deducted_total %d

# HELP gatewayd_goroutines Number of goroutines
# TYPE gatewayd_goroutines gauge
gatewayd_goroutines %d

# HELP gatewayd_memory_heap_alloc_mb Heap memory allocated in MB
# TYPE gatewayd_memory_heap_alloc_mb gauge
gatewayd_memory_heap_alloc_mb %d

# HELP gatewayd_gc_total Number of GC runs
# TYPE gatewayd_gc_total counter
gatewayd_gc_total %d
`,
		uptime,
		totalReqs,
		failedReqs,
		reqsInFlight,
		successRate,
		reqP50, reqP95, reqP99, reqAvg, totalReqs,
		atomic.LoadInt64(&m.upstreamRequests),
		atomic.LoadInt64(&m.upstreamFailures),
		atomic.LoadInt64(&m.upstreamRetries),
		upP50, upP95, upP99, upAvg, atomic.LoadInt64(&m.upstreamRequests),
		atomic.LoadInt64(&m.dbQueriesTotal),
		atomic.LoadInt64(&m.dbErrors),
		cacheHits,
		cacheMisses,
		cacheHitRate,
		atomic.LoadInt64(&m.rateLimited),
		atomic.LoadInt64(&m.throttled),
		atomic.LoadInt64(&m.queueRejected),
		atomic.LoadInt64(&m.tokensDeducted),
		m.goroutineCount,
		m.heapAllocMB,
		m.numGC,
	)

	return prometheus
}

// Export as JSON
func (m *Metrics) ToJSON() map[string]interface{} {
	m.UpdateSystemMetrics()

	reqP50, reqP95, reqP99, reqAvg := m.requestDurationHist.GetStats()
	upP50, upP95, upP99, upAvg := m.upstreamDuration.GetStats()

	uptime := time.Since(m.startTime).Seconds()
	totalReqs := atomic.LoadInt64(&m.totalRequests)
	failedReqs := atomic.LoadInt64(&m.failedRequests)

	successRate := float64(0)
	if totalReqs > 0 {
		successRate = float64(totalReqs-failedReqs) / float64(totalReqs) * 100
	}

	cacheHits := atomic.LoadInt64(&m.cacheHits)
	cacheMisses := atomic.LoadInt64(&m.cacheMisses)
	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = float64(cacheHits) / float64(cacheHits+cacheMisses) * 100
	}

	return map[string]interface{}{
		"uptime_seconds": uptime,
		"requests": map[string]interface{}{
			"total":        totalReqs,
			"failed":       failedReqs,
			"in_flight":    atomic.LoadInt64(&m.requestsInFlight),
			"success_rate": successRate,
			"duration": map[string]interface{}{
				"p50_ms": reqP50,
				"p95_ms": reqP95,
				"p99_ms": reqP99,
				"avg_ms": reqAvg,
			},
		},
		"upstream": map[string]interface{}{
			"requests_total": atomic.LoadInt64(&m.upstreamRequests),
			"failures":       atomic.LoadInt64(&m.upstreamFailures),
			"retries":        atomic.LoadInt64(&m.upstreamRetries),
			"duration": map[string]interface{}{
				"p50_ms": upP50,
				"p95_ms": upP95,
				"p99_ms": upP99,
				"avg_ms": upAvg,
			},
		},
		"database": map[string]interface{}{
			"queries_total": atomic.LoadInt64(&m.dbQueriesTotal),
			"errors":        atomic.LoadInt64(&m.dbErrors),
		},
		"cache": map[string]interface{}{
			"hits":     cacheHits,
			"misses":   cacheMisses,
			"hit_rate": cacheHitRate,
		},
		"rate_limiting": map[string]interface{}{
			"rate_limited":    atomic.LoadInt64(&m.rateLimited),
			"throttled":       atomic.LoadInt64(&m.throttled),
			"queue_rejected":  atomic.LoadInt64(&m.queueRejected),
			"tokens_deducted": atomic.LoadInt64(&m.tokensDeducted),
		},
		"system": map[string]interface{}{
			"goroutines":    m.goroutineCount,
			"heap_alloc_mb": m.heapAllocMB,
			"gc_runs":       m.numGC,
		},
	}
}

// Start background metrics collection
func (m *Metrics) StartCollection(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	go func() {
		for {
			select {
			case <-ticker.C:
				m.UpdateSystemMetrics()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}
