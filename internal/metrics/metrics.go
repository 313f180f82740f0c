package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sna-ai/sna/internal/models"
)

const namespace = "sna"

// Collector bundles the process-wide Prometheus registry with the service's
// instruments. All observe methods are nil-safe so packages can hold an
// optional *Collector without guarding every call site.
type Collector struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	scrapeRuns    *prometheus.CounterVec
	tweetsFetched prometheus.Counter
	tweetsNew     prometheus.Counter

	dedupGroups *prometheus.CounterVec

	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	llmCostUSD  *prometheus.CounterVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// NewCollector constructs a collector with all instruments registered on a
// fresh registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),

		scrapeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "runs_total",
			Help:      "Completed scrape runs by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		tweetsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "tweets_fetched_total",
			Help:      "Tweets returned by the upstream provider.",
		}),
		tweetsNew: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "tweets_new_total",
			Help:      "Tweets stored for the first time.",
		}),

		dedupGroups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "groups_total",
			Help:      "Dedup groups created, by match type.",
		}, []string{"type"}),

		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed per provider.",
		}, []string{"provider"}),
		llmCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "cost_usd_total",
			Help:      "Estimated spend in USD per provider.",
		}, []string{"provider"}),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "summary",
			Name:      "cache_hits_total",
			Help:      "Summary requests served without an LLM call.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "summary",
			Name:      "cache_misses_total",
			Help:      "Summary requests that needed generation.",
		}),
	}

	instruments := []prometheus.Collector{
		c.requestDuration, c.requestTotal,
		c.scrapeRuns, c.tweetsFetched, c.tweetsNew,
		c.dedupGroups,
		c.llmRequests, c.llmTokens, c.llmCostUSD,
		c.cacheHits, c.cacheMisses,
	}
	for _, instrument := range instruments {
		if err := c.registry.Register(instrument); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// ObserveScrapeRun records one completed scrape run.
func (c *Collector) ObserveScrapeRun(trigger models.ScrapeTrigger, result *models.ScrapeResult, err error) {
	if c == nil || result == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.scrapeRuns.WithLabelValues(string(trigger), outcome).Inc()
	c.tweetsFetched.Add(float64(result.TotalTweets))
	c.tweetsNew.Add(float64(result.NewTweets))
}

// ObserveDedup records the groups created by one deduplication pass.
func (c *Collector) ObserveDedup(stats *models.DedupStats) {
	if c == nil || stats == nil {
		return
	}
	c.dedupGroups.WithLabelValues(string(models.DedupTypeExactDuplicate)).Add(float64(stats.ExactGroups))
	c.dedupGroups.WithLabelValues(string(models.DedupTypeSimilarContent)).Add(float64(stats.SimilarGroups))
}

// ObserveLLMRequest records one provider call.
func (c *Collector) ObserveLLMRequest(provider string, totalTokens int, costUSD float64, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.llmRequests.WithLabelValues(provider, "error").Inc()
		return
	}
	c.llmRequests.WithLabelValues(provider, "success").Inc()
	c.llmTokens.WithLabelValues(provider).Add(float64(totalTokens))
	c.llmCostUSD.WithLabelValues(provider).Add(costUSD)
}

// ObserveSummaryBatch records cache behaviour of one summarisation batch.
func (c *Collector) ObserveSummaryBatch(result *models.SummaryBatchResult) {
	if c == nil || result == nil {
		return
	}
	c.cacheHits.Add(float64(result.CacheHits))
	c.cacheMisses.Add(float64(result.CacheMisses))
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
