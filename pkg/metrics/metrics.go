package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Maker registry refresh metrics
var (
	MakerRefreshSucceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_maker_refresh_succeeded_total",
			Help: "Number of maker registry refresh cycles that succeeded",
		},
		[]string{"chain_id"},
	)

	MakerRefreshFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_maker_refresh_failed_total",
			Help: "Number of maker registry refresh cycles that failed",
		},
		[]string{"chain_id"},
	)

	MakerRefreshLatency = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "rfq_maker_refresh_latency_seconds",
			Help: "Latency of maker registry refresh cycles",
		},
		[]string{"chain_id"},
	)
)

// Maker balance cache metrics
var (
	BalanceCacheChecked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rfq_balance_cache_checked_total",
			Help: "Number of entries looked up in the maker balance cache",
		},
	)

	BalanceCacheMissed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rfq_balance_cache_missed_total",
			Help: "Cache misses observed in the maker balance cache",
		},
	)

	BalanceCacheReadLatency = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Name: "rfq_balance_cache_read_latency_seconds",
			Help: "Read latency for the maker balance cache",
		},
	)

	BalanceCacheWriteLatency = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Name: "rfq_balance_cache_write_latency_seconds",
			Help: "Write latency for the maker balance cache update job",
		},
	)

	BalanceCacheEvictLatency = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Name: "rfq_balance_cache_evict_latency_seconds",
			Help: "Latency for the maker balance cache eviction job",
		},
	)

	BalanceCacheNumOwners = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rfq_balance_cache_num_owners",
			Help: "Number of unique owner/token entries tracked per chain",
		},
		[]string{"chain_id"},
	)
)

// Token price oracle metrics
var (
	PriceCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rfq_price_cache_hits_total",
			Help: "Token price lookups served from the in-memory cache",
		},
	)

	PriceCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rfq_price_cache_misses_total",
			Help: "Token price lookups that required an upstream fetch",
		},
	)

	PriceFetchFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_price_fetch_failed_total",
			Help: "Upstream price feed fetches that failed",
		},
		[]string{"chain_id"},
	)
)

// Quote fan-out metrics
var (
	QuoteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_quote_requests_total",
			Help: "Quote requests fanned out to maker endpoints by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// Background job metrics
var (
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_background_jobs_processed_total",
			Help: "Background jobs processed by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rfq_background_job_duration_seconds",
			Help:    "Duration of background job executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	JobProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rfq_background_job_progress_percent",
			Help: "Progress checkpoint of the most recent job per queue",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(MakerRefreshSucceeded, MakerRefreshFailed, MakerRefreshLatency)
	prometheus.MustRegister(
		BalanceCacheChecked, BalanceCacheMissed,
		BalanceCacheReadLatency, BalanceCacheWriteLatency, BalanceCacheEvictLatency,
		BalanceCacheNumOwners,
	)
	prometheus.MustRegister(PriceCacheHits, PriceCacheMisses, PriceFetchFailed)
	prometheus.MustRegister(QuoteRequests)
	prometheus.MustRegister(JobsProcessed, JobDuration, JobProgress)
}
