// Package metrics exposes Prometheus collectors for the mapper pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cachePagesSavedTotal   *prometheus.CounterVec
	cachePagesTakenTotal   *prometheus.CounterVec
	cachePagesDroppedTotal *prometheus.CounterVec
	cachePagesSkippedTotal *prometheus.CounterVec
	pagesFetchedTotal      *prometheus.CounterVec
	pagesIngestedTotal     *prometheus.CounterVec
	ingestRetriesTotal     *prometheus.CounterVec
	mappingsUpsertedTotal  prometheus.Counter
	frontierInsertsTotal   *prometheus.CounterVec
	crawlErrorsTotal       prometheus.Counter

	once sync.Once
)

// Init registers the collectors. Safe to call any number of times.
func Init() {
	once.Do(func() {
		cachePagesSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapper_cache_pages_saved_total",
				Help: "Pages written into the page cache, labeled by page type.",
			},
			[]string{"page_type"},
		)

		cachePagesTakenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapper_cache_pages_taken_total",
				Help: "Pages dequeued from the page cache, labeled by page type.",
			},
			[]string{"page_type"},
		)

		cachePagesDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapper_cache_pages_dropped_total",
				Help: "Pages dropped on cache I/O failure, labeled by page type.",
			},
			[]string{"page_type"},
		)

		cachePagesSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapper_cache_pages_skipped_total",
				Help: "Save calls skipped because the file already existed.",
			},
			[]string{"page_type"},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapper_pages_fetched_total",
				Help: "HTTP page fetches, labeled by page type and status code.",
			},
			[]string{"page_type", "status"},
		)

		pagesIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapper_pages_ingested_total",
				Help: "Cached pages fully processed, labeled by page type.",
			},
			[]string{"page_type"},
		)

		ingestRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapper_ingest_retries_total",
				Help: "Pages re-saved for retry after a processing failure.",
			},
			[]string{"page_type"},
		)

		mappingsUpsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mapper_mappings_upserted_total",
				Help: "Track mapping rows inserted or updated.",
			},
		)

		frontierInsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapper_frontier_inserts_total",
				Help: "New frontier rows discovered, labeled by kind (artist|user).",
			},
			[]string{"kind"},
		)

		crawlErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mapper_crawl_errors_total",
				Help: "Crawl cycles that logged and swallowed an error.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePageSaved counts a page written into the cache.
func ObservePageSaved(pageType string) {
	cachePagesSavedTotal.WithLabelValues(pageType).Inc()
}

// ObservePageTaken counts a page dequeued from the cache.
func ObservePageTaken(pageType string) {
	cachePagesTakenTotal.WithLabelValues(pageType).Inc()
}

// ObservePageDropped counts a page lost to a cache I/O failure.
func ObservePageDropped(pageType string) {
	cachePagesDroppedTotal.WithLabelValues(pageType).Inc()
}

// ObservePageSkipped counts an idempotent save that found its file present.
func ObservePageSkipped(pageType string) {
	cachePagesSkippedTotal.WithLabelValues(pageType).Inc()
}

// ObserveFetch counts an HTTP page fetch by result status.
func ObserveFetch(pageType string, status int) {
	pagesFetchedTotal.WithLabelValues(pageType, strconv.Itoa(status)).Inc()
}

// ObservePageIngested counts a cached page processed to completion.
func ObservePageIngested(pageType string) {
	pagesIngestedTotal.WithLabelValues(pageType).Inc()
}

// ObserveIngestRetry counts a page re-saved after a processing failure.
func ObserveIngestRetry(pageType string) {
	ingestRetriesTotal.WithLabelValues(pageType).Inc()
}

// ObserveMappingUpserted counts a mapping row write.
func ObserveMappingUpserted() {
	mappingsUpsertedTotal.Inc()
}

// ObserveFrontierInsert counts a newly discovered frontier row.
func ObserveFrontierInsert(kind string) {
	frontierInsertsTotal.WithLabelValues(kind).Inc()
}

// ObserveCrawlError counts a swallowed crawl-cycle error.
func ObserveCrawlError() {
	crawlErrorsTotal.Inc()
}
