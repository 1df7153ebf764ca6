package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PagesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_pages_fetched_total",
		Help: "Total number of pages successfully fetched",
	})
	BytesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_bytes_fetched_total",
		Help: "Total bytes downloaded",
	})
	PagesEmbedded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_pages_embedded_total",
		Help: "Total number of pages chunked and embedded",
	})
	BrowserLaunches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_browser_launches_total",
		Help: "Total headless browser instances launched",
	})
)

func init() {
	prometheus.MustRegister(PagesFetched, BytesFetched, PagesEmbedded, BrowserLaunches)
}
