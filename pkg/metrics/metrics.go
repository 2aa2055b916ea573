// Package metrics exposes the process's Prometheus gauges and counters
// on a dedicated listener, independent of the health endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BulletinsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "certify_bulletins_published_total",
		Help: "Number of bulletins confirmed on-chain.",
	})
	BulletinBumps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "certify_bulletin_fee_bumps_total",
		Help: "Number of fee-bump transactions broadcast.",
	})
	DocumentsFunded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "certify_documents_funded_total",
		Help: "Number of documents admitted and funded.",
	})
	DocumentsParked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "certify_documents_parked",
		Help: "Current number of documents parked awaiting funds.",
	})
	WorkerCadenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certify_worker_cadence_errors_total",
		Help: "Errors encountered by each background cadence.",
	}, []string{"cadence"})
)

func init() {
	prometheus.MustRegister(BulletinsPublished, BulletinBumps, DocumentsFunded, DocumentsParked, WorkerCadenceErrors)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
