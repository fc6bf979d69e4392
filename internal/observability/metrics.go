package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "pointsledger"
	directionCredit   = "credit"
	directionDebit    = "debit"
	labelOperation    = "operation"
	labelStatus       = "status"
	labelEntryType    = "entry_type"
	labelDirection    = "direction"
	labelMethod       = "method"
	labelRoute        = "route"
	labelResponseCode = "code"
	operationStatusOK = "ok"
	reconcileCredited = "credited"
)

// Metrics exposes ledger and HTTP counters. It doubles as a ledger.OperationLogger.
type Metrics struct {
	operations   *prometheus.CounterVec
	pointsMoved  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewMetrics registers the collectors on registerer (prometheus.DefaultRegisterer when nil).
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Ledger operations, labeled by operation and outcome",
		}, []string{labelOperation, labelStatus}),
		pointsMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "points_moved_total",
			Help:      "Absolute points written to the ledger, labeled by entry type and direction",
		}, []string{labelEntryType, labelDirection}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed, labeled by status code",
		}, []string{labelMethod, labelRoute, labelResponseCode}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP requests",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{labelMethod, labelRoute}),
	}
}

func (metrics *Metrics) LogOperation(_ context.Context, entry ledger.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if !movedPoints(entry) {
		return
	}
	amount := entry.Amount.Int64()
	direction := directionCredit
	if amount < 0 {
		direction = directionDebit
		amount = -amount
	}
	metrics.pointsMoved.WithLabelValues(entry.EntryType.String(), direction).Add(float64(amount))
}

// ObserveHTTP records one served request.
func (metrics *Metrics) ObserveHTTP(method string, route string, statusCode int, elapsed time.Duration) {
	metrics.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	metrics.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func movedPoints(entry ledger.OperationLog) bool {
	if entry.Error != nil || entry.Amount == 0 || entry.EntryType == "" {
		return false
	}
	return entry.Status == operationStatusOK || entry.Status == reconcileCredited
}
