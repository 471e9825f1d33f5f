package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	outcomeOK        = "ok"
	outcomeDuplicate = "duplicate"
)

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler exposes g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}

// Serve runs a /metrics listener for processes without an HTTP API until ctx
// is done. An empty addr disables it.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) {
	if addr == "" {
		return
	}
	srv := &http.Server{Addr: addr, Handler: Handler(g), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("metrics listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", zap.Error(err))
		}
	}()
}

// Metrics counts ledger operations and payout attempts. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	ops     *prometheus.CounterVec
	events  *prometheus.CounterVec
	payouts *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by kind, operation and outcome.",
		}, []string{"kind", "op", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "ledger_events_total",
			Help:      "Committed ledger events by name.",
		}, []string{"name"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "payout_attempts_total",
			Help:      "Payout send attempts by resulting status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.events, m.payouts)
	}
	return m
}

// ObserveOp records one ledger operation. Failed operations are labelled with
// the ledger error code, "duplicate" for replayed chain transfers, or "error"
// for infrastructure failures.
func (m *Metrics) ObserveOp(kind, op string, res ledger.Result, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = ledger.CodeOf(err)
		if errors.Is(err, models.ErrTransferProcessed) {
			outcome = outcomeDuplicate
		}
		if outcome == "" {
			outcome = "error"
		}
	}
	m.ops.WithLabelValues(kind, op, outcome).Inc()
	for _, ev := range res.Events {
		m.events.WithLabelValues(ev.Name).Inc()
	}
}

func (m *Metrics) ObservePayout(status string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(status).Inc()
}
