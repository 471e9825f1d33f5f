package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOp(t *testing.T) {
	m := New(prometheus.NewRegistry())

	res := ledger.Result{Events: []ledger.Event{{Name: ledger.EventDeposited}}}
	m.ObserveOp("escrow", "deposit", res, nil)
	m.ObserveOp("escrow", "deposit", ledger.Result{}, fmt.Errorf("wrapped: %w", ledger.ErrAmountMismatch))
	m.ObserveOp("escrow", "deposit", ledger.Result{}, errors.New("connection reset"))
	m.ObserveOp("escrow", "deposit", ledger.Result{}, fmt.Errorf("tx 10: %w", models.ErrTransferProcessed))

	tests := []struct {
		outcome string
		want    float64
	}{
		{"ok", 1},
		{"amount_mismatch", 1},
		{"error", 1},
		{"duplicate", 1},
		{"unauthorized", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.ops.WithLabelValues("escrow", "deposit", tt.outcome))
		if got != tt.want {
			t.Errorf("outcome %s = %v, want %v", tt.outcome, got, tt.want)
		}
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues(ledger.EventDeposited)); got != 1 {
		t.Errorf("Deposited events = %v", got)
	}
}

func TestObservePayout(t *testing.T) {
	m := New(nil)
	m.ObservePayout("sent")
	m.ObservePayout("sent")
	m.ObservePayout("failed")

	if got := testutil.ToFloat64(m.payouts.WithLabelValues("sent")); got != 2 {
		t.Errorf("sent = %v", got)
	}
	if got := testutil.CollectAndCount(m.payouts); got != 2 {
		t.Errorf("series = %d", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOp("rental", "add_book", ledger.Result{}, nil)
	m.ObservePayout("sent")
}

func TestHandlerExposesRegisteredCounters(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.ObservePayout("sent")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{`custody_payout_attempts_total{status="sent"} 1`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("body missing %q", want)
		}
	}
}
