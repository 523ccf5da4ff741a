package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLedgerMetrics(t *testing.T) {
	m := Ledger()
	if Ledger() != m {
		t.Fatalf("expected singleton registry")
	}
	beforeOK := testutil.ToFloat64(m.appends.WithLabelValues("success"))
	beforeErr := testutil.ToFloat64(m.appends.WithLabelValues("error"))

	m.ObserveAppend(5*time.Millisecond, 300, nil)
	m.ObserveAppend(time.Millisecond, 0, errors.New("boom"))
	m.SetLength(7)

	if got := testutil.ToFloat64(m.appends.WithLabelValues("success")) - beforeOK; got != 1 {
		t.Fatalf("unexpected success delta: %v", got)
	}
	if got := testutil.ToFloat64(m.appends.WithLabelValues("error")) - beforeErr; got != 1 {
		t.Fatalf("unexpected error delta: %v", got)
	}
	if got := testutil.ToFloat64(m.length); got != 7 {
		t.Fatalf("unexpected length gauge: %v", got)
	}

	before := testutil.ToFloat64(m.validations.WithLabelValues("valid"))
	m.ObserveValidation("", time.Millisecond)
	if got := testutil.ToFloat64(m.validations.WithLabelValues("valid")) - before; got != 1 {
		t.Fatalf("unexpected validation delta: %v", got)
	}
}

func TestFeedDropMetric(t *testing.T) {
	m := Ledger()
	before := testutil.ToFloat64(m.feedDropped)
	m.ObserveFeedDrop()
	m.ObserveFeedDrop()
	if got := testutil.ToFloat64(m.feedDropped) - before; got != 2 {
		t.Fatalf("unexpected feed drop delta: %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *LedgerMetrics
	m.ObserveAppend(time.Second, 1, nil)
	m.SetLength(1)
	m.ObserveValidation("broken_link", time.Second)
	m.ObserveFeedDrop()

	var mod *moduleMetrics
	mod.Observe("admin", "status", 500, time.Second)
	mod.RecordThrottle("", "")
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	before := testutil.ToFloat64(m.errors.WithLabelValues("verification", "start", "403"))
	m.Observe("verification", "start", 403, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("verification", "start", "403")) - before; got != 1 {
		t.Fatalf("unexpected error delta: %v", got)
	}
}

func TestEventMetrics(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.verification.WithLabelValues("otp_generation", "success"))
	m.RecordVerification(" OTP_Generation ", nil)
	if got := testutil.ToFloat64(m.verification.WithLabelValues("otp_generation", "success")) - before; got != 1 {
		t.Fatalf("unexpected event delta: %v", got)
	}
}
