package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusObserver(t *testing.T) {
	obs := NewPrometheusObserver()

	before := testutil.ToFloat64(dispatchCounter.WithLabelValues("TRANSFER", "ok"))
	obs.RecordDispatch("TRANSFER", "ok")
	if got := testutil.ToFloat64(dispatchCounter.WithLabelValues("TRANSFER", "ok")); got != before+1 {
		t.Errorf("expected dispatch counter %v, got %v", before+1, got)
	}

	obs.SetDegradedTimezone(true)
	if got := testutil.ToFloat64(degradedGauge); got != 1 {
		t.Errorf("expected degraded gauge 1, got %v", got)
	}
	obs.SetDegradedTimezone(false)
	if got := testutil.ToFloat64(degradedGauge); got != 0 {
		t.Errorf("expected degraded gauge 0, got %v", got)
	}

	// remaining methods must not panic
	obs.RecordRelogin()
	obs.RecordInbox("duplicate")
	obs.RecordSync("purchase_order", 3, 1)
	obs.RecordJobSkipped("dispatch")
	obs.SetUnconfirmed(2)
}
