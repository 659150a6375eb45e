package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct {
	dispatchCounter *prometheus.CounterVec
	reloginCounter  prometheus.Counter
	inboxCounter    *prometheus.CounterVec
	syncFetched     *prometheus.CounterVec
	syncUpserted    *prometheus.CounterVec
	degradedGauge   prometheus.Gauge
	skippedCounter  *prometheus.CounterVec
	unconfirmed     prometheus.Gauge
}

var (
	dispatchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbridge_dispatch_total",
		Help: "ERP post attempts by document type and outcome",
	}, []string{"doc_type", "outcome"})
	reloginCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockbridge_erp_relogin_total",
		Help: "ERP sessions rebuilt after an expired-session response",
	})
	inboxCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbridge_inbox_events_total",
		Help: "Inbound events by outcome",
	}, []string{"outcome"})
	syncFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbridge_sync_fetched_total",
		Help: "Rows read from the source per entity",
	}, []string{"entity"})
	syncUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbridge_sync_upserted_total",
		Help: "Rows that changed local state per entity",
	}, []string{"entity"})
	degradedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockbridge_source_timezone_degraded",
		Help: "1 when the source timezone could not be loaded and UTC is used",
	})
	skippedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbridge_job_skipped_total",
		Help: "Job ticks skipped because the previous run was still active",
	}, []string{"job"})
	unconfirmedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockbridge_queue_unconfirmed",
		Help: "Queue items stuck in SENDING with an unknown ERP outcome",
	})
)

func NewPrometheusObserver() BridgeObserver {
	return &prometheusObserver{
		dispatchCounter: dispatchCounter,
		reloginCounter:  reloginCounter,
		inboxCounter:    inboxCounter,
		syncFetched:     syncFetched,
		syncUpserted:    syncUpserted,
		degradedGauge:   degradedGauge,
		skippedCounter:  skippedCounter,
		unconfirmed:     unconfirmedGauge,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) RecordDispatch(docType, outcome string) {
	p.dispatchCounter.WithLabelValues(docType, outcome).Inc()
}

func (p *prometheusObserver) RecordRelogin() {
	p.reloginCounter.Inc()
}

func (p *prometheusObserver) RecordInbox(outcome string) {
	p.inboxCounter.WithLabelValues(outcome).Inc()
}

func (p *prometheusObserver) RecordSync(entity string, fetched, upserted int) {
	p.syncFetched.WithLabelValues(entity).Add(float64(fetched))
	p.syncUpserted.WithLabelValues(entity).Add(float64(upserted))
}

func (p *prometheusObserver) SetDegradedTimezone(degraded bool) {
	if degraded {
		p.degradedGauge.Set(1)
		return
	}
	p.degradedGauge.Set(0)
}

func (p *prometheusObserver) RecordJobSkipped(job string) {
	p.skippedCounter.WithLabelValues(job).Inc()
}

func (p *prometheusObserver) SetUnconfirmed(count int) {
	p.unconfirmed.Set(float64(count))
}
