package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful NOC round-trips.
	OutcomeSuccess = "success"
	// OutcomeFailure labels failed NOC round-trips.
	OutcomeFailure = "failure"
)

var (
	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "ticks_total",
			Help:      "Total central timer ticks.",
		},
	)

	callbacksSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "callbacks_skipped_total",
			Help:      "Callback invocations dropped because a prior invocation was still running.",
		},
		[]string{"callback"},
	)

	callbackErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "callback_errors_total",
			Help:      "Callback invocations that returned an error or panicked.",
		},
		[]string{"callback"},
	)

	alertsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "alerts_created_total",
			Help:      "Alerts upserted into the vector as CREATE.",
		},
	)

	alertsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "alerts_resolved_total",
			Help:      "Alerts removed from the vector after a CANCEL round-trip.",
		},
	)

	alertsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "alerts_expired_total",
			Help:      "Alerts evicted from the vector by TTL cleanup.",
		},
	)

	ingressFilteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "ingress_filtered_total",
			Help:      "Pushed alerts dropped by the platform label filter.",
		},
	)

	nocSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "noc_sends_total",
			Help:      "Phase-1 NOC send attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	nocVerifiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "noc_verifies_total",
			Help:      "Phase-2 NOC verify attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	snapshotSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "snapshot_suppressed_total",
			Help:      "Snapshot decisions skipped because the suppression window was active.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "argus",
			Name:      "noc_queue_depth",
			Help:      "Current depth of the NOC decision queue.",
		},
	)
)

// Register attaches argus collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		callbacksSkippedTotal,
		callbackErrorsTotal,
		alertsCreatedTotal,
		alertsResolvedTotal,
		alertsExpiredTotal,
		ingressFilteredTotal,
		nocSendsTotal,
		nocVerifiesTotal,
		snapshotSuppressedTotal,
		queueDepth,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// TickObserved counts one central timer tick.
func TickObserved() { ticksTotal.Inc() }

// CallbackSkipped counts a dropped overlapping callback invocation.
func CallbackSkipped(name string) { callbacksSkippedTotal.WithLabelValues(name).Inc() }

// CallbackError counts a callback error or panic.
func CallbackError(name string) { callbackErrorsTotal.WithLabelValues(name).Inc() }

// AlertCreated counts an alert logged as created.
func AlertCreated() { alertsCreatedTotal.Inc() }

// AlertResolved counts an alert removed from the vector.
func AlertResolved() { alertsResolvedTotal.Inc() }

// AlertExpired counts a TTL eviction.
func AlertExpired() { alertsExpiredTotal.Inc() }

// IngressFiltered counts a pushed alert dropped by the platform filter.
func IngressFiltered() { ingressFilteredTotal.Inc() }

// NocSend counts a phase-1 send attempt.
func NocSend(outcome string) { nocSendsTotal.WithLabelValues(outcome).Inc() }

// NocVerify counts a phase-2 verify attempt.
func NocVerify(outcome string) { nocVerifiesTotal.WithLabelValues(outcome).Inc() }

// EnqueueSuppressed counts a snapshot decision skipped by suppression.
func EnqueueSuppressed() { snapshotSuppressedTotal.Inc() }

// SetQueueDepth records the current decision queue depth.
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }
