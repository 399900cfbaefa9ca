// Package metrics exposes Prometheus counters and gauges for the
// core's call-handling activity, the ambient operability surface
// spec.md's Non-goals exclude as a CLI/manager concern but that
// survives as ordinary instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "pbxcore"

var (
	// ChannelsActive tracks live channel.Channel instances.
	ChannelsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channels_active",
		Help:      "Number of channels currently allocated.",
	})

	// ChannelsCreatedTotal counts every channel.New call.
	ChannelsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channels_created_total",
		Help:      "Total channels created since start.",
	})

	// DialplanExecutionsTotal counts pbx.Run priority executions, by
	// application name.
	DialplanExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dialplan_executions_total",
		Help:      "Total dialplan priorities executed, by application.",
	}, []string{"application"})

	// CDRBatchesPostedTotal counts cdr.Queue batches handed to the
	// back-end registry.
	CDRBatchesPostedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cdr_batches_posted_total",
		Help:      "Total CDR batches posted to back-ends.",
	})

	// CDRRecordsPostedTotal counts individual records across all
	// posted batches.
	CDRRecordsPostedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cdr_records_posted_total",
		Help:      "Total CDR records posted to back-ends.",
	})

	// ConferenceMembersActive tracks live conference.Member instances
	// across all conferences.
	ConferenceMembersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conference_members_active",
		Help:      "Number of members currently joined to any conference.",
	})

	// ConferencesActive tracks live conference.Conference instances.
	ConferencesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conferences_active",
		Help:      "Number of conferences currently instantiated.",
	})

	// ModulesLoaded tracks the module registry's size.
	ModulesLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "modules_loaded",
		Help:      "Number of modules currently registered.",
	})
)

func init() {
	prometheus.MustRegister(
		ChannelsActive,
		ChannelsCreatedTotal,
		DialplanExecutionsTotal,
		CDRBatchesPostedTotal,
		CDRRecordsPostedTotal,
		ConferenceMembersActive,
		ConferencesActive,
		ModulesLoaded,
	)
}
