package workers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every relayer metric; it is served on /metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	taskRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "task_runs_total",
		Help:      "Task ticks by outcome (ok, error, skipped).",
	}, []string{"task", "result"})

	taskDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relayer",
		Name:      "task_duration_seconds",
		Help:      "Duration of task ticks that ran.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"task"})

	exitsRecorded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "exits_recorded_total",
		Help:      "Exits committed by the pollers.",
	}, []string{"chain"})

	scanWindows = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "scan_windows_total",
		Help:      "Scan windows committed.",
	}, []string{"chain"})

	decodeFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "decode_failures_total",
		Help:      "Bridge logs or metadata that could not be decoded.",
	}, []string{"chain"})

	pairingMisses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "pairing_misses_total",
		Help:      "Asset leaves dropped without a matching message leaf.",
	}, []string{"chain"})

	watermarkGauge = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayer",
		Name:      "watermark_block",
		Help:      "Highest committed scan block per chain.",
	}, []string{"chain"})

	exitsRelayed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "exits_relayed_total",
		Help:      "Exits dispatched and marked fulfilled.",
	}, []string{"destination"})

	relayFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "relay_failures_total",
		Help:      "Dispatch failures per destination.",
	}, []string{"destination"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
