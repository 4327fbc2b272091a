// Package telemetry holds the Prometheus collectors updated by the pipeline
// stages. Collectors record whether or not they are registered; Register
// exposes them on a registry.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "besca"

// Pipeline stage names used as the "stage" label.
const (
	StageRead    = "read"
	StageMerge   = "merge"
	StageFit     = "fit"
	StagePredict = "predict"
	StageReport  = "report"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"stage"},
	)

	FitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fit_total",
			Help:      "Total number of classifier fits",
		},
		[]string{"kind", "status"}, // status: "ok" / "error"
	)

	SamplesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_processed_total",
			Help:      "Total number of samples processed per stage",
		},
		[]string{"stage"},
	)

	MergeMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_mnn_matches",
			Help:      "Mutual nearest neighbour matches per dataset pair",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
)

var (
	registerOnce sync.Once
	registerErr  error
)

// Register registers all collectors on reg. Only the first call has effect.
func Register(reg prometheus.Registerer) error {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{StageDuration, FitTotal, SamplesProcessed, MergeMatches} {
			if err := reg.Register(c); err != nil {
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

// ObserveStage starts a timer for stage; call the returned func when done.
//
//	defer telemetry.ObserveStage(telemetry.StageFit)()
func ObserveStage(stage string) func() {
	start := time.Now()
	return func() {
		StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// CountSamples adds n samples to stage.
func CountSamples(stage string, n int) {
	SamplesProcessed.WithLabelValues(stage).Add(float64(n))
}

// RecordFit counts one fit of kind, successful when err is nil.
func RecordFit(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	FitTotal.WithLabelValues(kind, status).Inc()
}

// WriteTextfile writes the current values of g in the node_exporter
// textfile format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
