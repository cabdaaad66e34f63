// Package metrics counts run outcomes and writes them in the Prometheus
// textfile format for node_exporter style collection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
)

const namespace = "yt_analyze"

type Recorder struct {
	registry *prometheus.Registry

	results         *prometheus.CounterVec
	resultDuration  *prometheus.HistogramVec
	fetches         *prometheus.CounterVec
	entriesTotal    prometheus.Counter
	lastRunFinished prometheus.Gauge
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "results_total",
				Help:      "Analysis results by backend and outcome",
			},
			[]string{"backend", "status", "error_kind"},
		),
		resultDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "result_duration_seconds",
				Help:      "Backend invocation duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"backend"},
		),
		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Fetch outcomes by result",
			},
			[]string{"status"},
		),
		entriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_total",
				Help:      "Manifest entries processed",
			},
		),
		lastRunFinished: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_finished_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveResult counts one Result. Resumed results are counted but not timed.
func (r *Recorder) ObserveResult(result models.Result) {
	status := "success"
	if !result.Success {
		status = "failure"
	}
	r.results.WithLabelValues(string(result.Backend), status, result.ErrorKind).Inc()
	if !result.Resumed {
		r.resultDuration.WithLabelValues(string(result.Backend)).Observe(result.Duration().Seconds())
	}
}

// ObserveFetch counts a fetch as "downloaded", "cached", "local" or the
// error kind that stopped it.
func (r *Recorder) ObserveFetch(file models.MediaFile, remote bool, err error) {
	var status string
	switch {
	case err != nil:
		status = string(errors.KindOf(err))
	case file.Cached:
		status = "cached"
	case remote:
		status = "downloaded"
	default:
		status = "local"
	}
	r.fetches.WithLabelValues(status).Inc()
}

func (r *Recorder) ObserveEntry() {
	r.entriesTotal.Inc()
}

func (r *Recorder) RunFinished() {
	r.lastRunFinished.SetToCurrentTime()
}

// WriteTextfile writes every metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	const op = "Recorder.WriteTextfile"

	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.Write(op, err, "failed to write metrics file")
	}
	return nil
}
