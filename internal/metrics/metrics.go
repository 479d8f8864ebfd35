// Package metrics records the outcome of a kiln run in the Prometheus text
// format, for the node exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jbweber/kiln/internal/status"
)

const namespace = "kiln"

// Recorder holds the metrics of one process. Each recorder has its own
// registry so the textfile contains only kiln series.
type Recorder struct {
	registry *prometheus.Registry

	runSuccess    prometheus.Gauge
	lastRun       prometheus.Gauge
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	downloadBytes prometheus.Counter
	rollbacks     prometheus.Counter
	warnings      prometheus.Counter
	phaseDuration *prometheus.GaugeVec
	releaseInfo   *prometheus.GaugeVec
}

// NewRecorder creates a recorder with every series registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "Whether the last provisioning run succeeded (1) or not (0)",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last provisioning run finished",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "cache_hits_total",
			Help:      "Artifacts served from the local cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "cache_misses_total",
			Help:      "Artifacts that had to be downloaded",
		}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "download_bytes_total",
			Help:      "Bytes downloaded from the artifact host",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Provisioning runs whose VM was destroyed after a failure",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Non-fatal problems reported by provisioning runs",
		}),
		phaseDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Time taken to reach each phase of the last run",
		}, []string{"phase"}),
		releaseInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "release_info",
			Help:      "Appliance release installed by the last run",
		}, []string{"channel", "version"}),
	}

	r.registry.MustRegister(
		r.runSuccess,
		r.lastRun,
		r.cacheHits,
		r.cacheMisses,
		r.downloadBytes,
		r.rollbacks,
		r.warnings,
		r.phaseDuration,
		r.releaseInfo,
	)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordArtifact records a cache lookup and the bytes it downloaded.
func (r *Recorder) RecordArtifact(hit bool, downloaded int64) {
	if hit {
		r.cacheHits.Inc()
	} else {
		r.cacheMisses.Inc()
	}
	if downloaded > 0 {
		r.downloadBytes.Add(float64(downloaded))
	}
}

// RecordRun records the outcome of a provisioning run.
func (r *Recorder) RecordRun(ok, rolledBack bool, warnings int, durations map[status.Phase]time.Duration, at time.Time) {
	if ok {
		r.runSuccess.Set(1)
	} else {
		r.runSuccess.Set(0)
	}
	r.lastRun.Set(float64(at.Unix()))
	if rolledBack {
		r.rollbacks.Inc()
	}
	if warnings > 0 {
		r.warnings.Add(float64(warnings))
	}

	r.phaseDuration.Reset()
	for phase, d := range durations {
		r.phaseDuration.WithLabelValues(string(phase)).Set(d.Seconds())
	}
}

// RecordRelease records the installed channel and version.
func (r *Recorder) RecordRelease(channel, version string) {
	r.releaseInfo.Reset()
	r.releaseInfo.WithLabelValues(channel, version).Set(1)
}

// WriteTextfile atomically writes every series to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
