// Package metrics records run and retry outcomes in a prometheus registry and
// writes them out as a node_exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dyike/AurumGo/internal/retry"
)

// Recorder implements the pipeline observer and the retry observer.
type Recorder struct {
	registry *prometheus.Registry
	attempts *prometheus.CounterVec
	runs     *prometheus.CounterVec
	spot     *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurum_retry_attempts_total",
				Help: "Attempts of retried operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurum_runs_total",
				Help: "Analysis runs by tool and status",
			},
			[]string{"tool", "status"},
		),
		spot: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aurum_spot_price",
				Help: "Last spot price reported by a tool",
			},
			[]string{"tool"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aurum_run_duration_seconds",
				Help:    "Duration of analysis runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"tool"},
		),
	}
	r.registry.MustRegister(r.attempts, r.runs, r.spot, r.duration)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveAttempt counts one attempt. Successful attempts are labelled "ok",
// failed ones by their retry class.
func (r *Recorder) ObserveAttempt(a retry.Attempt) {
	outcome := "ok"
	if a.Err != nil {
		outcome = a.Class.String()
	}
	r.attempts.WithLabelValues(a.Name, outcome).Inc()
}

func (r *Recorder) ObserveRun(tool, status string, elapsed time.Duration, spot *float64) {
	r.runs.WithLabelValues(tool, status).Inc()
	r.duration.WithLabelValues(tool).Observe(elapsed.Seconds())
	if spot != nil {
		r.spot.WithLabelValues(tool).Set(*spot)
	}
}

// WriteTextfile writes every metric to path atomically. An empty path is a
// no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
