package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

const namespace = "widgetprobe"

// Recorder holds the probe counters on a private registry so that several
// recorders (one per test) never collide.
type Recorder struct {
	registry *prometheus.Registry

	steps       *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	events      *prometheus.CounterVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed scenario steps by outcome status and step kind.",
		}, []string{"status", "kind"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished scenario runs by verdict.",
		}, []string{"verdict"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a scenario run.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_captured_total",
			Help:      "Page events kept by the collector, by kind.",
		}, []string{"kind"}),
	}
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveStep counts one finished step. Its signature matches the
// orchestrator's step observer.
func (r *Recorder) ObserveStep(_ context.Context, step schemas.Step, outcome schemas.StepOutcome) {
	r.steps.WithLabelValues(string(outcome.Status), string(step.Kind)).Inc()
}

// ObserveRun records the verdict, duration and captured events of a run.
func (r *Recorder) ObserveRun(report *schemas.RunReport) {
	r.runs.WithLabelValues(report.Verdict.String()).Inc()
	r.runDuration.Observe(report.Duration().Seconds())
	for _, ev := range report.Events {
		r.events.WithLabelValues(string(ev.Kind)).Inc()
	}
}

// Push sends all collected metrics to a Prometheus pushgateway, grouped by
// scenario.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job, scenario string) error {
	pusher := push.New(gatewayURL, job).
		Gatherer(r.registry).
		Grouping("scenario", scenario)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
