package rollout

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/ecsroll/pkg/metrics"
)

const (
	stagePublish  = "publish"
	stageUpdate   = "update"
	stageWatch    = "watch"
	stageProbe    = "probe"
	stageRollback = "rollback"
)

var (
	// Watching dominates; a rollout takes a few minutes and is given
	// up on after the watch budget (15 minutes by default).
	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "ecsroll",
		Subsystem: "rollout",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each stage of deploying a service, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1200},
	}, []string{fluxmetrics.LabelStage, fluxmetrics.LabelSuccess})

	deploymentDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "ecsroll",
		Subsystem: "rollout",
		Name:      "deployment_duration_seconds",
		Help:      "Duration of deploying one service, to its outcome, in seconds.",
		Buckets:   []float64{15, 30, 60, 120, 300, 600, 900, 1200, 1800, 2400},
	}, []string{fluxmetrics.LabelService, fluxmetrics.LabelOutcome})

	fleetOutcomes = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "ecsroll",
		Subsystem: "fleet",
		Name:      "outcomes",
		Help:      "Number of services in each outcome state, for the last fleet run.",
	}, []string{fluxmetrics.LabelOutcome})
)
