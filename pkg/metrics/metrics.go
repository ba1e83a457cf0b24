package metrics

/*
Labels and so on for metrics used in ecsroll, and the sink that
deployment metrics are published to.
*/

import (
	"sort"

	"github.com/go-kit/kit/log"
)

const (
	LabelMethod  = "method"
	LabelSuccess = "success"
	LabelService = "service"
	LabelOutcome = "outcome"
	LabelStage   = "stage"
	LabelKind    = "kind"
	LabelRoute   = "route"
)

// Names of the metrics published to the Sink.
const (
	MetricDeploymentDuration = "DeploymentDuration"
	MetricDeploymentSuccess  = "DeploymentSuccess"
	MetricFleetDuration      = "FleetDeploymentDuration"
	MetricFleetSuccessCount  = "FleetDeploymentSuccessCount"
	MetricFleetFailureCount  = "FleetDeploymentFailureCount"
)

// Sink receives deployment metrics. Publishing is fire-and-forget: a
// Sink never reports failure to its caller, since losing a metric
// must not affect a deployment.
type Sink interface {
	PutMetric(namespace, name string, value float64, dimensions map[string]string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) PutMetric(string, string, float64, map[string]string) {}

// Multi publishes to every sink in turn.
type Multi []Sink

func (m Multi) PutMetric(namespace, name string, value float64, dimensions map[string]string) {
	for _, s := range m {
		s.PutMetric(namespace, name, value, dimensions)
	}
}

// LogSink writes each metric as a log line.
type LogSink struct {
	Logger log.Logger
}

func (l LogSink) PutMetric(namespace, name string, value float64, dimensions map[string]string) {
	keyvals := []interface{}{"metric", name, "namespace", namespace, "value", value}
	var keys []string
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		keyvals = append(keyvals, k, dimensions[k])
	}
	l.Logger.Log(keyvals...)
}
