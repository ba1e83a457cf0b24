package registry

// Monitoring middleware for publishers

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxcd/ecsroll/pkg/fleet"
	fluxmetrics "github.com/fluxcd/ecsroll/pkg/metrics"
)

var (
	publishDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "ecsroll",
		Subsystem: "registry",
		Name:      "publish_duration_seconds",
		Help:      "Duration of image build and push, in seconds.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
	}, []string{fluxmetrics.LabelService, fluxmetrics.LabelSuccess})
)

type instrumentedPublisher struct {
	next Publisher
}

func NewInstrumentedPublisher(next Publisher) Publisher {
	return &instrumentedPublisher{
		next: next,
	}
}

func (m *instrumentedPublisher) Publish(ctx context.Context, svc fleet.Service, tag string) (res Artifact, err error) {
	start := time.Now()
	res, err = m.next.Publish(ctx, svc, tag)
	publishDuration.With(
		fluxmetrics.LabelService, svc.Name,
		fluxmetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(start).Seconds())
	return
}
