package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/fluxcd/ecsroll/pkg/image"
	fluxmetrics "github.com/fluxcd/ecsroll/pkg/metrics"
)

var (
	requestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "ecsroll",
		Subsystem: "platform",
		Name:      "request_duration_seconds",
		Help:      "Platform API request duration in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{fluxmetrics.LabelMethod, fluxmetrics.LabelSuccess})
)

// RateLimiterConfig bounds the calls made against the platform API,
// shared by every service being deployed.
type RateLimiterConfig struct {
	RPS   float64 // Sustained requests per second
	Burst int     // Burst count
}

var _ Platform = &rateLimited{}

type rateLimited struct {
	p  Platform
	rl *rate.Limiter
}

// RateLimited wraps p so that all calls, from however many
// goroutines, share one token bucket.
func RateLimited(p Platform, config RateLimiterConfig) Platform {
	return &rateLimited{
		p:  p,
		rl: rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
	}
}

func (r *rateLimited) Ping(ctx context.Context) error {
	if err := r.rl.Wait(ctx); err != nil {
		return err
	}
	return r.p.Ping(ctx)
}

func (r *rateLimited) Describe(ctx context.Context, service string) (ServiceState, error) {
	if err := r.rl.Wait(ctx); err != nil {
		return ServiceState{}, err
	}
	return r.p.Describe(ctx, service)
}

func (r *rateLimited) ContainerImage(ctx context.Context, rev Revision, container string) (image.Ref, error) {
	if err := r.rl.Wait(ctx); err != nil {
		return image.Ref{}, err
	}
	return r.p.ContainerImage(ctx, rev, container)
}

func (r *rateLimited) RegisterRevision(ctx context.Context, from Revision, container string, ref image.Ref) (Revision, error) {
	if err := r.rl.Wait(ctx); err != nil {
		return Revision{}, err
	}
	return r.p.RegisterRevision(ctx, from, container, ref)
}

func (r *rateLimited) UpdateService(ctx context.Context, service string, spec UpdateSpec) error {
	if err := r.rl.Wait(ctx); err != nil {
		return err
	}
	return r.p.UpdateService(ctx, service, spec)
}

func (r *rateLimited) Revisions(ctx context.Context, family string) ([]Revision, error) {
	if err := r.rl.Wait(ctx); err != nil {
		return nil, err
	}
	return r.p.Revisions(ctx, family)
}

func (r *rateLimited) DeregisterRevision(ctx context.Context, rev Revision) error {
	if err := r.rl.Wait(ctx); err != nil {
		return err
	}
	return r.p.DeregisterRevision(ctx, rev)
}

var _ Platform = &instrumented{}

type instrumented struct {
	p Platform
}

// Instrument records the duration and success of every call.
func Instrument(p Platform) Platform {
	return &instrumented{p}
}

func observe(method string, err error, begin time.Time) {
	requestDuration.With(
		fluxmetrics.LabelMethod, method,
		fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(time.Since(begin).Seconds())
}

func (i *instrumented) Ping(ctx context.Context) (err error) {
	defer func(begin time.Time) { observe("Ping", err, begin) }(time.Now())
	return i.p.Ping(ctx)
}

func (i *instrumented) Describe(ctx context.Context, service string) (_ ServiceState, err error) {
	defer func(begin time.Time) { observe("Describe", err, begin) }(time.Now())
	return i.p.Describe(ctx, service)
}

func (i *instrumented) ContainerImage(ctx context.Context, rev Revision, container string) (_ image.Ref, err error) {
	defer func(begin time.Time) { observe("ContainerImage", err, begin) }(time.Now())
	return i.p.ContainerImage(ctx, rev, container)
}

func (i *instrumented) RegisterRevision(ctx context.Context, from Revision, container string, ref image.Ref) (_ Revision, err error) {
	defer func(begin time.Time) { observe("RegisterRevision", err, begin) }(time.Now())
	return i.p.RegisterRevision(ctx, from, container, ref)
}

func (i *instrumented) UpdateService(ctx context.Context, service string, spec UpdateSpec) (err error) {
	defer func(begin time.Time) { observe("UpdateService", err, begin) }(time.Now())
	return i.p.UpdateService(ctx, service, spec)
}

func (i *instrumented) Revisions(ctx context.Context, family string) (_ []Revision, err error) {
	defer func(begin time.Time) { observe("Revisions", err, begin) }(time.Now())
	return i.p.Revisions(ctx, family)
}

func (i *instrumented) DeregisterRevision(ctx context.Context, rev Revision) (err error) {
	defer func(begin time.Time) { observe("DeregisterRevision", err, begin) }(time.Now())
	return i.p.DeregisterRevision(ctx, rev)
}
