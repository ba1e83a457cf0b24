package rollout

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/fluxcd/ecsroll/pkg/event"
	"github.com/fluxcd/ecsroll/pkg/fleet"
	"github.com/fluxcd/ecsroll/pkg/platform"
	"github.com/fluxcd/ecsroll/pkg/registry"
	registrymock "github.com/fluxcd/ecsroll/pkg/registry/mock"
)

var epoch = time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)

// clock is a fake clock that moves only when slept on.
type clock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newClock() *clock {
	return &clock{now: epoch}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func (c *clock) elapsed() time.Duration {
	return c.Now().Sub(epoch)
}

func testService(name string, order int) fleet.Service {
	return fleet.Service{
		Name:       name,
		Context:    "apps/" + name,
		Port:       8080,
		HealthPath: "/health",
		Order:      order,
	}
}

func testFleet(services ...fleet.Service) *fleet.Config {
	cfg := &fleet.Config{
		ConfigVersion: fleet.ConfigVersion,
		Cluster:       "ecs-modernization-cluster",
		Registry:      fleet.Registry{Host: "123456789012.dkr.ecr.us-east-1.amazonaws.com", Prefix: "ecs-modernization"},
		Endpoint:      "http://modernization-alb-123.us-east-1.elb.amazonaws.com",
		Services:      services,
	}
	if err := cfg.ApplyDefaults(); err != nil {
		panic(err)
	}
	return cfg
}

func publisher(cfg *fleet.Config) *registrymock.Publisher {
	return &registrymock.Publisher{
		PublishFunc: func(ctx context.Context, svc fleet.Service, tag string) (registry.Artifact, error) {
			return registry.Artifact{Ref: svc.ImageName(cfg.Registry).ToRef(tag)}, nil
		},
	}
}

type healthFunc func(service string) error

func (f healthFunc) Probe(ctx context.Context, service, url string, p fleet.Policy) error {
	return f(service)
}

func healthy(string) error { return nil }

type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) LogEvent(e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) ofType(t string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []event.Event
	for _, e := range r.events {
		if e.Type == t {
			events = append(events, e)
		}
	}
	return events
}

type metric struct {
	name  string
	value float64
	dims  map[string]string
}

type sinkRecorder struct {
	mu      sync.Mutex
	metrics []metric
}

func (s *sinkRecorder) PutMetric(namespace, name string, value float64, dims map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metric{name, value, dims})
}

func (s *sinkRecorder) named(name string) []metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ms []metric
	for _, m := range s.metrics {
		if m.name == name {
			ms = append(ms, m)
		}
	}
	return ms
}

// coordinator returns a Coordinator over p with fake time, a
// publisher that always succeeds, and healthy services.
func coordinator(cfg *fleet.Config, p platform.Platform, clk *clock) (*Coordinator, *eventRecorder, *sinkRecorder) {
	c := NewCoordinator(cfg, p, publisher(cfg), healthFunc(healthy), log.NewNopLogger())
	events, sink := &eventRecorder{}, &sinkRecorder{}
	c.Events = events
	c.Sink = sink
	c.Sleep = clk.Sleep
	c.Now = clk.Now
	c.NewRunID = func() string { return "run-1" }
	return c, events, sink
}
