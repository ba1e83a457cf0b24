package rollout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	ecserrors "github.com/fluxcd/ecsroll/pkg/errors"
	"github.com/fluxcd/ecsroll/pkg/event"
	"github.com/fluxcd/ecsroll/pkg/fleet"
	"github.com/fluxcd/ecsroll/pkg/image"
	fluxmetrics "github.com/fluxcd/ecsroll/pkg/metrics"
	"github.com/fluxcd/ecsroll/pkg/platform"
	"github.com/fluxcd/ecsroll/pkg/policy"
	"github.com/fluxcd/ecsroll/pkg/registry"
)

// Coordinator drives the services of a fleet through publish, update,
// watch, probe and, when needed, rollback, and accounts for the
// outcome of each.
type Coordinator struct {
	Fleet     *fleet.Config
	Platform  platform.Platform
	Publisher registry.Publisher
	Health    HealthChecker
	Sink      fluxmetrics.Sink
	Events    event.EventWriter
	Logger    log.Logger
	Sleep     SleepFunc
	Now       func() time.Time
	NewRunID  func() string
	// OnOutcome, if set, is called as each outcome is recorded.
	OnOutcome func(Outcome)

	locks serviceLocks
}

func NewCoordinator(cfg *fleet.Config, p platform.Platform, pub registry.Publisher, health HealthChecker, logger log.Logger) *Coordinator {
	return &Coordinator{
		Fleet:     cfg,
		Platform:  p,
		Publisher: pub,
		Health:    health,
		Sink:      fluxmetrics.Nop{},
		Events:    event.LogWriter{Logger: logger},
		Logger:    logger,
		Sleep:     Sleep,
		Now:       time.Now,
		NewRunID:  func() string { return uuid.New().String() },
	}
}

func (c *Coordinator) updater() *Updater {
	return &Updater{Platform: c.Platform, Logger: c.Logger, Now: c.Now}
}

func (c *Coordinator) watcher() *Watcher {
	return &Watcher{Platform: c.Platform, Sleep: c.Sleep, Logger: c.Logger}
}

func (c *Coordinator) rollbacker() *RollbackController {
	return &RollbackController{Platform: c.Platform, Watcher: c.watcher(), Logger: c.Logger, Now: c.Now}
}

// recorder accumulates the outcomes of a run, from however many
// goroutines.
type recorder struct {
	mu        sync.Mutex
	outcomes  []Outcome
	onOutcome func(Outcome)
}

func (r *recorder) record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	if r.onOutcome != nil {
		r.onOutcome(o)
	}
}

func (r *recorder) failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outcomes {
		if o.State != StateSuccess {
			return true
		}
	}
	return false
}

func (r *recorder) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

func checkTag(tag string) error {
	if err := (image.Ref{Tag: tag}).Deployable(); err != nil {
		return ecserrors.PreconditionFailed(err)
	}
	return nil
}

// DeployAll deploys tag to every service in the fleet, in order.
func (c *Coordinator) DeployAll(ctx context.Context, tag string) (Summary, error) {
	if err := checkTag(tag); err != nil {
		return Summary{}, err
	}
	return c.run(ctx, event.EventDeploy, c.Fleet.Ordered(), func(ctx context.Context, svc fleet.Service) Outcome {
		return c.deployService(ctx, svc, tag, false)
	})
}

// Deploy deploys tag to one service. If the service already runs
// exactly that image, and is settled, nothing is done.
func (c *Coordinator) Deploy(ctx context.Context, name, tag string) (Summary, error) {
	if err := checkTag(tag); err != nil {
		return Summary{}, err
	}
	svc, ok := c.Fleet.Lookup(name)
	if !ok {
		return Summary{}, ecserrors.PreconditionFailed(fmt.Errorf("service %q is not in the fleet", name))
	}
	return c.run(ctx, event.EventDeploy, []fleet.Service{svc}, func(ctx context.Context, svc fleet.Service) Outcome {
		return c.deployService(ctx, svc, tag, true)
	})
}

// RollbackService returns one service to its previous revision.
func (c *Coordinator) RollbackService(ctx context.Context, name string) (Summary, error) {
	svc, ok := c.Fleet.Lookup(name)
	if !ok {
		return Summary{}, ecserrors.PreconditionFailed(fmt.Errorf("service %q is not in the fleet", name))
	}
	return c.run(ctx, event.EventRollback, []fleet.Service{svc}, c.rollbackService)
}

func (c *Coordinator) run(ctx context.Context, kind string, services []fleet.Service, do func(context.Context, fleet.Service) Outcome) (Summary, error) {
	if len(services) == 0 {
		return Summary{}, ecserrors.PreconditionFailed(errors.New("the fleet has no services"))
	}
	if err := c.Platform.Ping(ctx); err != nil {
		return Summary{}, ecserrors.PreconditionFailed(err)
	}

	runID := c.NewRunID()
	started := c.Now()
	logger := log.With(c.Logger, "run", runID)
	logger.Log("run", kind, "services", len(services), "concurrency", c.Fleet.Run.Concurrency)

	rec := &recorder{onOutcome: c.OnOutcome}
	// Once started, a service is seen through to an outcome even if
	// the run is cancelled.
	work := context.WithoutCancel(ctx)
	halted := func() bool {
		return ctx.Err() != nil || (c.Fleet.Run.HaltOnFailure && rec.failed())
	}
	deploy := func(svc fleet.Service) {
		if halted() {
			o := Outcome{Service: svc.Name, State: StateSkipped}
			c.reportService(runID, kind, o)
			rec.record(o)
			return
		}
		o := do(work, svc)
		c.reportService(runID, kind, o)
		rec.record(o)
	}

	if c.Fleet.Run.Concurrency <= 1 {
		for i, svc := range services {
			if pause := c.Fleet.Run.PauseBetween(); i > 0 && pause > 0 && !halted() {
				// an interrupted pause leaves the remaining services skipped
				_ = c.Sleep(ctx, pause)
			}
			deploy(svc)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(c.Fleet.Run.Concurrency)
		for _, svc := range services {
			svc := svc
			g.Go(func() error {
				deploy(svc)
				return nil
			})
		}
		g.Wait()
	}

	var order []string
	for _, svc := range services {
		order = append(order, svc.Name)
	}
	outcomes := rec.all()
	sortOutcomes(outcomes, order)
	summary := Summarize(runID, started, c.Now().Sub(started), outcomes)
	c.reportFleet(summary)
	logger.Log("run", "finished", "elapsed", summary.Elapsed, "failed", summary.Failed())
	return summary, nil
}

// stage times one stage of a deployment.
func (c *Coordinator) stage(name string, begin time.Time, err error) {
	stageDuration.With(
		fluxmetrics.LabelStage, name,
		fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(c.Now().Sub(begin).Seconds())
}

// running returns the image the service runs, if it is settled.
func (c *Coordinator) running(ctx context.Context, svc fleet.Service) (image.Ref, bool) {
	state, err := c.Platform.Describe(ctx, svc.Name)
	if err != nil || !state.Settled() {
		return image.Ref{}, false
	}
	ref, err := c.Platform.ContainerImage(ctx, state.Revision, svc.ContainerName())
	if err != nil {
		return image.Ref{}, false
	}
	return ref, true
}

func (c *Coordinator) deployService(ctx context.Context, svc fleet.Service, tag string, skipUnchanged bool) Outcome {
	unlock := c.locks.Lock(svc.Name)
	defer unlock()

	started := c.Now()
	pol := c.Fleet.PolicyFor(svc)
	logger := log.With(c.Logger, "service", svc.Name, "tag", tag)
	out := Outcome{Service: svc.Name, Tag: tag}
	finish := func(o Outcome) Outcome {
		o.Duration = c.Now().Sub(started)
		logger.Log("outcome", o.State, "attempts", o.Attempts, "duration", o.Duration, "err", o.Err)
		return o
	}

	if pattern := svc.Tags.Pattern(); !policy.Accepts(pattern, tag) {
		out.State = StateFailed
		return finish(out.withErr(ecserrors.PreconditionFailed(fmt.Errorf("tag %q does not match %s", tag, pattern))))
	}
	target := svc.ImageName(c.Fleet.Registry).ToRef(tag)
	if skipUnchanged {
		if ref, ok := c.running(ctx, svc); ok && ref.String() == target.String() {
			logger.Log("info", "already running; nothing to do")
			out.State = StateSuccess
			return finish(out)
		}
	}

	begin := c.Now()
	artifact, err := c.Publisher.Publish(ctx, svc, tag)
	c.stage(stagePublish, begin, err)
	if err != nil {
		out.State = StateFailed
		return finish(out.withErr(err))
	}

	begin = c.Now()
	handle, err := c.updater().Update(ctx, svc, artifact.Ref)
	c.stage(stageUpdate, begin, err)
	if err != nil {
		out.State = StateFailed
		return finish(out.withErr(err))
	}
	out.Attempts = 1
	out.Revision = handle.Revision.Number
	out.Previous = handle.Previous.Number

	begin = c.Now()
	_, err = c.watcher().Watch(ctx, handle, pol)
	c.stage(stageWatch, begin, err)
	if err == nil {
		begin = c.Now()
		err = c.Health.Probe(ctx, svc.Name, svc.HealthURL(c.Fleet.Endpoint), pol)
		c.stage(stageProbe, begin, err)
		if err != nil && pol.HealthFailureAction == fleet.HealthActionWarn {
			logger.Log("warning", "health checks failed; keeping the rollout", "err", err)
			out.Degraded = true
			err = nil
		}
	}
	if err == nil {
		out.State = StateSuccess
		return finish(out)
	}

	out = out.withErr(err)
	out.State = StateFailed
	if ecserrors.IsRolloutTimeout(err) {
		out.State = StateTimeout
	}
	if !ecserrors.TriggersRollback(err) || !pol.RollbackEnabled() {
		c.retire(ctx, logger, handle.Revision)
		return finish(out)
	}

	begin = c.Now()
	rb, rerr := c.rollbacker().Rollback(ctx, svc, pol)
	c.stage(stageRollback, begin, rerr)
	if rb.Request.Kind == RequestRollback {
		out.Attempts++
		out.rolledBackFrom = rb.Previous.Number
	}
	if rerr != nil {
		// The original failure state stands; the service needs an
		// operator.
		out = out.withErr(rerr)
		out.Critical = true
		c.retire(ctx, logger, handle.Revision)
		return finish(out)
	}
	out.State = StateRolledBack
	out.Revision = rb.Revision.Number
	return finish(out)
}

// retire deregisters a revision whose rollout did not succeed, so it
// is never picked as a rollback target. A service still running it
// carries on.
func (c *Coordinator) retire(ctx context.Context, logger log.Logger, rev platform.Revision) {
	if err := c.Platform.DeregisterRevision(ctx, rev); err != nil {
		logger.Log("warning", "could not deregister revision", "revision", rev, "err", err)
	}
}

func (c *Coordinator) rollbackService(ctx context.Context, svc fleet.Service) Outcome {
	unlock := c.locks.Lock(svc.Name)
	defer unlock()

	started := c.Now()
	rb, err := c.rollbacker().Rollback(ctx, svc, c.Fleet.PolicyFor(svc))
	c.stage(stageRollback, started, err)
	out := Outcome{Service: svc.Name, State: StateSuccess}
	if rb.Request.Kind == RequestRollback {
		out.Attempts = 1
		out.Revision = rb.Revision.Number
		out.Previous = rb.Previous.Number
		out.rolledBackFrom = rb.Previous.Number
	}
	if err != nil {
		out = out.withErr(err)
		out.State = StateFailed
		out.Critical = ecserrors.IsRollbackFailed(err)
	}
	out.Duration = c.Now().Sub(started)
	return out
}

func logLevel(o Outcome) string {
	switch {
	case o.State == StateSuccess && !o.Degraded:
		return event.LogLevelInfo
	case o.State == StateSuccess, o.State == StateRolledBack, o.State == StateSkipped:
		return event.LogLevelWarn
	}
	return event.LogLevelError
}

// reportService publishes the per-service metrics and event.
// Failures to do so are logged and otherwise ignored.
func (c *Coordinator) reportService(runID, kind string, o Outcome) {
	deploymentDuration.With(
		fluxmetrics.LabelService, o.Service,
		fluxmetrics.LabelOutcome, string(o.State),
	).Observe(o.Duration.Seconds())

	ns := c.Fleet.Metrics.Namespace
	dims := map[string]string{fluxmetrics.LabelService: o.Service}
	c.Sink.PutMetric(ns, fluxmetrics.MetricDeploymentDuration, o.Duration.Seconds(), dims)
	success := 0.0
	if o.State == StateSuccess {
		success = 1
	}
	c.Sink.PutMetric(ns, fluxmetrics.MetricDeploymentSuccess, success, dims)

	ended := c.Now()
	metadata := &event.DeployEventMetadata{
		Tag:              o.Tag,
		Revision:         o.Revision,
		PreviousRevision: o.Previous,
		Outcome:          string(o.State),
		Attempts:         o.Attempts,
		Degraded:         o.Degraded,
		Error:            firstLine(o.Error),
	}
	if o.Tag != "" {
		metadata.Image = c.serviceImage(o.Service, o.Tag)
	}
	c.logEvent(event.Event{
		ID:         runID + "/" + o.Service,
		ServiceIDs: []string{o.Service},
		Type:       kind,
		StartedAt:  ended.Add(-o.Duration),
		EndedAt:    ended,
		LogLevel:   logLevel(o),
		Metadata:   metadata,
	})

	if kind == event.EventDeploy && o.rolledBackFrom != 0 {
		c.logEvent(event.Event{
			ID:         runID + "/" + o.Service + "/rollback",
			ServiceIDs: []string{o.Service},
			Type:       event.EventRollback,
			StartedAt:  ended,
			EndedAt:    ended,
			LogLevel:   logLevel(o),
			Metadata: &event.DeployEventMetadata{
				Revision:         o.Revision,
				PreviousRevision: o.rolledBackFrom,
				Outcome:          string(o.State),
				Attempts:         o.Attempts,
				Error:            firstLine(o.Error),
			},
		})
	}
}

func (c *Coordinator) serviceImage(name, tag string) string {
	svc, ok := c.Fleet.Lookup(name)
	if !ok {
		return ""
	}
	return svc.ImageName(c.Fleet.Registry).ToRef(tag).String()
}

func (c *Coordinator) reportFleet(s Summary) {
	for _, state := range States {
		fleetOutcomes.With(fluxmetrics.LabelOutcome, string(state)).Set(float64(s.Counts[state]))
	}

	ns := c.Fleet.Metrics.Namespace
	dims := map[string]string{"cluster": c.Fleet.Cluster}
	c.Sink.PutMetric(ns, fluxmetrics.MetricFleetDuration, s.Elapsed.Seconds(), dims)
	c.Sink.PutMetric(ns, fluxmetrics.MetricFleetSuccessCount, float64(s.Counts[StateSuccess]), dims)
	c.Sink.PutMetric(ns, fluxmetrics.MetricFleetFailureCount, float64(len(s.Outcomes)-s.Counts[StateSuccess]), dims)

	level := event.LogLevelInfo
	switch {
	case len(s.Critical) > 0:
		level = event.LogLevelError
	case s.Failed():
		level = event.LogLevelWarn
	}
	var services []string
	for _, o := range s.Outcomes {
		services = append(services, o.Service)
	}
	c.logEvent(event.Event{
		ID:         s.RunID,
		ServiceIDs: services,
		Type:       event.EventFleet,
		StartedAt:  s.StartedAt,
		EndedAt:    s.StartedAt.Add(s.Elapsed),
		LogLevel:   level,
		Metadata: &event.FleetEventMetadata{
			RunID:    s.RunID,
			Counts:   s.StringCounts(),
			Critical: s.Critical,
		},
	})
}

func (c *Coordinator) logEvent(e event.Event) {
	if err := c.Events.LogEvent(e); err != nil {
		c.Logger.Log("warning", "event not recorded", "event", e.ID, "err", err)
	}
}

// Status is a service as the platform sees it now.
type Status struct {
	Service     string                `json:"service" yaml:"service"`
	Revision    int                   `json:"revision,omitempty" yaml:"revision,omitempty"`
	Image       string                `json:"image,omitempty" yaml:"image,omitempty"`
	Rollout     platform.RolloutState `json:"rollout,omitempty" yaml:"rollout,omitempty"`
	Deployments int                   `json:"deployments" yaml:"deployments"`
	Error       string                `json:"error,omitempty" yaml:"error,omitempty"`
}

func (s Status) Row() []string {
	rev := ""
	if s.Revision != 0 {
		rev = strconv.Itoa(s.Revision)
	}
	return []string{s.Service, rev, s.Image, string(s.Rollout), strconv.Itoa(s.Deployments), s.Error}
}

// Status reports every service in the fleet, in order.
func (c *Coordinator) Status(ctx context.Context) []Status {
	var statuses []Status
	for _, svc := range c.Fleet.Ordered() {
		st := Status{Service: svc.Name}
		state, err := c.Platform.Describe(ctx, svc.Name)
		if err != nil {
			st.Error = platformError(svc.Name, err).Error()
			statuses = append(statuses, st)
			continue
		}
		st.Revision = state.Revision.Number
		st.Deployments = len(state.Deployments)
		if primary, ok := state.Primary(); ok {
			st.Rollout = primary.RolloutState
		}
		if ref, err := c.Platform.ContainerImage(ctx, state.Revision, svc.ContainerName()); err == nil {
			st.Image = ref.String()
		} else {
			st.Error = err.Error()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Verify checks that every service in the fleet exists on the
// platform.
func (c *Coordinator) Verify(ctx context.Context) error {
	if err := c.Platform.Ping(ctx); err != nil {
		return ecserrors.PreconditionFailed(err)
	}
	var missing []string
	for _, svc := range c.Fleet.Ordered() {
		if _, err := c.Platform.Describe(ctx, svc.Name); err != nil {
			missing = append(missing, fmt.Sprintf("%s: %v", svc.Name, platformError(svc.Name, err)))
		}
	}
	if len(missing) > 0 {
		return ecserrors.PreconditionFailed(fmt.Errorf("services not available:\n  %s", strings.Join(missing, "\n  ")))
	}
	return nil
}
