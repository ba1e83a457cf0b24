package rollout

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	ecserrors "github.com/fluxcd/ecsroll/pkg/errors"
	"github.com/fluxcd/ecsroll/pkg/fleet"
	"github.com/fluxcd/ecsroll/pkg/platform"
)

// SleepFunc waits for d, or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the SleepFunc that uses the wall clock.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WatchResult is what a Watcher saw of a rollout.
type WatchResult struct {
	// State is the furthest state observed; it never goes backwards.
	State platform.RolloutState `json:"state"`
	// TimedOut is set when no terminal state was observed within the
	// poll budget.
	TimedOut bool `json:"timedOut"`
	Polls    int  `json:"polls"`
	// Waited is the time spent between polls.
	Waited time.Duration `json:"waited"`
}

// Watcher polls the platform until a rollout is terminal or the poll
// budget runs out.
type Watcher struct {
	Platform platform.Platform
	Sleep    SleepFunc
	Logger   log.Logger
}

// observe reads the state of the rollout of handle. A PRIMARY
// deployment on some other revision means the platform hasn't picked
// the request up yet.
func (w *Watcher) observe(ctx context.Context, h TaskHandle) (platform.RolloutState, error) {
	state, err := w.Platform.Describe(ctx, h.Request.Service)
	if err != nil {
		return "", err
	}
	primary, ok := state.Primary()
	if !ok || primary.Revision.Family != h.Revision.Family || primary.Revision.Number != h.Revision.Number {
		return platform.RolloutPending, nil
	}
	return primary.RolloutState, nil
}

// Watch returns nil once the rollout is COMPLETED, a RolloutFailed
// error if the platform reports it FAILED, and a RolloutTimeout error
// after p.MaxPolls polls without either.
func (w *Watcher) Watch(ctx context.Context, h TaskHandle, p fleet.Policy) (WatchResult, error) {
	logger := log.With(w.Logger, "service", h.Request.Service, "request", h.Request.Key(), "revision", h.Revision.Number)
	var res WatchResult
	for poll := 1; poll <= p.MaxPolls; poll++ {
		res.Polls = poll
		state, err := w.observe(ctx, h)
		switch {
		case err != nil:
			logger.Log("poll", poll, "err", err)
		case res.State.Advances(state):
			res.State = state
			logger.Log("poll", poll, "state", state)
		}

		switch res.State {
		case platform.RolloutCompleted:
			return res, nil
		case platform.RolloutFailed:
			return res, ecserrors.Failed(h.Request.Service, h.Revision.String())
		}

		if err := w.Sleep(ctx, p.PollInterval.Std()); err != nil {
			return res, err
		}
		res.Waited += p.PollInterval.Std()
	}
	res.TimedOut = true
	logger.Log("state", res.State, "timeout", res.Waited)
	return res, ecserrors.Timeout(h.Request.Service, h.Revision.String(), res.Polls)
}
