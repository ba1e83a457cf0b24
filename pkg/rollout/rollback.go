package rollout

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	ecserrors "github.com/fluxcd/ecsroll/pkg/errors"
	"github.com/fluxcd/ecsroll/pkg/fleet"
	"github.com/fluxcd/ecsroll/pkg/platform"
)

// LastKnownGood is the newest active revision of current's family
// that is older than current.
func LastKnownGood(ctx context.Context, p platform.Platform, service string, current platform.Revision) (platform.Revision, error) {
	revisions, err := p.Revisions(ctx, current.Family)
	if err != nil {
		return platform.Revision{}, platformError(service, err)
	}
	for _, rev := range revisions {
		if rev.Number < current.Number {
			return rev, nil
		}
	}
	return platform.Revision{}, ecserrors.NoPrior(service, current.String())
}

// RollbackController returns a service to the revision it ran before
// its current one.
type RollbackController struct {
	Platform platform.Platform
	Watcher  *Watcher
	Logger   log.Logger
	Now      func() time.Time
}

// Rollback issues the rollback and watches it with the same budget as
// any rollout. If there's no revision to go back to, nothing is
// issued and the returned handle is zero. Any other failure once the
// rollback has been issued is a RollbackFailed error.
func (r *RollbackController) Rollback(ctx context.Context, svc fleet.Service, p fleet.Policy) (TaskHandle, error) {
	state, err := r.Platform.Describe(ctx, svc.Name)
	if err != nil {
		return TaskHandle{}, ecserrors.Rollback(svc.Name, platformError(svc.Name, err))
	}
	target, err := LastKnownGood(ctx, r.Platform, svc.Name, state.Revision)
	if err != nil {
		if ecserrors.IsNoPriorRevision(err) {
			return TaskHandle{}, err
		}
		return TaskHandle{}, ecserrors.Rollback(svc.Name, err)
	}

	handle := TaskHandle{
		Request: Request{
			Service:     svc.Name,
			Kind:        RequestRollback,
			RequestedAt: r.Now(),
		},
		Revision: target,
		Previous: state.Revision,
	}
	logger := log.With(r.Logger, "service", svc.Name, "from", state.Revision.Number, "to", target.Number)
	logger.Log("rollback", "issued")
	if err := r.Platform.UpdateService(ctx, svc.Name, platform.UpdateSpec{Revision: target, ForceNewDeployment: true}); err != nil {
		return handle, ecserrors.Rollback(svc.Name, platformError(svc.Name, err))
	}
	if _, err := r.Watcher.Watch(ctx, handle, p); err != nil {
		logger.Log("rollback", "failed", "err", err)
		return handle, ecserrors.Rollback(svc.Name, err)
	}

	// The revision rolled away from is retired, so the next rollback
	// goes to the last good revision rather than back to this one.
	if err := r.Platform.DeregisterRevision(ctx, state.Revision); err != nil {
		logger.Log("warning", "could not deregister revision", "revision", state.Revision, "err", err)
	}
	logger.Log("rollback", "completed")
	return handle, nil
}
