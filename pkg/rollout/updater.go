package rollout

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/kit/log"

	ecserrors "github.com/fluxcd/ecsroll/pkg/errors"
	"github.com/fluxcd/ecsroll/pkg/fleet"
	"github.com/fluxcd/ecsroll/pkg/image"
	"github.com/fluxcd/ecsroll/pkg/platform"
)

// Updater points a service at a new image. It does not wait for the
// rollout; that is the Watcher's job.
type Updater struct {
	Platform platform.Platform
	Logger   log.Logger
	Now      func() time.Time
}

// platformError gives errors from the platform their kind.
func platformError(service string, err error) error {
	if errors.Is(err, platform.ErrServiceNotFound) {
		return ecserrors.ServiceMissing(service)
	}
	var typed *ecserrors.Error
	if errors.As(err, &typed) {
		return err
	}
	return ecserrors.Unavailable(service, err)
}

// Update registers a revision of the service's task definition that
// runs ref, and asks the platform to roll the service onto it.
func (u *Updater) Update(ctx context.Context, svc fleet.Service, ref image.Ref) (TaskHandle, error) {
	if err := ref.Deployable(); err != nil {
		return TaskHandle{}, ecserrors.PreconditionFailed(err)
	}
	state, err := u.Platform.Describe(ctx, svc.Name)
	if err != nil {
		return TaskHandle{}, platformError(svc.Name, err)
	}

	rev, err := u.Platform.RegisterRevision(ctx, state.Revision, svc.ContainerName(), ref)
	if err != nil {
		return TaskHandle{}, platformError(svc.Name, err)
	}
	handle := TaskHandle{
		Request: Request{
			Service:     svc.Name,
			Tag:         ref.Tag,
			Kind:        RequestDeploy,
			RequestedAt: u.Now(),
		},
		Revision: rev,
		Previous: state.Revision,
		Ref:      ref,
	}
	if err := u.Platform.UpdateService(ctx, svc.Name, platform.UpdateSpec{Revision: rev, ForceNewDeployment: true}); err != nil {
		// Never run, so it must not be taken for a good revision later.
		if derr := u.Platform.DeregisterRevision(ctx, rev); derr != nil {
			u.Logger.Log("service", svc.Name, "warning", "could not deregister unused revision", "revision", rev, "err", derr)
		}
		return TaskHandle{}, platformError(svc.Name, err)
	}
	u.Logger.Log("service", svc.Name, "request", handle.Request.Key(), "revision", rev.Number, "previous", state.Revision.Number)
	return handle, nil
}
