package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

func newError(kind Kind, help string, err error) *Error {
	return &Error{Kind: kind, Help: help, Err: err}
}

func Build(service string, err error) *Error {
	return newError(BuildError, fmt.Sprintf(`The container image for %q could not be built.

Check the build context and Dockerfile of the service; the build output
is included in the error below. The deployment of this service has
been abandoned for this run.`, service), errors.Wrapf(err, "building %s", service))
}

func Publish(service string, err error) *Error {
	return newError(PublishError, fmt.Sprintf(`The container image for %q could not be pushed to the registry.

This is usually an authentication or network problem. Check that the
registry credentials are valid and the registry is reachable. The
deployment of this service has been abandoned for this run.`, service), errors.Wrapf(err, "publishing %s", service))
}

func ServiceMissing(service string) *Error {
	return newError(ServiceNotFound, fmt.Sprintf(`The platform reports no service named %q.

The service may not have been provisioned yet, or the cluster name in
the fleet configuration may be wrong.`, service), fmt.Errorf("service %s not found", service))
}

func Unavailable(service string, err error) *Error {
	return newError(PlatformUnavailable, `The platform control API could not be reached or refused the request.

This may be transient; re-running the deployment is safe.`, errors.Wrapf(err, "platform request for %s", service))
}

func Timeout(service, revision string, polls int) *Error {
	return newError(RolloutTimeout, fmt.Sprintf(`The rollout of %q did not reach a terminal state in time.

An unfinished rollout is treated as failed.`, service),
		fmt.Errorf("rollout of %s to %s not terminal after %d polls", service, revision, polls))
}

func Failed(service, revision string) *Error {
	return newError(RolloutFailed, fmt.Sprintf(`The platform reported the rollout of %q as failed.

Check the stopped tasks of the service for the reason.`, service),
		fmt.Errorf("rollout of %s to %s failed", service, revision))
}

func Unhealthy(service, url string, attempts int, err error) *Error {
	return newError(HealthCheckFailed, fmt.Sprintf(`The rollout of %q completed but the service did not pass its health check.`, service),
		errors.Wrapf(err, "health check %s failed after %d attempts", url, attempts))
}

func NoPrior(service, current string) *Error {
	return newError(NoPriorRevision, fmt.Sprintf(`There is no earlier revision of %q to roll back to.

The service is left running %s. Manual intervention is required.`, service, current),
		fmt.Errorf("no revision of %s before %s", service, current))
}

func Rollback(service string, err error) *Error {
	return newError(RollbackFailed, fmt.Sprintf(`Rolling back %q did not complete.

The service is in an unknown state. Manual intervention is required.`, service),
		errors.Wrapf(err, "rolling back %s", service))
}

func PreconditionFailed(err error) *Error {
	return newError(Precondition, `The deployment could not start.

No service has been touched. Fix the problem below and try again.`, err)
}

// CoverAllError is used for errors we have no specific help for.
func CoverAllError(err error) *Error {
	return &Error{
		Err: err,
		Help: `Error: ` + err.Error() + `

We don't have a specific help message for the error above.`,
	}
}
