// Package registry builds service images and publishes them to the
// container registry the platform pulls from.
package registry

import (
	"context"
	"regexp"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	ecserrors "github.com/fluxcd/ecsroll/pkg/errors"
	"github.com/fluxcd/ecsroll/pkg/fleet"
	"github.com/fluxcd/ecsroll/pkg/image"
)

// Artifact is an image that has been built and pushed. Ref always
// carries the explicit tag it was published under, never latest.
type Artifact struct {
	Ref    image.Ref     `json:"ref"`
	Digest digest.Digest `json:"digest,omitempty"`
}

// Publisher turns a service's build context into an Artifact in the
// registry.
type Publisher interface {
	Publish(ctx context.Context, svc fleet.Service, tag string) (Artifact, error)
}

// Authenticator obtains registry credentials.
type Authenticator interface {
	Login(ctx context.Context) error
}

var pushDigest = regexp.MustCompile(`digest: (sha256:[a-f0-9]{64})`)

// Docker publishes by running the docker CLI.
type Docker struct {
	Registry fleet.Registry
	Auth     Authenticator
	Runner   Runner
	Logger   log.Logger

	mu       sync.Mutex
	loggedIn bool
}

var _ Publisher = &Docker{}

func NewDocker(reg fleet.Registry, auth Authenticator, runner Runner, logger log.Logger) *Docker {
	return &Docker{Registry: reg, Auth: auth, Runner: runner, Logger: logger}
}

// login authenticates once per process; a failed login is tried again
// by the next publish.
func (d *Docker) login(ctx context.Context) error {
	if d.Auth == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loggedIn {
		return nil
	}
	if err := d.Auth.Login(ctx); err != nil {
		return err
	}
	d.loggedIn = true
	return nil
}

func (d *Docker) Publish(ctx context.Context, svc fleet.Service, tag string) (Artifact, error) {
	ref := svc.ImageName(d.Registry).ToRef(tag)
	if err := ref.Deployable(); err != nil {
		return Artifact{}, ecserrors.Build(svc.Name, err)
	}
	latest := ref.WithNewTag(image.LatestTag)
	logger := log.With(d.Logger, "service", svc.Name, "ref", ref.String())

	args := []string{"build", "-t", ref.String(), "-t", latest.String()}
	if svc.Dockerfile != "" {
		args = append(args, "-f", svc.Dockerfile)
	}
	args = append(args, svc.Context)
	logger.Log("stage", "build")
	if _, err := d.Runner.Run(ctx, nil, "docker", args...); err != nil {
		return Artifact{}, ecserrors.Build(svc.Name, err)
	}

	if err := d.login(ctx); err != nil {
		return Artifact{}, ecserrors.Publish(svc.Name, err)
	}

	logger.Log("stage", "push")
	out, err := d.Runner.Run(ctx, nil, "docker", "push", ref.String())
	if err != nil {
		return Artifact{}, ecserrors.Publish(svc.Name, err)
	}
	artifact := Artifact{Ref: ref}
	if m := pushDigest.FindSubmatch(out); m != nil {
		dgst, err := digest.Parse(string(m[1]))
		if err != nil {
			return Artifact{}, ecserrors.Publish(svc.Name, errors.Wrap(err, "parsing pushed digest"))
		}
		artifact.Digest = dgst
	}
	if _, err := d.Runner.Run(ctx, nil, "docker", "push", latest.String()); err != nil {
		return Artifact{}, ecserrors.Publish(svc.Name, err)
	}
	logger.Log("stage", "published", "digest", artifact.Digest)
	return artifact, nil
}
