package platform

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fluxcd/ecsroll/pkg/image"
)

var (
	// ErrServiceNotFound is returned by Describe when the platform has
	// no (active) service of that name.
	ErrServiceNotFound = errors.New("service not found")
	// ErrContainerNotFound is returned when a revision has no container
	// of the requested name.
	ErrContainerNotFound = errors.New("container not found in revision")
)

// RolloutState is what the platform reports about a deployment.
// It is owned by the platform; it is only ever observed.
type RolloutState string

const (
	RolloutPending    RolloutState = "PENDING"
	RolloutInProgress RolloutState = "IN_PROGRESS"
	RolloutCompleted  RolloutState = "COMPLETED"
	RolloutFailed     RolloutState = "FAILED"
)

// Terminal is true for the states from which there is no further
// automatic transition.
func (s RolloutState) Terminal() bool {
	return s == RolloutCompleted || s == RolloutFailed
}

// rank orders states so that observations can be kept monotonic.
func (s RolloutState) rank() int {
	switch s {
	case RolloutPending:
		return 1
	case RolloutInProgress:
		return 2
	case RolloutCompleted, RolloutFailed:
		return 3
	}
	return 0
}

// Advances reports whether moving from s to next goes forward.
func (s RolloutState) Advances(next RolloutState) bool {
	return next.rank() > s.rank()
}

// Revision identifies one immutable version of a service's task
// definition. Numbers increase within a family.
type Revision struct {
	ID     string `json:"id"`
	Family string `json:"family"`
	Number int    `json:"number"`
}

func (r Revision) String() string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("%s:%d", r.Family, r.Number)
}

// ParseRevision understands task definition ARNs
// (arn:aws:ecs:<region>:<account>:task-definition/<family>:<n>) and
// the short <family>:<n> form.
func ParseRevision(s string) (Revision, error) {
	rest := s
	if i := strings.LastIndex(s, "task-definition/"); i >= 0 {
		rest = s[i+len("task-definition/"):]
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return Revision{}, fmt.Errorf("cannot parse revision from %q", s)
	}
	n, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return Revision{}, fmt.Errorf("cannot parse revision number from %q", s)
	}
	return Revision{ID: s, Family: rest[:i], Number: n}, nil
}

const (
	DeploymentPrimary = "PRIMARY"
	DeploymentActive  = "ACTIVE"
)

// Deployment is one of the (possibly several) deployments a service
// has while rolling from one revision to another.
type Deployment struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	Revision     Revision     `json:"revision"`
	RolloutState RolloutState `json:"rolloutState"`
	Desired      int          `json:"desired"`
	Running      int          `json:"running"`
	Pending      int          `json:"pending"`
}

// ServiceState is the platform's view of a service.
type ServiceState struct {
	Service     string       `json:"service"`
	Revision    Revision     `json:"revision"`
	Deployments []Deployment `json:"deployments"`
}

// Primary returns the PRIMARY deployment, which is the one running
// the service's current revision.
func (s ServiceState) Primary() (Deployment, bool) {
	for _, d := range s.Deployments {
		if d.Status == DeploymentPrimary {
			return d, true
		}
	}
	return Deployment{}, false
}

// Settled is true when the service runs only its current revision
// and the platform considers that rollout complete.
func (s ServiceState) Settled() bool {
	p, ok := s.Primary()
	return ok && len(s.Deployments) == 1 && p.RolloutState == RolloutCompleted && p.Revision.ID == s.Revision.ID
}

type UpdateSpec struct {
	Revision           Revision
	ForceNewDeployment bool
}

// Platform is the runtime platform control API the orchestrator
// drives. Implementations are bound to one cluster.
type Platform interface {
	// Ping checks credentials and that the cluster is reachable.
	Ping(ctx context.Context) error
	Describe(ctx context.Context, service string) (ServiceState, error)
	// ContainerImage returns the image a container of a revision runs.
	ContainerImage(ctx context.Context, rev Revision, container string) (image.Ref, error)
	// RegisterRevision registers a copy of `from` with the given
	// container's image replaced by ref.
	RegisterRevision(ctx context.Context, from Revision, container string, ref image.Ref) (Revision, error)
	UpdateService(ctx context.Context, service string, spec UpdateSpec) error
	// Revisions lists the active revisions of a family, newest first.
	Revisions(ctx context.Context, family string) ([]Revision, error)
	DeregisterRevision(ctx context.Context, rev Revision) error
}
