package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fluxcd/ecsroll/pkg/image"
	"github.com/fluxcd/ecsroll/pkg/platform"
)

// ScriptFunc decides the rollout state the PRIMARY deployment of a
// service reports on the nth Describe (counting from 1) since the
// service was last updated to rev.
type ScriptFunc func(service string, rev platform.Revision, poll int) platform.RolloutState

// CompletesAfter is a script where every rollout reports IN_PROGRESS
// until the nth poll, which reports COMPLETED.
func CompletesAfter(n int) ScriptFunc {
	return func(_ string, _ platform.Revision, poll int) platform.RolloutState {
		if poll >= n {
			return platform.RolloutCompleted
		}
		return platform.RolloutInProgress
	}
}

type Update struct {
	Service string
	Spec    platform.UpdateSpec
}

type fakeService struct {
	current      platform.Revision
	revisions    map[int]platform.Revision
	images       map[int]image.Ref
	deregistered map[int]bool
	previous     *platform.Revision
	polls        int
}

// Fake is an in-memory platform keeping task definition history per
// service, enough to exercise deploy and rollback end to end.
type Fake struct {
	Script ScriptFunc
	// DescribeErr, if set, may fail a Describe call.
	DescribeErr func(service string) error

	mu           sync.Mutex
	services     map[string]*fakeService
	Updates      []Update
	Registered   []platform.Revision
	Deregistered []platform.Revision
}

var _ platform.Platform = &Fake{}

func NewFake(script ScriptFunc) *Fake {
	return &Fake{Script: script, services: map[string]*fakeService{}}
}

func revisionID(family string, n int) string {
	return fmt.Sprintf("arn:aws:ecs:us-east-1:123456789012:task-definition/%s:%d", family, n)
}

// AddService adds a service whose family (named after the service)
// already has the given revision numbers, all running ref; the
// highest is current and settled.
func (f *Fake) AddService(name string, ref image.Ref, numbers ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeService{
		revisions:    map[int]platform.Revision{},
		images:       map[int]image.Ref{},
		deregistered: map[int]bool{},
	}
	for _, n := range numbers {
		rev := platform.Revision{ID: revisionID(name, n), Family: name, Number: n}
		s.revisions[n] = rev
		s.images[n] = ref
		if n >= s.current.Number {
			s.current = rev
		}
	}
	f.services[name] = s
}

// Current returns the revision a service runs now.
func (f *Fake) Current(name string) platform.Revision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.services[name].current
}

func (f *Fake) UpdatesFor(name string) []Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	var updates []Update
	for _, u := range f.Updates {
		if u.Service == name {
			updates = append(updates, u)
		}
	}
	return updates
}

func (f *Fake) Ping(ctx context.Context) error {
	return nil
}

func (f *Fake) Describe(ctx context.Context, service string) (platform.ServiceState, error) {
	if f.DescribeErr != nil {
		if err := f.DescribeErr(service); err != nil {
			return platform.ServiceState{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[service]
	if !ok {
		return platform.ServiceState{}, platform.ErrServiceNotFound
	}

	state := platform.RolloutCompleted
	if s.previous != nil {
		s.polls++
		if f.Script != nil {
			state = f.Script(service, s.current, s.polls)
		}
	}
	primary := platform.Deployment{
		ID:           fmt.Sprintf("ecs-svc/%s-%d", service, s.current.Number),
		Status:       platform.DeploymentPrimary,
		Revision:     s.current,
		RolloutState: state,
		Desired:      2,
	}
	st := platform.ServiceState{Service: service, Revision: s.current}
	if state == platform.RolloutCompleted {
		primary.Running = 2
		st.Deployments = []platform.Deployment{primary}
	} else {
		st.Deployments = []platform.Deployment{primary, {
			ID:           fmt.Sprintf("ecs-svc/%s-%d", service, s.previous.Number),
			Status:       platform.DeploymentActive,
			Revision:     *s.previous,
			RolloutState: platform.RolloutCompleted,
			Desired:      2,
			Running:      2,
		}}
	}
	return st, nil
}

func (f *Fake) ContainerImage(ctx context.Context, rev platform.Revision, container string) (image.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[rev.Family]
	if !ok {
		return image.Ref{}, platform.ErrServiceNotFound
	}
	ref, ok := s.images[rev.Number]
	if !ok {
		return image.Ref{}, platform.ErrContainerNotFound
	}
	return ref, nil
}

func (f *Fake) RegisterRevision(ctx context.Context, from platform.Revision, container string, ref image.Ref) (platform.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[from.Family]
	if !ok {
		return platform.Revision{}, platform.ErrServiceNotFound
	}
	next := 0
	for n := range s.revisions {
		if n > next {
			next = n
		}
	}
	next++
	rev := platform.Revision{ID: revisionID(from.Family, next), Family: from.Family, Number: next}
	s.revisions[next] = rev
	s.images[next] = ref
	f.Registered = append(f.Registered, rev)
	return rev, nil
}

func (f *Fake) UpdateService(ctx context.Context, service string, spec platform.UpdateSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[service]
	if !ok {
		return platform.ErrServiceNotFound
	}
	if _, ok := s.revisions[spec.Revision.Number]; !ok {
		return fmt.Errorf("unknown revision %s", spec.Revision)
	}
	previous := s.current
	s.previous = &previous
	s.current = s.revisions[spec.Revision.Number]
	s.polls = 0
	f.Updates = append(f.Updates, Update{Service: service, Spec: spec})
	return nil
}

func (f *Fake) Revisions(ctx context.Context, family string) ([]platform.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[family]
	if !ok {
		return nil, nil
	}
	var revs []platform.Revision
	for n, rev := range s.revisions {
		if !s.deregistered[n] {
			revs = append(revs, rev)
		}
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].Number > revs[j].Number })
	return revs, nil
}

func (f *Fake) DeregisterRevision(ctx context.Context, rev platform.Revision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.services[rev.Family]; ok {
		s.deregistered[rev.Number] = true
	}
	f.Deregistered = append(f.Deregistered, rev)
	return nil
}
