package mock

import (
	"context"

	"github.com/fluxcd/ecsroll/pkg/image"
	"github.com/fluxcd/ecsroll/pkg/platform"
)

// Mock is a platform.Platform where each method is a func field, so
// tests set only the behaviour they care about.
type Mock struct {
	PingFunc               func(ctx context.Context) error
	DescribeFunc           func(ctx context.Context, service string) (platform.ServiceState, error)
	ContainerImageFunc     func(ctx context.Context, rev platform.Revision, container string) (image.Ref, error)
	RegisterRevisionFunc   func(ctx context.Context, from platform.Revision, container string, ref image.Ref) (platform.Revision, error)
	UpdateServiceFunc      func(ctx context.Context, service string, spec platform.UpdateSpec) error
	RevisionsFunc          func(ctx context.Context, family string) ([]platform.Revision, error)
	DeregisterRevisionFunc func(ctx context.Context, rev platform.Revision) error
}

var _ platform.Platform = &Mock{}

func (m *Mock) Ping(ctx context.Context) error {
	return m.PingFunc(ctx)
}

func (m *Mock) Describe(ctx context.Context, service string) (platform.ServiceState, error) {
	return m.DescribeFunc(ctx, service)
}

func (m *Mock) ContainerImage(ctx context.Context, rev platform.Revision, container string) (image.Ref, error) {
	return m.ContainerImageFunc(ctx, rev, container)
}

func (m *Mock) RegisterRevision(ctx context.Context, from platform.Revision, container string, ref image.Ref) (platform.Revision, error) {
	return m.RegisterRevisionFunc(ctx, from, container, ref)
}

func (m *Mock) UpdateService(ctx context.Context, service string, spec platform.UpdateSpec) error {
	return m.UpdateServiceFunc(ctx, service, spec)
}

func (m *Mock) Revisions(ctx context.Context, family string) ([]platform.Revision, error) {
	return m.RevisionsFunc(ctx, family)
}

func (m *Mock) DeregisterRevision(ctx context.Context, rev platform.Revision) error {
	if m.DeregisterRevisionFunc == nil {
		return nil
	}
	return m.DeregisterRevisionFunc(ctx, rev)
}
