package mock

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/fluxcd/ecsroll/pkg/fleet"
	"github.com/fluxcd/ecsroll/pkg/registry"
)

type Publisher struct {
	PublishFunc func(ctx context.Context, svc fleet.Service, tag string) (registry.Artifact, error)
}

var _ registry.Publisher = &Publisher{}

func (m *Publisher) Publish(ctx context.Context, svc fleet.Service, tag string) (registry.Artifact, error) {
	return m.PublishFunc(ctx, svc, tag)
}

// Invocation is one command a Runner was asked to run.
type Invocation struct {
	Name  string
	Args  []string
	Stdin string
}

func (i Invocation) String() string {
	return strings.Join(append([]string{i.Name}, i.Args...), " ")
}

// Runner records invocations and answers with RunFunc, if set.
type Runner struct {
	RunFunc func(name string, args ...string) ([]byte, error)

	mu          sync.Mutex
	Invocations []Invocation
}

var _ registry.Runner = &Runner{}

func (r *Runner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	inv := Invocation{Name: name, Args: args}
	if stdin != nil {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		inv.Stdin = string(b)
	}
	r.mu.Lock()
	r.Invocations = append(r.Invocations, inv)
	r.mu.Unlock()
	if r.RunFunc == nil {
		return nil, nil
	}
	return r.RunFunc(name, args...)
}

// Commands returns the invocations as command lines.
func (r *Runner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cmds []string
	for _, i := range r.Invocations {
		cmds = append(cmds, i.String())
	}
	return cmds
}
