package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsroll/pkg/event"
	"github.com/fluxcd/ecsroll/pkg/fleet"
	"github.com/fluxcd/ecsroll/pkg/image"
	fluxmetrics "github.com/fluxcd/ecsroll/pkg/metrics"
	"github.com/fluxcd/ecsroll/pkg/platform"
	platformmock "github.com/fluxcd/ecsroll/pkg/platform/mock"
	"github.com/fluxcd/ecsroll/pkg/registry"
	registrymock "github.com/fluxcd/ecsroll/pkg/registry/mock"
	"github.com/fluxcd/ecsroll/pkg/rollout"
)

const (
	host      = "123456789012.dkr.ecr.us-east-1.amazonaws.com"
	digestHex = "sha256:0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0"
	oldTag    = "20250731-090000"
)

var started = time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)

type loggedIn struct{}

func (loggedIn) Login(ctx context.Context) error { return nil }

type healthFunc func(service string) error

func (f healthFunc) Probe(ctx context.Context, service, url string, p fleet.Policy) error {
	return f(service)
}

type harness struct {
	root   *rootOpts
	fake   *platformmock.Fake
	runner *registrymock.Runner
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	clock  time.Time
	slept  []time.Duration
}

func newHarness(script platformmock.ScriptFunc) *harness {
	h := &harness{
		fake:   platformmock.NewFake(script),
		clock:  started,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		runner: &registrymock.Runner{RunFunc: func(name string, args ...string) ([]byte, error) {
			if name == "docker" && args[0] == "push" {
				return []byte("digest: " + digestHex + " size: 1570\n"), nil
			}
			return nil, nil
		}},
	}
	for _, name := range []string{"document-archive", "inventory-tracker", "crm-system"} {
		ref := image.Name{Domain: host, Image: "ecs-modernization/" + name}.ToRef(oldTag)
		h.fake.AddService(name, ref, 40, 41)
	}

	h.root = newRoot(h.stdout, h.stderr)
	h.root.now = func() time.Time { return h.clock }
	h.root.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.clock = h.clock.Add(d)
		h.slept = append(h.slept, d)
		return nil
	}
	h.root.newBackend = func(opts *rootOpts) (*backend, error) {
		return &backend{
			Platform:  h.fake,
			Publisher: registry.NewDocker(opts.fleet.Registry, loggedIn{}, h.runner, log.NewNopLogger()),
			Health:    healthFunc(func(string) error { return nil }),
			Sink:      fluxmetrics.Nop{},
			Events:    event.LogWriter{Logger: log.NewNopLogger()},
		}, nil
	}
	return h
}

func (h *harness) execute(args ...string) int {
	return execute(h.root, append([]string{"-c", "testdata/fleet.yaml", "--log-format", "json"}, args...))
}

func TestDeployAll(t *testing.T) {
	h := newHarness(platformmock.CompletesAfter(1))

	assert.Equal(t, 0, h.execute("deploy-all"), h.stderr.String())
	out := h.stdout.String()
	assert.Contains(t, out, "3 services in 20s: SUCCESS=3")
	// default tag is the start time
	assert.Contains(t, h.runner.Commands()[0], "ecs-modernization/document-archive:20250801-100000")
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, h.slept)
	assert.Equal(t, 42, h.fake.Current("crm-system").Number)
}

func TestDeployAllRollsBackAndFails(t *testing.T) {
	h := newHarness(func(service string, rev platform.Revision, poll int) platform.RolloutState {
		if service == "inventory-tracker" && rev.Number == 42 && poll >= 2 {
			return platform.RolloutFailed
		}
		if poll >= 2 {
			return platform.RolloutCompleted
		}
		return platform.RolloutInProgress
	})

	assert.Equal(t, 1, h.execute("deploy-all", "--tag", "20250801-100000", "-o", "json"))
	var summary struct {
		Counts   map[string]int `json:"counts"`
		Outcomes []struct {
			Service  string `json:"service"`
			State    string `json:"state"`
			Revision int    `json:"revision"`
		} `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &summary))
	assert.Equal(t, map[string]int{"SUCCESS": 2, "ROLLED_BACK": 1}, summary.Counts)
	require.Len(t, summary.Outcomes, 3)
	assert.Equal(t, "inventory-tracker", summary.Outcomes[1].Service)
	assert.Equal(t, "ROLLED_BACK", summary.Outcomes[1].State)
	assert.Equal(t, 41, summary.Outcomes[1].Revision)
	// a failed run is reported by the summary alone
	assert.NotContains(t, h.stderr.String(), "Error:")
}

func TestDeployAllHaltOnFailure(t *testing.T) {
	h := newHarness(platformmock.CompletesAfter(1))
	h.fake.DescribeErr = func(service string) error {
		if service == "document-archive" {
			return platform.ErrServiceNotFound
		}
		return nil
	}

	assert.Equal(t, 1, h.execute("deploy-all", "--halt-on-failure", "-o", "yaml"))
	out := h.stdout.String()
	assert.Contains(t, out, "SKIPPED: 2")
	assert.Empty(t, h.fake.UpdatesFor("crm-system"))
}

func TestDeployOne(t *testing.T) {
	h := newHarness(platformmock.CompletesAfter(1))
	assert.Equal(t, 0, h.execute("deploy", "crm-system", "20250801-100000"), h.stderr.String())
	assert.Len(t, h.fake.Updates, 1)

	// already running that tag
	h.stdout.Reset()
	assert.Equal(t, 0, h.execute("deploy", "crm-system", "20250801-100000"))
	assert.Len(t, h.fake.Updates, 1)
}

func TestDeployUnknownService(t *testing.T) {
	h := newHarness(platformmock.CompletesAfter(1))
	assert.Equal(t, 1, h.execute("deploy", "billing", "20250801-100000"))
	assert.Contains(t, h.stderr.String(), "No service has been touched")
	assert.Empty(t, h.fake.Updates)
}

func TestDeployRejectsLatest(t *testing.T) {
	h := newHarness(platformmock.CompletesAfter(1))
	assert.Equal(t, 1, h.execute("deploy", "crm-system", "latest"))
	assert.Empty(t, h.runner.Invocations)
}

func TestRollback(t *testing.T) {
	h := newHarness(platformmock.CompletesAfter(1))
	assert.Equal(t, 0, h.execute("rollback", "crm-system"), h.stderr.String())
	assert.Equal(t, 40, h.fake.Current("crm-system").Number)
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"deploy"},
		{"deploy", "a", "b", "c"},
		{"rollback"},
		{"deploy-all", "extra"},
		{"deploy-all", "--concurrency", "0"},
		{"status", "-o", "xml"},
		{"status", "--log-format", "xml"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			h := newHarness(platformmock.CompletesAfter(1))
			assert.Equal(t, 1, h.execute(args...))
			assert.Contains(t, h.stderr.String(), "Usage:")
		})
	}
}

func TestBadConfig(t *testing.T) {
	h := newHarness(platformmock.CompletesAfter(1))
	assert.Equal(t, 1, execute(h.root, []string{"-c", "testdata/missing.yaml", "status"}))
	assert.Contains(t, h.stderr.String(), "missing.yaml")
}

func TestStatus(t *testing.T) {
	h := newHarness(platformmock.CompletesAfter(1))
	assert.Equal(t, 0, h.execute("status", "-o", "json"))
	var statuses []rollout.Status
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &statuses))
	require.Len(t, statuses, 3)
	assert.Equal(t, "document-archive", statuses[0].Service)
	assert.Equal(t, 41, statuses[0].Revision)
	assert.Equal(t, platform.RolloutCompleted, statuses[0].Rollout)

	h.stdout.Reset()
	assert.Equal(t, 0, h.execute("status"))
	assert.Contains(t, h.stdout.String(), "SERVICE")
	assert.Contains(t, h.stdout.String(), "crm-system:"+oldTag)
}

func TestValidate(t *testing.T) {
	h := newHarness(platformmock.CompletesAfter(1))
	assert.Equal(t, 0, h.execute("validate"))
	assert.Contains(t, h.stdout.String(), "3 services")
	assert.Contains(t, h.stdout.String(), "reachable")

	h = newHarness(platformmock.CompletesAfter(1))
	h.fake.DescribeErr = func(service string) error {
		if service == "crm-system" {
			return platform.ErrServiceNotFound
		}
		return nil
	}
	assert.Equal(t, 1, h.execute("validate"))
	assert.Contains(t, h.stderr.String(), "crm-system")
}

func TestClusterOverride(t *testing.T) {
	h := newHarness(platformmock.CompletesAfter(1))
	var cluster string
	newBackend := h.root.newBackend
	h.root.newBackend = func(opts *rootOpts) (*backend, error) {
		cluster = opts.fleet.Cluster
		return newBackend(opts)
	}
	assert.Equal(t, 0, h.execute("--cluster", "staging", "status"))
	assert.Equal(t, "staging", cluster)
}
