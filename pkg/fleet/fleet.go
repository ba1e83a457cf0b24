// fleet is the package holding the static description of the
// services an orchestrator run deploys, and the rollout policy that
// applies to them. It is loaded once at start and not changed
// afterwards.
package fleet

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsroll/pkg/image"
	"github.com/fluxcd/ecsroll/pkg/policy"
)

const (
	ConfigVersion = "v1"
)

type HealthAction string

const (
	// Exhausted health checks restore the previous revision.
	HealthActionRollback HealthAction = "rollback"
	// Exhausted health checks are logged and the rollout is kept,
	// with the outcome marked degraded.
	HealthActionWarn HealthAction = "warn"
)

// Duration is a time.Duration written as a Go duration string
// (e.g., "30s") in configuration.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "duration must be a string like \"30s\"")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the whole fleet description.
type Config struct {
	// The value determines how the file is interpreted: for now, if
	// it is not equal to ConfigVersion above, it is considered an
	// invalid configuration.
	ConfigVersion string `json:"configVersion"`

	Cluster string `json:"cluster"`
	Region  string `json:"region"`

	Registry Registry `json:"registry"`
	// Endpoint is the stable external address (load balancer DNS)
	// health checks are sent to, unless a service has its own.
	Endpoint string `json:"endpoint"`

	Rollout Policy  `json:"rollout"`
	Run     Run     `json:"run"`
	Metrics Metrics `json:"metrics"`
	Events  Events  `json:"events"`

	Services []Service `json:"services"`
}

type Registry struct {
	Host        string   `json:"host"`
	Prefix      string   `json:"prefix,omitempty"`
	RegistryIDs []string `json:"registryIds,omitempty"`
}

// Policy bounds watching and probing one rollout. It can be given
// for the whole fleet and overridden per service.
type Policy struct {
	PollInterval        Duration     `json:"pollInterval,omitempty"`
	MaxPolls            int          `json:"maxPolls,omitempty"`
	HealthInterval      Duration     `json:"healthInterval,omitempty"`
	HealthAttempts      int          `json:"healthAttempts,omitempty"`
	HealthTimeout       Duration     `json:"healthTimeout,omitempty"`
	HealthFailureAction HealthAction `json:"healthFailureAction,omitempty"`
	ExpectedStatus      int          `json:"expectedStatus,omitempty"`
	AutoRollback        *bool        `json:"autoRollback,omitempty"`
}

// WatchBudget is the longest a rollout is watched before it is
// reported as timed out.
func (p Policy) WatchBudget() time.Duration {
	return time.Duration(p.MaxPolls) * p.PollInterval.Std()
}

func (p Policy) RollbackEnabled() bool {
	return p.AutoRollback == nil || *p.AutoRollback
}

// Run holds the settings for a fleet run as a whole.
type Run struct {
	// Pause between services when running sequentially. An explicit
	// zero turns it off; unset means the default.
	Pause         *Duration `json:"pause,omitempty"`
	HaltOnFailure bool      `json:"haltOnFailure,omitempty"`
	Concurrency   int       `json:"concurrency,omitempty"`
	// Shared limit on platform API calls.
	APIRPS   float64 `json:"apiRps,omitempty"`
	APIBurst int     `json:"apiBurst,omitempty"`
}

func (r Run) PauseBetween() time.Duration {
	if r.Pause == nil {
		return 0
	}
	return r.Pause.Std()
}

type Metrics struct {
	Namespace  string `json:"namespace,omitempty"`
	CloudWatch bool   `json:"cloudwatch,omitempty"`
}

type Events struct {
	SNSTopicARN string `json:"snsTopicArn,omitempty"`
}

// Service is the static identity of a deployable unit.
type Service struct {
	Name string `json:"name"`
	// Build context, relative to the working directory.
	Context    string `json:"context"`
	Dockerfile string `json:"dockerfile,omitempty"`
	Port       int    `json:"port"`
	HealthPath string `json:"healthPath"`
	// Services deploy in ascending order; low-risk services first.
	Order int `json:"order"`

	// Repository within the registry; defaults to <prefix>/<name>.
	Repository string `json:"repository,omitempty"`
	// Container within the task definition; defaults to the name.
	Container string      `json:"container,omitempty"`
	Endpoint  string      `json:"endpoint,omitempty"`
	Tags      policy.Spec `json:"tags,omitempty"`
	Rollout   Policy      `json:"rollout,omitempty"`
}

func (s Service) ContainerName() string {
	if s.Container != "" {
		return s.Container
	}
	return s.Name
}

// ImageName is the repository the service's images are published to.
func (s Service) ImageName(reg Registry) image.Name {
	repo := s.Repository
	if repo == "" {
		repo = s.Name
		if reg.Prefix != "" {
			repo = reg.Prefix + "/" + s.Name
		}
	}
	return image.Name{Domain: reg.Host, Image: repo}
}

// HealthURL joins the service (or fleet) endpoint with the health path.
func (s Service) HealthURL(fleetEndpoint string) string {
	base := s.Endpoint
	if base == "" {
		base = fleetEndpoint
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(s.HealthPath, "/")
}

func DefaultPolicy() Policy {
	return Policy{
		PollInterval:        Duration(30 * time.Second),
		MaxPolls:            30,
		HealthInterval:      Duration(10 * time.Second),
		HealthAttempts:      10,
		HealthTimeout:       Duration(5 * time.Second),
		HealthFailureAction: HealthActionRollback,
	}
}

func DefaultRun() Run {
	pause := Duration(10 * time.Second)
	return Run{
		Pause:       &pause,
		Concurrency: 1,
		APIRPS:      5,
		APIBurst:    10,
	}
}

func DefaultMetrics() Metrics {
	return Metrics{Namespace: "ECS/Modernization"}
}

// ApplyDefaults fills in everything the file left unset.
func (c *Config) ApplyDefaults() error {
	if err := mergo.Merge(&c.Rollout, DefaultPolicy()); err != nil {
		return err
	}
	// mergo writes through a non-nil pointer whose value is zero, so
	// pointer fields are resolved here rather than merged.
	pause := c.Run.Pause
	c.Run.Pause = nil
	if err := mergo.Merge(&c.Run, DefaultRun()); err != nil {
		return err
	}
	if pause != nil {
		c.Run.Pause = pause
	}
	return mergo.Merge(&c.Metrics, DefaultMetrics())
}

// PolicyFor gives the policy for one service: its own overrides on
// top of the fleet policy. Neither the service nor the fleet policy
// is modified.
func (c *Config) PolicyFor(s Service) Policy {
	p, base := s.Rollout, c.Rollout
	p.AutoRollback, base.AutoRollback = nil, nil
	if err := mergo.Merge(&p, base); err != nil {
		// Both are the same plain struct type; Merge only fails on
		// mismatched kinds.
		panic(err)
	}
	auto := c.Rollout.AutoRollback
	if s.Rollout.AutoRollback != nil {
		auto = s.Rollout.AutoRollback
	}
	if auto != nil {
		v := *auto
		p.AutoRollback = &v
	}
	return p
}

// Ordered returns the services in deployment order.
func (c *Config) Ordered() []Service {
	services := make([]Service, len(c.Services))
	copy(services, c.Services)
	sort.SliceStable(services, func(i, j int) bool {
		if services[i].Order != services[j].Order {
			return services[i].Order < services[j].Order
		}
		return services[i].Name < services[j].Name
	})
	return services
}

func (c *Config) Lookup(name string) (Service, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

func (c *Config) Names() []string {
	var names []string
	for _, s := range c.Ordered() {
		names = append(names, s.Name)
	}
	return names
}

// Validate checks what the schema cannot: cross-field and semantic
// constraints. It expects defaults to have been applied.
func (c *Config) Validate() error {
	var problems []string
	complain := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.ConfigVersion != ConfigVersion {
		complain("configVersion must be %q, got %q", ConfigVersion, c.ConfigVersion)
	}
	if c.Cluster == "" {
		complain("cluster is required")
	}
	if c.Registry.Host == "" {
		complain("registry.host is required")
	}
	if len(c.Services) == 0 {
		complain("the fleet has no services")
	}
	if c.Run.Concurrency < 1 {
		complain("run.concurrency must be at least 1")
	}

	seen := map[string]bool{}
	for _, s := range c.Services {
		if s.Name == "" {
			complain("a service has no name")
			continue
		}
		if seen[s.Name] {
			complain("service %q is listed more than once", s.Name)
		}
		seen[s.Name] = true
		if !s.Tags.Pattern().Valid() {
			complain("service %q: invalid tag pattern %q", s.Name, string(s.Tags))
		}
		health := s.HealthURL(c.Endpoint)
		if u, err := url.Parse(health); err != nil || u.Scheme == "" || u.Host == "" {
			complain("service %q: health URL %q is not absolute; set endpoint", s.Name, health)
		}
		p := c.PolicyFor(s)
		if p.MaxPolls < 1 || p.PollInterval <= 0 {
			complain("service %q: maxPolls and pollInterval must be positive", s.Name)
		}
		if p.HealthAttempts < 1 || p.HealthInterval <= 0 {
			complain("service %q: healthAttempts and healthInterval must be positive", s.Name)
		}
		switch p.HealthFailureAction {
		case HealthActionRollback, HealthActionWarn:
		default:
			complain("service %q: healthFailureAction must be %q or %q", s.Name, HealthActionRollback, HealthActionWarn)
		}
	}

	if len(problems) > 0 {
		return errors.New("invalid fleet configuration:\n  " + strings.Join(problems, "\n  "))
	}
	return nil
}
