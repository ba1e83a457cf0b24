package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadExample(t *testing.T) {
	config, err := Load("testdata/fleet.yaml")
	require.NoError(t, err)

	assert.Equal(t, "ecs-modernization-cluster", config.Cluster)
	assert.Equal(t, []string{"document-archive", "inventory-tracker", "crm-system"}, config.Names())

	crm, ok := config.Lookup("crm-system")
	require.True(t, ok)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/ecs-modernization/crm-system",
		crm.ImageName(config.Registry).String())
	assert.Equal(t, "http://ecs-modernization-alb-1234567890.us-east-1.elb.amazonaws.com/crm/actuator/health",
		crm.HealthURL(config.Endpoint))
	assert.Equal(t, "crm-system", crm.ContainerName())

	p := config.PolicyFor(crm)
	assert.Equal(t, 40, p.MaxPolls)
	assert.Equal(t, 30*time.Second, p.PollInterval.Std())
	assert.Equal(t, HealthActionWarn, p.HealthFailureAction)
	assert.True(t, p.RollbackEnabled())
	assert.Equal(t, 20*time.Minute, p.WatchBudget())

	inventory, _ := config.Lookup("inventory-tracker")
	p = config.PolicyFor(inventory)
	assert.Equal(t, 30, p.MaxPolls)
	assert.Equal(t, HealthActionRollback, p.HealthFailureAction)
	assert.Equal(t, 15*time.Minute, p.WatchBudget())
	assert.Equal(t, 5*time.Second, p.HealthTimeout.Std())
}

func TestParseDefaults(t *testing.T) {
	config, err := Parse([]byte(`
configVersion: v1
cluster: c
endpoint: http://alb
registry: {host: registry.example.com}
services:
- {name: a, context: ., healthPath: /health}
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy().PollInterval, config.Rollout.PollInterval)
	assert.Equal(t, 1, config.Run.Concurrency)
	assert.False(t, config.Run.HaltOnFailure)
	assert.Equal(t, "ECS/Modernization", config.Metrics.Namespace)
	a, _ := config.Lookup("a")
	assert.Equal(t, "registry.example.com/a", a.ImageName(config.Registry).String())
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"schema: unknown field": `
configVersion: v1
cluster: c
registry: {host: r}
bogus: true
services: [{name: a, context: ., healthPath: /h}]`,
		"schema: empty fleet": `
configVersion: v1
cluster: c
registry: {host: r}
services: []`,
		"schema: bad duration": `
configVersion: v1
cluster: c
registry: {host: r}
rollout: {pollInterval: soon}
services: [{name: a, context: ., healthPath: /h}]`,
		"duplicate service": `
configVersion: v1
cluster: c
endpoint: http://alb
registry: {host: r}
services:
- {name: a, context: ., healthPath: /h}
- {name: a, context: ., healthPath: /h}`,
		"wrong version": `
configVersion: v0
cluster: c
endpoint: http://alb
registry: {host: r}
services: [{name: a, context: ., healthPath: /h}]`,
		"no endpoint": `
configVersion: v1
cluster: c
registry: {host: r}
services: [{name: a, context: ., healthPath: /h}]`,
		"bad tag pattern": `
configVersion: v1
cluster: c
endpoint: http://alb
registry: {host: r}
services: [{name: a, context: ., healthPath: /h, tags: "semver:not a constraint"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestOrderedIsStable(t *testing.T) {
	c := &Config{Services: []Service{
		{Name: "b", Order: 1},
		{Name: "a", Order: 1},
		{Name: "z", Order: 0},
	}}
	assert.Equal(t, []string{"z", "a", "b"}, c.Names())
}

func TestPolicyOverrides(t *testing.T) {
	config, err := Parse([]byte(`
configVersion: v1
cluster: c
endpoint: http://alb
registry: {host: r}
rollout: {autoRollback: true, maxPolls: 20}
services:
- {name: pinned, context: ., healthPath: /h, rollout: {autoRollback: false, healthAttempts: 3}}
- {name: default, context: ., healthPath: /h}
`))
	require.NoError(t, err)

	pinned, _ := config.Lookup("pinned")
	require.NotNil(t, pinned.Rollout.AutoRollback)
	assert.False(t, *pinned.Rollout.AutoRollback, "loading must not overwrite the service's setting")

	p := config.PolicyFor(pinned)
	assert.False(t, p.RollbackEnabled())
	assert.Equal(t, 3, p.HealthAttempts)
	assert.Equal(t, 20, p.MaxPolls)

	def, _ := config.Lookup("default")
	assert.True(t, config.PolicyFor(def).RollbackEnabled())
	assert.Equal(t, DefaultPolicy().HealthAttempts, config.PolicyFor(def).HealthAttempts)

	// the resolved policy does not share state with the config
	*p.AutoRollback = true
	assert.False(t, config.PolicyFor(pinned).RollbackEnabled())
	assert.True(t, *config.Rollout.AutoRollback)
}

func TestPolicyOverrideEnablesRollback(t *testing.T) {
	off, on := false, true
	c := &Config{Rollout: Policy{AutoRollback: &off}}
	assert.True(t, c.PolicyFor(Service{Rollout: Policy{AutoRollback: &on}}).RollbackEnabled())
	assert.False(t, c.PolicyFor(Service{}).RollbackEnabled())
	assert.True(t, (&Config{}).PolicyFor(Service{}).RollbackEnabled())
}

func TestRunPause(t *testing.T) {
	for name, c := range map[string]struct {
		run  string
		want time.Duration
	}{
		"unset":    {``, 10 * time.Second},
		"explicit": {`run: {pause: 3s}`, 3 * time.Second},
		"off":      {`run: {pause: 0s}`, 0},
	} {
		t.Run(name, func(t *testing.T) {
			config, err := Parse([]byte(`
configVersion: v1
cluster: c
endpoint: http://alb
registry: {host: r}
` + c.run + `
services: [{name: a, context: ., healthPath: /h}]
`))
			require.NoError(t, err)
			assert.Equal(t, c.want, config.Run.PauseBetween())
		})
	}
}
