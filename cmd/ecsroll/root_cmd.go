package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	"github.com/fluxcd/ecsroll/pkg/fleet"
	transport "github.com/fluxcd/ecsroll/pkg/http"
	"github.com/fluxcd/ecsroll/pkg/rollout"
)

type rootOpts struct {
	configPath string
	logFormat  string
	cluster    string
	region     string
	listen     string
	output     string

	stdout io.Writer
	stderr io.Writer
	logger log.Logger
	fleet  *fleet.Config

	newBackend backendFunc
	sleep      rollout.SleepFunc
	now        func() time.Time
}

func newRoot(stdout, stderr io.Writer) *rootOpts {
	return &rootOpts{
		stdout:     stdout,
		stderr:     stderr,
		newBackend: awsBackend,
		sleep:      rollout.Sleep,
		now:        time.Now,
	}
}

var rootLongHelp = strings.TrimSpace(`
ecsroll builds, publishes and rolls out the services of an ECS Fargate
fleet, watching each rollout and rolling back the ones that fail.

Workflow:
  ecsroll validate                         # Is the fleet file sound, and the cluster reachable?
  ecsroll status                           # What is each service running?
  ecsroll deploy-all                       # Deploy a fresh timestamp tag to every service, in order.
  ecsroll deploy crm-system 20250801-1000  # Deploy one tag to one service.
  ecsroll rollback crm-system              # Go back to the previous revision.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "ecsroll",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.SetOut(opts.stdout)
	cmd.SetErr(opts.stderr)
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "fleet.yaml", "path to the fleet configuration file")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "fmt", "change the log format (fmt or json)")
	cmd.PersistentFlags().StringVar(&opts.cluster, "cluster", "", "override the cluster named in the fleet configuration")
	cmd.PersistentFlags().StringVar(&opts.region, "region", "", "override the AWS region named in the fleet configuration")
	cmd.PersistentFlags().StringVar(&opts.listen, "listen-metrics", "", "serve metrics and run status on this address (e.g., :3031) while running")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", rollout.OutputText, "output format (text, json or yaml)")

	cmd.AddCommand(
		newDeployAll(opts).Command(),
		newDeploy(opts).Command(),
		newRollback(opts).Command(),
		newValidate(opts).Command(),
		newStatus(opts).Command(),
	)
	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	switch opts.output {
	case rollout.OutputText, rollout.OutputJSON, rollout.OutputYAML:
	default:
		return errorInvalidOutputFormat
	}

	{
		switch opts.logFormat {
		case "json":
			opts.logger = log.NewJSONLogger(log.NewSyncWriter(opts.stderr))
		case "fmt":
			opts.logger = log.NewLogfmtLogger(log.NewSyncWriter(opts.stderr))
		default:
			return newUsageError("unsupported log format " + opts.logFormat)
		}
		opts.logger = log.With(opts.logger, "ts", log.DefaultTimestampUTC)
		opts.logger = log.With(opts.logger, "caller", log.DefaultCaller)
	}

	cfg, err := fleet.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.cluster != "" {
		cfg.Cluster = opts.cluster
	}
	if opts.region != "" {
		cfg.Region = opts.region
	}
	opts.fleet = cfg
	return nil
}

// coordinator wires a Coordinator to the backend.
func (opts *rootOpts) coordinator() (*rollout.Coordinator, error) {
	b, err := opts.newBackend(opts)
	if err != nil {
		return nil, err
	}
	c := rollout.NewCoordinator(opts.fleet, b.Platform, b.Publisher, b.Health, log.With(opts.logger, "component", "coordinator"))
	c.Sink = b.Sink
	c.Events = b.Events
	c.Sleep = opts.sleep
	c.Now = opts.now
	return c, nil
}

// run runs a fleet operation until it is done or interrupted, serving
// metrics meanwhile if asked, and prints the summary.
func (opts *rootOpts) run(c *rollout.Coordinator, do func(ctx context.Context) (rollout.Summary, error)) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.listen != "" {
		outcomes := transport.NewOutcomeStore(100)
		onOutcome := c.OnOutcome
		c.OnOutcome = func(o rollout.Outcome) {
			outcomes.Record(o)
			if onOutcome != nil {
				onOutcome(o)
			}
		}
		serverCtx, shutdown := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			logger := log.With(opts.logger, "component", "http")
			if err := transport.ListenAndServe(serverCtx, opts.listen, c, outcomes, logger); err != nil {
				logger.Log("err", err)
			}
		}()
		defer func() {
			shutdown()
			<-done
		}()
	}

	summary, err := do(ctx)
	if err != nil {
		return err
	}
	if err := summary.Write(opts.stdout, opts.output); err != nil {
		return err
	}
	if summary.Failed() {
		return errRunFailed
	}
	return nil
}
