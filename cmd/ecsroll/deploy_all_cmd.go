package main

import (
	"context"
	"fmt"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/fluxcd/ecsroll/pkg/rollout"
)

// tagFormat is the layout of the tag given to a run when none is
// supplied: the UTC time the run started.
const tagFormat = "20060102-150405"

type deployAllOpts struct {
	*rootOpts
	tag           string
	concurrency   int
	haltOnFailure bool
	progress      bool
}

func newDeployAll(parent *rootOpts) *deployAllOpts {
	return &deployAllOpts{rootOpts: parent}
}

func (opts *deployAllOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy-all",
		Short: "Build, publish and roll out every service in the fleet, in order.",
		Example: makeExample(
			"ecsroll deploy-all",
			"ecsroll deploy-all --tag 20250801-100000 --halt-on-failure",
			"ecsroll deploy-all --concurrency 3 -o json",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVar(&opts.tag, "tag", "", "image tag to build and deploy (default: the current UTC time, as yyyymmdd-hhmmss)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 1, "how many services to deploy at once; 1 deploys them one after another")
	cmd.Flags().BoolVar(&opts.haltOnFailure, "halt-on-failure", false, "skip the remaining services once one has failed")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "show a progress bar")
	return cmd
}

func (opts *deployAllOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return newUsageError("expected no (non-flag) arguments")
	}
	if cmd.Flags().Changed("concurrency") {
		if opts.concurrency < 1 {
			return newUsageError("--concurrency must be at least 1")
		}
		opts.fleet.Run.Concurrency = opts.concurrency
	}
	if cmd.Flags().Changed("halt-on-failure") {
		opts.fleet.Run.HaltOnFailure = opts.haltOnFailure
	}
	tag := opts.tag
	if tag == "" {
		tag = opts.now().UTC().Format(tagFormat)
	}

	c, err := opts.coordinator()
	if err != nil {
		return err
	}
	if opts.progress {
		bar := pb.New(len(opts.fleet.Services))
		bar.SetWriter(opts.stderr)
		bar.SetTemplateString(`Deploying ` + tag + ` {{counters . }} {{bar . }} {{percent . }} {{etime . "%s"}}`)
		bar.Start()
		defer bar.Finish()
		c.OnOutcome = func(rollout.Outcome) { bar.Increment() }
	}
	fmt.Fprintf(opts.stderr, "Deploying %s to %d services in %s\n", tag, len(opts.fleet.Services), opts.fleet.Cluster)
	return opts.run(c, func(ctx context.Context) (rollout.Summary, error) {
		return c.DeployAll(ctx, tag)
	})
}
