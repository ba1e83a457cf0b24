package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecsroll/pkg/rollout"
)

type deployOpts struct {
	*rootOpts
}

func newDeploy(parent *rootOpts) *deployOpts {
	return &deployOpts{rootOpts: parent}
}

func (opts *deployOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <service> [tag]",
		Short: "Build, publish and roll out one service.",
		Long: `Build, publish and roll out one service. If the service already runs
the image with the tag given, and is not in the middle of a rollout,
nothing is done.`,
		Example: makeExample(
			"ecsroll deploy crm-system",
			"ecsroll deploy crm-system 20250801-100000",
		),
		RunE: opts.RunE,
	}
}

func (opts *deployOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return newUsageError("expected a service name and, optionally, a tag")
	}
	service := args[0]
	tag := opts.now().UTC().Format(tagFormat)
	if len(args) == 2 {
		tag = args[1]
	}

	c, err := opts.coordinator()
	if err != nil {
		return err
	}
	return opts.run(c, func(ctx context.Context) (rollout.Summary, error) {
		return c.Deploy(ctx, service, tag)
	})
}
