package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecsroll/pkg/rollout"
)

type rollbackOpts struct {
	*rootOpts
}

func newRollback(parent *rootOpts) *rollbackOpts {
	return &rollbackOpts{rootOpts: parent}
}

func (opts *rollbackOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:     "rollback <service>",
		Short:   "Return a service to the revision before the one it runs now.",
		Example: makeExample("ecsroll rollback crm-system"),
		RunE:    opts.RunE,
	}
}

func (opts *rollbackOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return newUsageError("expected exactly one service name")
	}
	c, err := opts.coordinator()
	if err != nil {
		return err
	}
	return opts.run(c, func(ctx context.Context) (rollout.Summary, error) {
		return c.RollbackService(ctx, args[0])
	})
}
