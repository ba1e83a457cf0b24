package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type validateOpts struct {
	*rootOpts
}

func newValidate(parent *rootOpts) *validateOpts {
	return &validateOpts{rootOpts: parent}
}

func (opts *validateOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the fleet configuration, the credentials and that every service exists.",
		RunE:  opts.RunE,
	}
}

func (opts *validateOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return newUsageError("expected no (non-flag) arguments")
	}
	// The configuration has been loaded and checked by now.
	fmt.Fprintf(opts.stdout, "%s: %d services (%s)\n", opts.configPath, len(opts.fleet.Services), joinNames(opts.fleet.Names()))

	c, err := opts.coordinator()
	if err != nil {
		return err
	}
	if err := c.Verify(context.Background()); err != nil {
		return err
	}
	fmt.Fprintf(opts.stdout, "cluster %s: reachable, all services present\n", opts.fleet.Cluster)
	return nil
}
