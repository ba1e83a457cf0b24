package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/fluxcd/ecsroll/pkg/rollout"
)

type statusOpts struct {
	*rootOpts
}

func newStatus(parent *rootOpts) *statusOpts {
	return &statusOpts{rootOpts: parent}
}

func (opts *statusOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the revision, image and rollout state of every service.",
		RunE:  opts.RunE,
	}
}

func (opts *statusOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return newUsageError("expected no (non-flag) arguments")
	}
	c, err := opts.coordinator()
	if err != nil {
		return err
	}
	statuses := c.Status(context.Background())

	switch opts.output {
	case rollout.OutputJSON:
		enc := json.NewEncoder(opts.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	case rollout.OutputYAML:
		b, err := yaml.Marshal(statuses)
		if err != nil {
			return err
		}
		_, err = opts.stdout.Write(b)
		return err
	}

	out := newTabwriter(opts.stdout)
	fmt.Fprintln(out, "SERVICE\tREVISION\tIMAGE\tROLLOUT\tDEPLOYMENTS\tERROR")
	for _, s := range statuses {
		fmt.Fprintln(out, strings.Join(s.Row(), "\t"))
	}
	return out.Flush()
}
