package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	ecserrors "github.com/fluxcd/ecsroll/pkg/errors"
)

func main() {
	os.Exit(execute(newRoot(os.Stdout, os.Stderr), os.Args[1:]))
}

// execute runs the command line and returns the exit code: 0 if
// everything asked for was done, 1 otherwise.
func execute(root *rootOpts, args []string) int {
	rootCmd := root.Command()
	rootCmd.SetArgs(args)
	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return 0
	}

	var usage *usageError
	var e *ecserrors.Error
	switch {
	case errors.Is(err, errRunFailed):
	case errors.As(err, &usage):
		fmt.Fprintln(root.stderr, "Error:", err)
		fmt.Fprintln(root.stderr, "")
		fmt.Fprintln(root.stderr, cmd.UsageString())
	case errors.As(err, &e) && e.Help != "":
		printHelp(root.stderr, e)
	default:
		fmt.Fprintln(root.stderr, "Error:", err)
	}
	return 1
}

func printHelp(w io.Writer, e *ecserrors.Error) {
	fmt.Fprintln(w, e.Help)
	if e.Err != nil {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Error:", e.Err)
	}
}
