package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Env vars that are allowed to be inherited from the OS
var allowedEnvVars = []string{
	"PATH", "HOME",
	// docker daemon and client configuration
	"DOCKER_HOST", "DOCKER_CONFIG", "DOCKER_CERT_PATH", "DOCKER_TLS_VERIFY", "DOCKER_BUILDKIT",
	"http_proxy", "https_proxy", "no_proxy", "HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
}

// Runner runs an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct {
	// Dir is the working directory build contexts are relative to.
	Dir string
	// Out, if set, also receives the command output as it is produced.
	Out io.Writer
}

func (r ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, name, args...)
	c.Dir = r.Dir
	c.Env = env()
	c.Stdin = stdin

	stdout := &bytes.Buffer{}
	combined := &bytes.Buffer{}
	c.Stdout = io.MultiWriter(stdout, combined)
	c.Stderr = combined
	if r.Out != nil {
		c.Stdout = io.MultiWriter(c.Stdout, r.Out)
		c.Stderr = io.MultiWriter(c.Stderr, r.Out)
	}

	err := c.Run()
	if ctx.Err() != nil {
		return nil, errors.Wrapf(ctx.Err(), "running %s %s", name, args[0])
	}
	if err != nil {
		if combined.Len() > 0 {
			err = fmt.Errorf("%s %s: %s", name, args[0], lastLines(combined.String(), 10))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func env() []string {
	var env []string
	for _, k := range allowedEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}
