package rollout

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	ecserrors "github.com/fluxcd/ecsroll/pkg/errors"
	"github.com/fluxcd/ecsroll/pkg/fleet"
	"github.com/fluxcd/ecsroll/pkg/http/httperror"
)

// HealthChecker decides whether a service that has rolled out is
// actually serving.
type HealthChecker interface {
	Probe(ctx context.Context, service, url string, p fleet.Policy) error
}

// Prober checks health over HTTP.
type Prober struct {
	Client *http.Client
	Sleep  SleepFunc
	Logger log.Logger
}

var _ HealthChecker = &Prober{}

func (p *Prober) check(ctx context.Context, url string, pol fleet.Policy) error {
	ctx, cancel := context.WithTimeout(ctx, pol.HealthTimeout.Std())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(ioutil.Discard, resp.Body)
	return httperror.Check(resp, pol.ExpectedStatus)
}

// Probe GETs url until it answers as expected, at most
// pol.HealthAttempts times.
func (p *Prober) Probe(ctx context.Context, service, url string, pol fleet.Policy) error {
	logger := log.With(p.Logger, "service", service, "url", url)
	var err error
	for attempt := 1; attempt <= pol.HealthAttempts; attempt++ {
		if err = p.check(ctx, url, pol); err == nil {
			logger.Log("health", "ok", "attempt", attempt)
			return nil
		}
		var status *httperror.StatusError
		if errors.As(err, &status) && status.IsUnavailable() {
			logger.Log("health", "unavailable", "attempt", attempt, "status", status.StatusCode)
		} else {
			logger.Log("health", "failing", "attempt", attempt, "err", err)
		}
		if attempt == pol.HealthAttempts {
			break
		}
		if serr := p.Sleep(ctx, pol.HealthInterval.Std()); serr != nil {
			return ecserrors.Unhealthy(service, url, attempt, serr)
		}
	}
	return ecserrors.Unhealthy(service, url, pol.HealthAttempts, err)
}
