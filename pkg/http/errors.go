package http

import (
	"errors"

	ecserrors "github.com/fluxcd/ecsroll/pkg/errors"
)

func MakeAPINotFound(path string) *ecserrors.Error {
	return &ecserrors.Error{
		Help: `The API endpoint requested is not served by ecsroll.

The endpoints are

    /api/v1/verify
    /api/v1/status
    /api/v1/outcomes
    /metrics
    /healthz

and the path requested was

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}
