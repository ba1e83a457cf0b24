package httperror

import (
	"fmt"
	"net/http"
)

// StatusError is a response that did not have the status wanted.
type StatusError struct {
	StatusCode int
	Status     string
	// Expected is the status wanted; zero means any 2xx.
	Expected int
}

func (err *StatusError) Error() string {
	if err.Expected != 0 {
		return fmt.Sprintf("got %s, expected %d", err.Status, err.Expected)
	}
	return fmt.Sprintf("got %s", err.Status)
}

// Does this error mean the service is not (yet) reachable behind its
// load balancer?
func (err *StatusError) IsUnavailable() bool {
	switch err.StatusCode {
	case 502, 503, 504:
		return true
	}
	return false
}

// Check returns a *StatusError if resp does not have the status
// wanted.
func Check(resp *http.Response, expected int) error {
	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if expected != 0 {
		ok = resp.StatusCode == expected
	}
	if ok {
		return nil
	}
	return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Expected: expected}
}
