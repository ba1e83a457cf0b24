package main

import (
	"errors"
)

type usageError struct {
	error
}

func newUsageError(msg string) *usageError {
	return &usageError{error: errors.New(msg)}
}

// errRunFailed is returned when a run completed but not every service
// ended in SUCCESS; the summary has already said which.
var errRunFailed = errors.New("not every service was deployed")

var errorInvalidOutputFormat = newUsageError("invalid output format specified")
