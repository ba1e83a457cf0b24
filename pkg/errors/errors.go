package errors

import (
	"encoding/json"
	"errors"
)

// Representation of errors met while rolling out a fleet. These are
// divided into a small number of categories, essentially distinguished
// by the stage that produced them; i.e., is this error:
//  - fatal to one service's attempt (artifact or control-plane stage)?
//  - a trigger for rolling back (watch or probe stage)?
//  - critical, leaving a service in an unknown state (rollback stage)?
//  - a precondition failure that aborts the whole run?
type Error struct {
	Kind Kind
	// a message that can be printed out for the user
	Help string `json:"help"`
	// the underlying error that can be e.g., logged for developers to look at
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Kind string

const (
	// Artifact stage; fatal to the attempt, never retried in the same run
	BuildError   Kind = "build"
	PublishError Kind = "publish"
	// Control-plane stage; fatal to the service, the fleet continues
	ServiceNotFound     Kind = "service_not_found"
	PlatformUnavailable Kind = "platform_unavailable"
	// Watch stage; triggers a rollback
	RolloutTimeout Kind = "rollout_timeout"
	RolloutFailed  Kind = "rollout_failed"
	// Probe stage; triggers a rollback unless configured to warn
	HealthCheckFailed Kind = "health_check_failed"
	// Rollback stage; operator must intervene
	NoPriorRevision Kind = "no_prior_revision"
	RollbackFailed  Kind = "rollback_failed"
	// Detected before any service starts
	Precondition Kind = "precondition"
)

// KindOf returns the kind of the first *Error found by unwrapping
// err, or "" if there isn't one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsBuild(err error) bool               { return KindOf(err) == BuildError }
func IsPublish(err error) bool             { return KindOf(err) == PublishError }
func IsServiceNotFound(err error) bool     { return KindOf(err) == ServiceNotFound }
func IsPlatformUnavailable(err error) bool { return KindOf(err) == PlatformUnavailable }
func IsRolloutTimeout(err error) bool      { return KindOf(err) == RolloutTimeout }
func IsRolloutFailed(err error) bool       { return KindOf(err) == RolloutFailed }
func IsHealthCheckFailed(err error) bool   { return KindOf(err) == HealthCheckFailed }
func IsNoPriorRevision(err error) bool     { return KindOf(err) == NoPriorRevision }
func IsRollbackFailed(err error) bool      { return KindOf(err) == RollbackFailed }
func IsPrecondition(err error) bool        { return KindOf(err) == Precondition }

// IsCritical reports whether err left a service in an unknown state,
// which is to be surfaced separately from ordinary failures.
func IsCritical(err error) bool {
	switch KindOf(err) {
	case NoPriorRevision, RollbackFailed:
		return true
	}
	return false
}

// TriggersRollback reports whether err, met after a service update
// has been issued, means the previous revision should be restored.
func TriggersRollback(err error) bool {
	switch KindOf(err) {
	case RolloutTimeout, RolloutFailed, HealthCheckFailed:
		return true
	}
	return false
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	jsonable := &struct {
		Kind string `json:"kind"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{
		Kind: string(e.Kind),
		Help: e.Help,
		Err:  errMsg,
	}
	return json.Marshal(jsonable)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	jsonable := &struct {
		Kind string `json:"kind"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{}
	if err := json.Unmarshal(data, &jsonable); err != nil {
		return err
	}
	e.Kind = Kind(jsonable.Kind)
	e.Help = jsonable.Help
	if jsonable.Err != "" {
		e.Err = errors.New(jsonable.Err)
	}
	return nil
}
