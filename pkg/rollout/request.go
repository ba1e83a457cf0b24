package rollout

import (
	"sync"
	"time"

	"github.com/fluxcd/ecsroll/pkg/image"
	"github.com/fluxcd/ecsroll/pkg/platform"
)

type RequestKind string

const (
	RequestDeploy   RequestKind = "deploy"
	RequestRollback RequestKind = "rollback"
)

// Request is one attempt to move a service to a new tag (or back to
// a previous revision).
type Request struct {
	Service     string      `json:"service"`
	Tag         string      `json:"tag,omitempty"`
	Kind        RequestKind `json:"kind"`
	RequestedAt time.Time   `json:"requestedAt"`
}

// Key identifies requests which would have the same effect.
func (r Request) Key() string {
	if r.Kind == RequestRollback {
		return r.Service + "@rollback"
	}
	return r.Service + "@" + r.Tag
}

// TaskHandle refers to a rollout the platform has accepted.
type TaskHandle struct {
	Request  Request
	Revision platform.Revision
	// Previous is what the service ran before the rollout was issued.
	Previous platform.Revision
	Ref      image.Ref
}

// serviceLocks serialises the requests for any one service. The zero
// value is ready to use.
type serviceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *serviceLocks) get(service string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = map[string]*sync.Mutex{}
	}
	m, ok := l.locks[service]
	if !ok {
		m = &sync.Mutex{}
		l.locks[service] = m
	}
	return m
}

// Lock blocks until no other request for service is in flight, and
// returns the func that releases it.
func (l *serviceLocks) Lock(service string) (unlock func()) {
	m := l.get(service)
	m.Lock()
	return m.Unlock
}
