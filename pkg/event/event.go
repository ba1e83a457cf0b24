package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// These are all the types of events.
const (
	EventDeploy   = "deploy"
	EventRollback = "rollback"
	EventFleet    = "fleet"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type Event struct {
	// ID identifies the event; a run's events share the run ID as a
	// prefix.
	ID string `json:"id"`

	// Names of the services affected by this event.
	ServiceIDs []string `json:"serviceIDs"`

	// Type is the type of event: deploy, rollback or fleet.
	Type string `json:"type"`

	// StartedAt is the time the event began.
	StartedAt time.Time `json:"startedAt"`

	// EndedAt is the time the event ended. For instantaneous events, this will
	// be the same as StartedAt.
	EndedAt time.Time `json:"endedAt"`

	// LogLevel for this event. Used to indicate how important it is.
	// `debug|info|warn|error`
	LogLevel string `json:"logLevel"`

	// Message is a pre-formatted string. Should only be used if
	// metadata is empty.
	Message string `json:"message,omitempty"`

	// Metadata is Event.Type-specific metadata. If an event has no metadata,
	// this will be nil.
	Metadata EventMetadata `json:"metadata,omitempty"`
}

type EventWriter interface {
	// LogEvent records an event. A failure to record is never fatal
	// to the deployment the event describes.
	LogEvent(Event) error
}

func (e Event) ServiceIDStrings() []string {
	ids := append([]string(nil), e.ServiceIDs...)
	sort.Strings(ids)
	return ids
}

func (e Event) String() string {
	if e.Message != "" {
		return e.Message
	}

	services := strings.Join(e.ServiceIDStrings(), ", ")
	switch e.Type {
	case EventDeploy:
		metadata := e.Metadata.(*DeployEventMetadata)
		msg := fmt.Sprintf("Deploy %s: %s to %s, %s", metadata.Outcome, services, metadata.Tag, e.EndedAt.Sub(e.StartedAt).Round(time.Second))
		if metadata.Error != "" {
			msg += ": " + metadata.Error
		}
		return msg
	case EventRollback:
		metadata := e.Metadata.(*DeployEventMetadata)
		return fmt.Sprintf("Rollback %s: %s from revision %d to %d",
			metadata.Outcome, services, metadata.PreviousRevision, metadata.Revision)
	case EventFleet:
		metadata := e.Metadata.(*FleetEventMetadata)
		var counts []string
		for _, state := range metadata.states() {
			counts = append(counts, fmt.Sprintf("%s=%d", state, metadata.Counts[state]))
		}
		msg := fmt.Sprintf("Fleet run %s: %s in %s", metadata.RunID, strings.Join(counts, " "), e.EndedAt.Sub(e.StartedAt).Round(time.Second))
		if len(metadata.Critical) > 0 {
			msg += "; manual intervention needed for " + strings.Join(metadata.Critical, ", ")
		}
		return msg
	default:
		return fmt.Sprintf("Unknown event: %s", e.Type)
	}
}

// DeployEventMetadata is the metadata for deploying, or rolling back,
// one service.
type DeployEventMetadata struct {
	Tag              string `json:"tag,omitempty"`
	Image            string `json:"image,omitempty"`
	Revision         int    `json:"revision,omitempty"`
	PreviousRevision int    `json:"previousRevision,omitempty"`
	Outcome          string `json:"outcome"`
	Attempts         int    `json:"attempts"`
	Degraded         bool   `json:"degraded,omitempty"`
	// Message of the error if there was one.
	Error string `json:"error,omitempty"`
}

// FleetEventMetadata summarises a whole run.
type FleetEventMetadata struct {
	RunID    string         `json:"runID"`
	Counts   map[string]int `json:"counts"`
	Critical []string       `json:"critical,omitempty"`
}

func (m *FleetEventMetadata) states() []string {
	var states []string
	for s := range m.Counts {
		states = append(states, s)
	}
	sort.Strings(states)
	return states
}

type UnknownEventMetadata map[string]interface{}

func (e *Event) UnmarshalJSON(in []byte) error {
	type alias Event
	var wireEvent struct {
		*alias
		MetadataBytes json.RawMessage `json:"metadata,omitempty"`
	}
	wireEvent.alias = (*alias)(e)

	// Now unmarshall custom wireEvent with RawMessage
	if err := json.Unmarshal(in, &wireEvent); err != nil {
		return err
	}
	if wireEvent.Type == "" {
		return errors.New("Event type is empty")
	}

	switch wireEvent.Type {
	case EventDeploy, EventRollback:
		var metadata DeployEventMetadata
		if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
			return err
		}
		e.Metadata = &metadata
	case EventFleet:
		var metadata FleetEventMetadata
		if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
			return err
		}
		e.Metadata = &metadata
	default:
		if len(wireEvent.MetadataBytes) > 0 {
			var metadata UnknownEventMetadata
			if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
				return err
			}
			e.Metadata = metadata
		}
	}
	return nil
}

// EventMetadata is a type safety trick used to make sure that Metadata field
// of Event is always a pointer, so that consumers can cast without being
// concerned about encountering a value type instead. It works by virtue of the
// fact that the method is only defined for pointer receivers; the actual
// method chosen is entirely arbitary.
type EventMetadata interface {
	Type() string
}

func (*DeployEventMetadata) Type() string {
	return EventDeploy
}

func (*FleetEventMetadata) Type() string {
	return EventFleet
}

// Special exception from pointer receiver rule, as UnknownEventMetadata is a
// type alias for a map
func (UnknownEventMetadata) Type() string {
	return "unknown"
}
