package rollout

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	ecserrors "github.com/fluxcd/ecsroll/pkg/errors"
)

// State is the final state of a service in a run.
type State string

const (
	StateSuccess    State = "SUCCESS"
	StateFailed     State = "FAILED"
	StateRolledBack State = "ROLLED_BACK"
	StateTimeout    State = "TIMEOUT"
	// StateSkipped is for services not started, because the run was
	// cancelled or halted.
	StateSkipped State = "SKIPPED"
)

// States lists the states in the order they are reported.
var States = []State{StateSuccess, StateRolledBack, StateFailed, StateTimeout, StateSkipped}

// Outcome is recorded once per service per run, and not changed
// afterwards.
type Outcome struct {
	Service string `json:"service" yaml:"service"`
	State   State  `json:"state" yaml:"state"`
	Tag     string `json:"tag,omitempty" yaml:"tag,omitempty"`
	// Revision is what the service runs at the end; Previous is what
	// it ran before.
	Revision int           `json:"revision,omitempty" yaml:"revision,omitempty"`
	Previous int           `json:"previous,omitempty" yaml:"previous,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	// Attempts counts the requests issued to the platform, deploy and
	// rollback.
	Attempts int `json:"attempts" yaml:"attempts"`
	// Degraded is set when the rollout was kept in spite of failing
	// health checks.
	Degraded bool `json:"degraded,omitempty" yaml:"degraded,omitempty"`
	// Critical is set when the service is left in a state that needs
	// an operator.
	Critical bool           `json:"critical,omitempty" yaml:"critical,omitempty"`
	Kind     ecserrors.Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`

	Err error `json:"-" yaml:"-"`

	rolledBackFrom int
}

func (o Outcome) withErr(err error) Outcome {
	o.Err = err
	if err != nil {
		o.Error = err.Error()
		o.Kind = ecserrors.KindOf(err)
	}
	return o
}

func (o Outcome) String() string {
	s := fmt.Sprintf("%s: %s", o.Service, o.State)
	if o.Tag != "" {
		s += " (" + o.Tag + ")"
	}
	if o.Degraded {
		s += " degraded"
	}
	if o.Critical {
		s += " CRITICAL"
	}
	return s
}

// Summary is the result of a fleet run.
type Summary struct {
	RunID     string        `json:"runID" yaml:"runID"`
	StartedAt time.Time     `json:"startedAt" yaml:"startedAt"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
	Outcomes  []Outcome     `json:"outcomes" yaml:"outcomes"`
	Counts    map[State]int `json:"counts" yaml:"counts"`
	// Critical names the services needing manual intervention.
	Critical []string `json:"critical,omitempty" yaml:"critical,omitempty"`
}

func Summarize(runID string, startedAt time.Time, elapsed time.Duration, outcomes []Outcome) Summary {
	s := Summary{
		RunID:     runID,
		StartedAt: startedAt,
		Elapsed:   elapsed,
		Outcomes:  outcomes,
		Counts:    map[State]int{},
	}
	for _, o := range outcomes {
		s.Counts[o.State]++
		if o.Critical {
			s.Critical = append(s.Critical, o.Service)
		}
	}
	return s
}

// Failed is true if any service did not end in SUCCESS.
func (s Summary) Failed() bool {
	return s.Counts[StateSuccess] != len(s.Outcomes)
}

// Accepted counts services running a revision that passed its
// checks: the new one, or the one rolled back to.
func (s Summary) Accepted() int {
	return s.Counts[StateSuccess] + s.Counts[StateRolledBack]
}

func (s Summary) countStrings() []string {
	var counts []string
	for _, state := range States {
		if n := s.Counts[state]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s=%d", state, n))
		}
	}
	return counts
}

// StringCounts returns the counts keyed by state name.
func (s Summary) StringCounts() map[string]int {
	counts := map[string]int{}
	for state, n := range s.Counts {
		counts[string(state)] = n
	}
	return counts
}

const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Write prints the summary in one of the output formats.
func (s Summary) Write(out io.Writer, format string) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case OutputYAML:
		b, err := yaml.Marshal(s)
		if err != nil {
			return err
		}
		_, err = out.Write(b)
		return err
	case OutputText, "":
		return s.writeText(out)
	}
	return errors.Errorf("unknown output format %q", format)
}

func (s Summary) writeText(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATE\tTAG\tATTEMPTS\tDURATION\tMESSAGE")
	for _, o := range s.Outcomes {
		state := string(o.State)
		if o.Critical {
			state += "!"
		}
		var msg string
		switch {
		case o.Critical:
			msg = "manual intervention required: " + o.Error
		case o.Degraded:
			msg = "health checks failing; rollout kept"
		default:
			msg = o.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", o.Service, state, o.Tag, o.Attempts, o.Duration.Round(time.Second), firstLine(msg))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%d services in %s: %s\n", len(s.Outcomes), s.Elapsed.Round(time.Second), strings.Join(s.countStrings(), " "))
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// sortOutcomes puts outcomes in the given service order.
func sortOutcomes(outcomes []Outcome, order []string) {
	index := map[string]int{}
	for i, name := range order {
		index[name] = i
	}
	sort.SliceStable(outcomes, func(i, j int) bool {
		return index[outcomes[i].Service] < index[outcomes[j].Service]
	})
}
