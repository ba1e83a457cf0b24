package http

// Names of the routes served while a run is in progress. These also
// label the request metrics.
const (
	Verify   = "Verify"
	Status   = "Status"
	Outcomes = "Outcomes"
)
