package model

import "time"

// RunStatus represents the current phase of an enrichment run.
type RunStatus string

const (
	RunStatusPending         RunStatus = "pending"
	RunStatusLoading         RunStatus = "loading"
	RunStatusEnrichingLusha  RunStatus = "enriching_lusha"
	RunStatusEnrichingApollo RunStatus = "enriching_apollo"
	RunStatusWaiting         RunStatus = "waiting_callbacks"
	RunStatusExporting       RunStatus = "exporting"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusFailed          RunStatus = "failed"
)

// Done reports whether the run has reached a final state.
func (s RunStatus) Done() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run represents a single load-to-export enrichment cycle.
type Run struct {
	ID         string    `json:"id"`
	Status     RunStatus `json:"status"`
	InputFile  string    `json:"input_file"`
	OutputFile string    `json:"output_file,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
