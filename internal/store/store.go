// Package store persists enrichment records, callback correlations,
// batch logs, and the runs registry behind a driver-agnostic interface.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enrich/internal/model"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment pipeline.
// Every operation is atomic and durable before return; implementations
// are safe for concurrent use by the orchestrator and the webhook
// listener goroutines.
type Store interface {
	// Records
	UpsertRecords(ctx context.Context, people []model.PersonInput) (int64, error)
	UpdateProviderResult(ctx context.Context, rowID int64, provider model.Provider, res model.ProviderResult) error
	UpdateAwaitingPhones(ctx context.Context, rowID int64, mobile, directDial string, raw json.RawMessage) (bool, error)
	RecordsByStatus(ctx context.Context, provider model.Provider, status model.RecordStatus) ([]model.EnrichmentRecord, error)
	AllRecords(ctx context.Context) ([]model.EnrichmentRecord, error)
	StatusSummary(ctx context.Context) (*model.StatusSummary, error)

	// Callback correlation
	RegisterCorrelation(ctx context.Context, c model.Correlation) error
	MarkCallbackReceived(ctx context.Context, personID string, payload []byte) (int64, bool, error)
	CountPendingCallbacks(ctx context.Context) (int64, error)
	CountTotalCallbacks(ctx context.Context) (int64, error)
	MarkAllAwaitingTimedOut(ctx context.Context) (int64, error)

	// Batch audit trail
	LogBatch(ctx context.Context, b model.BatchLog) error
	CompleteBatch(ctx context.Context, batchID string, status model.BatchStatus, httpStatus int, errText string) error

	// Run metadata
	SetMeta(ctx context.Context, key, value string) error
	GetMeta(ctx context.Context, key string) (string, bool, error)

	// Runs registry
	CreateRun(ctx context.Context, inputFile string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errText string) error
	SetRunOutput(ctx context.Context, runID string, outputFile string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// recordColumns is the shared SELECT column list for enrichment rows.
const recordColumns = `row_id, first_name, last_name, company,
	lusha_status, lusha_email, lusha_mobile, lusha_direct_dial, lusha_error, lusha_raw,
	apollo_status, apollo_email, apollo_mobile, apollo_direct_dial, apollo_error, apollo_raw, apollo_person_id,
	created_at, updated_at`

// columnPrefix maps a provider to its column group prefix.
func columnPrefix(p model.Provider) string {
	if p == model.ProviderApollo {
		return "apollo"
	}
	return "lusha"
}
