package model

import (
	"encoding/json"
	"time"
)

// Provider identifies one of the two enrichment providers.
type Provider string

const (
	ProviderLusha  Provider = "lusha"
	ProviderApollo Provider = "apollo"
)

// RecordStatus represents one provider's enrichment state for a record.
type RecordStatus string

const (
	StatusPending          RecordStatus = "pending"
	StatusComplete         RecordStatus = "complete"
	StatusError            RecordStatus = "error"
	StatusAwaitingCallback RecordStatus = "awaiting_callback"
	StatusTimeout          RecordStatus = "timeout"
)

// Terminal reports whether no further provider-driven mutation occurs
// once this status is reached.
func (s RecordStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusTimeout
}

// PersonInput is one row of the source spreadsheet, identity included.
// RowID is 1-based and matches the source-row order; rows skipped at load
// time still consume their index.
type PersonInput struct {
	RowID     int64  `json:"row_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
}

// ProviderFields is one provider's mutable column group on a record.
type ProviderFields struct {
	Status     RecordStatus    `json:"status"`
	Email      string          `json:"email,omitempty"`
	Mobile     string          `json:"mobile,omitempty"`
	DirectDial string          `json:"direct_dial,omitempty"`
	Error      string          `json:"error,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	PersonID   string          `json:"person_id,omitempty"` // Apollo external identifier
}

// EnrichmentRecord is one person's per-run enrichment state.
type EnrichmentRecord struct {
	RowID     int64          `json:"row_id"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Company   string         `json:"company"`
	Lusha     ProviderFields `json:"lusha"`
	Apollo    ProviderFields `json:"apollo"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ProviderResult is the column-group update a provider adapter or the
// webhook correlator writes onto a record. Optional fields are written
// only when non-empty; Status is always written.
type ProviderResult struct {
	Status     RecordStatus
	Email      string
	Mobile     string
	DirectDial string
	ErrorText  string
	Raw        json.RawMessage
	PersonID   string
}

// Correlation tracks one externally-issued match request expecting an
// asynchronous callback. PersonID is the provider-assigned identifier and
// is unique: a duplicate registration is a no-op, not an overwrite.
type Correlation struct {
	PersonID    string          `json:"person_id"`
	RowID       int64           `json:"row_id"`
	BatchID     string          `json:"batch_id"`
	SubmittedAt time.Time       `json:"submitted_at"`
	ReceivedAt  *time.Time      `json:"received_at,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// BatchStatus represents the lifecycle of one outbound batch call.
type BatchStatus string

const (
	BatchSubmitted BatchStatus = "submitted"
	BatchComplete  BatchStatus = "complete"
	BatchError     BatchStatus = "error"
)

// BatchLog is one row of the append-only outbound-batch audit trail.
type BatchLog struct {
	BatchID     string      `json:"batch_id"`
	Provider    Provider    `json:"provider"`
	RowIDs      []int64     `json:"row_ids"`
	Status      BatchStatus `json:"status"`
	SubmittedAt time.Time   `json:"submitted_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	HTTPStatus  int         `json:"http_status,omitempty"`
	ErrorText   string      `json:"error,omitempty"`
}

// SyncCounts aggregates record statuses for the fully synchronous provider.
// Pending is always derived as total minus the stored counts, never stored.
type SyncCounts struct {
	Complete int64 `json:"complete"`
	Error    int64 `json:"error"`
	Pending  int64 `json:"pending"`
}

// AsyncCounts aggregates record statuses for the callback-based provider.
type AsyncCounts struct {
	Complete         int64 `json:"complete"`
	Error            int64 `json:"error"`
	AwaitingCallback int64 `json:"awaiting_callback"`
	Timeout          int64 `json:"timeout"`
	Pending          int64 `json:"pending"`
}

// StatusSummary is the aggregate per-provider progress view.
type StatusSummary struct {
	TotalRows int64       `json:"total_rows"`
	Lusha     SyncCounts  `json:"lusha"`
	Apollo    AsyncCounts `json:"apollo"`
}
