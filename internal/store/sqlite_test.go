package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enrich/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedPeople(t *testing.T, st *SQLiteStore, n int) {
	t.Helper()
	people := make([]model.PersonInput, n)
	for i := range people {
		people[i] = model.PersonInput{
			RowID:     int64(i + 1),
			FirstName: fmt.Sprintf("First%d", i+1),
			LastName:  fmt.Sprintf("Last%d", i+1),
			Company:   fmt.Sprintf("Company %d", i+1),
		}
	}
	_, err := st.UpsertRecords(context.Background(), people)
	require.NoError(t, err)
}

// --- Records ---

func TestSQLite_UpsertRecords_InsertAndReload(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	people := []model.PersonInput{
		{RowID: 1, FirstName: "Ada", LastName: "Lovelace", Company: "Analytical Engines"},
		{RowID: 2, FirstName: "Grace", LastName: "Hopper", Company: "Navy"},
	}

	n, err := st.UpsertRecords(ctx, people)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Mutate a record, then reload the same input: existing state survives.
	err = st.UpdateProviderResult(ctx, 1, model.ProviderLusha, model.ProviderResult{
		Status: model.StatusComplete,
		Email:  "ada@example.com",
	})
	require.NoError(t, err)

	n, err = st.UpsertRecords(ctx, people)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	records, err := st.AllRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.StatusComplete, records[0].Lusha.Status)
	assert.Equal(t, "ada@example.com", records[0].Lusha.Email)
}

func TestSQLite_UpsertRecords_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	n, err := st.UpsertRecords(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLite_UpdateProviderResult_ColumnGroups(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPeople(t, st, 1)

	err := st.UpdateProviderResult(ctx, 1, model.ProviderLusha, model.ProviderResult{
		Status:     model.StatusComplete,
		Email:      "p@example.com",
		Mobile:     "+4915112345678",
		DirectDial: "+493012345678",
		Raw:        json.RawMessage(`{"source":"lusha"}`),
	})
	require.NoError(t, err)

	err = st.UpdateProviderResult(ctx, 1, model.ProviderApollo, model.ProviderResult{
		Status:   model.StatusAwaitingCallback,
		Email:    "p@corp.example.com",
		PersonID: "apollo-person-1",
	})
	require.NoError(t, err)

	records, err := st.AllRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, model.StatusComplete, r.Lusha.Status)
	assert.Equal(t, "p@example.com", r.Lusha.Email)
	assert.Equal(t, "+4915112345678", r.Lusha.Mobile)
	assert.Equal(t, "+493012345678", r.Lusha.DirectDial)
	assert.JSONEq(t, `{"source":"lusha"}`, string(r.Lusha.Raw))

	assert.Equal(t, model.StatusAwaitingCallback, r.Apollo.Status)
	assert.Equal(t, "p@corp.example.com", r.Apollo.Email)
	assert.Equal(t, "apollo-person-1", r.Apollo.PersonID)
	assert.Empty(t, r.Apollo.Mobile)
}

func TestSQLite_UpdateProviderResult_PartialKeepsFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPeople(t, st, 1)

	err := st.UpdateProviderResult(ctx, 1, model.ProviderApollo, model.ProviderResult{
		Status: model.StatusAwaitingCallback,
		Email:  "kept@example.com",
	})
	require.NoError(t, err)

	// Status-only write must not clobber the stored email.
	err = st.UpdateProviderResult(ctx, 1, model.ProviderApollo, model.ProviderResult{
		Status: model.StatusComplete,
	})
	require.NoError(t, err)

	records, err := st.AllRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kept@example.com", records[0].Apollo.Email)
	assert.Equal(t, model.StatusComplete, records[0].Apollo.Status)
}

func TestSQLite_UpdateProviderResult_UnknownRow(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateProviderResult(context.Background(), 404, model.ProviderLusha, model.ProviderResult{
		Status: model.StatusError,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record not found")
}

func TestSQLite_UpdateAwaitingPhones_Guarded(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPeople(t, st, 2)

	require.NoError(t, st.UpdateProviderResult(ctx, 1, model.ProviderApollo, model.ProviderResult{
		Status: model.StatusAwaitingCallback,
	}))

	// Row 1 is awaiting: the guarded write lands.
	ok, err := st.UpdateAwaitingPhones(ctx, 1, "+4915100000001", "+4930000000001", json.RawMessage(`{"cb":true}`))
	require.NoError(t, err)
	assert.True(t, ok)

	// Row 2 never entered awaiting_callback: no-op.
	ok, err = st.UpdateAwaitingPhones(ctx, 2, "+4915100000002", "", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	records, err := st.AllRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, records[0].Apollo.Status)
	assert.Equal(t, "+4915100000001", records[0].Apollo.Mobile)
	assert.Equal(t, "+4930000000001", records[0].Apollo.DirectDial)
	assert.Equal(t, model.StatusPending, records[1].Apollo.Status)
	assert.Empty(t, records[1].Apollo.Mobile)
}

func TestSQLite_TimeoutSweepWinsRace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPeople(t, st, 1)

	require.NoError(t, st.UpdateProviderResult(ctx, 1, model.ProviderApollo, model.ProviderResult{
		Status:   model.StatusAwaitingCallback,
		PersonID: "person-1",
	}))
	require.NoError(t, st.RegisterCorrelation(ctx, model.Correlation{
		PersonID:    "person-1",
		RowID:       1,
		BatchID:     "b1",
		SubmittedAt: time.Now().UTC(),
	}))

	// The sweep transitions the row first.
	n, err := st.MarkAllAwaitingTimedOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A late callback still stamps the correlation but cannot revert the row.
	rowID, found, err := st.MarkCallbackReceived(ctx, "person-1", []byte(`{"late":true}`))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), rowID)

	ok, err := st.UpdateAwaitingPhones(ctx, rowID, "+4915100000001", "", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	records, err := st.AllRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimeout, records[0].Apollo.Status)
}

func TestSQLite_RecordsByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPeople(t, st, 3)

	require.NoError(t, st.UpdateProviderResult(ctx, 2, model.ProviderLusha, model.ProviderResult{
		Status: model.StatusComplete,
	}))

	pending, err := st.RecordsByStatus(ctx, model.ProviderLusha, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].RowID)
	assert.Equal(t, int64(3), pending[1].RowID)

	complete, err := st.RecordsByStatus(ctx, model.ProviderLusha, model.StatusComplete)
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, int64(2), complete[0].RowID)
}

func TestSQLite_AllRecords_RowIDOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Insert out of order; reads come back sorted.
	_, err := st.UpsertRecords(ctx, []model.PersonInput{
		{RowID: 3, FirstName: "C", LastName: "Three"},
		{RowID: 1, FirstName: "A", LastName: "One"},
		{RowID: 2, FirstName: "B", LastName: "Two"},
	})
	require.NoError(t, err)

	records, err := st.AllRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.RowID)
	}
}

func TestSQLite_StatusSummary_DerivedPending(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPeople(t, st, 5)

	require.NoError(t, st.UpdateProviderResult(ctx, 1, model.ProviderLusha, model.ProviderResult{Status: model.StatusComplete}))
	require.NoError(t, st.UpdateProviderResult(ctx, 2, model.ProviderLusha, model.ProviderResult{Status: model.StatusError, ErrorText: "no match"}))
	require.NoError(t, st.UpdateProviderResult(ctx, 1, model.ProviderApollo, model.ProviderResult{Status: model.StatusComplete}))
	require.NoError(t, st.UpdateProviderResult(ctx, 2, model.ProviderApollo, model.ProviderResult{Status: model.StatusAwaitingCallback}))
	require.NoError(t, st.UpdateProviderResult(ctx, 3, model.ProviderApollo, model.ProviderResult{Status: model.StatusTimeout}))

	sum, err := st.StatusSummary(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(5), sum.TotalRows)
	assert.Equal(t, int64(1), sum.Lusha.Complete)
	assert.Equal(t, int64(1), sum.Lusha.Error)
	assert.Equal(t, int64(3), sum.Lusha.Pending)
	assert.Equal(t, int64(1), sum.Apollo.Complete)
	assert.Equal(t, int64(0), sum.Apollo.Error)
	assert.Equal(t, int64(1), sum.Apollo.AwaitingCallback)
	assert.Equal(t, int64(1), sum.Apollo.Timeout)
	assert.Equal(t, int64(2), sum.Apollo.Pending)

	// Per-provider counts always partition the total.
	assert.Equal(t, sum.TotalRows, sum.Lusha.Complete+sum.Lusha.Error+sum.Lusha.Pending)
	assert.Equal(t, sum.TotalRows, sum.Apollo.Complete+sum.Apollo.Error+sum.Apollo.AwaitingCallback+sum.Apollo.Timeout+sum.Apollo.Pending)
}

func TestSQLite_StatusSummary_EmptyStore(t *testing.T) {
	st := newTestSQLiteStore(t)

	sum, err := st.StatusSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.TotalRows)
	assert.Equal(t, int64(0), sum.Lusha.Pending)
	assert.Equal(t, int64(0), sum.Apollo.Pending)
}

// --- Callback correlation ---

func TestSQLite_RegisterCorrelation_FirstWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPeople(t, st, 2)

	require.NoError(t, st.RegisterCorrelation(ctx, model.Correlation{
		PersonID: "p-dup", RowID: 1, BatchID: "b1", SubmittedAt: time.Now().UTC(),
	}))
	// Duplicate registration is a no-op, not an overwrite.
	require.NoError(t, st.RegisterCorrelation(ctx, model.Correlation{
		PersonID: "p-dup", RowID: 2, BatchID: "b2", SubmittedAt: time.Now().UTC(),
	}))

	rowID, found, err := st.MarkCallbackReceived(ctx, "p-dup", []byte(`{}`))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), rowID)
}

func TestSQLite_MarkCallbackReceived_Unknown(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, found, err := st.MarkCallbackReceived(context.Background(), "ghost", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLite_MarkCallbackReceived_Redelivery(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPeople(t, st, 1)

	require.NoError(t, st.RegisterCorrelation(ctx, model.Correlation{
		PersonID: "p-1", RowID: 1, BatchID: "b1", SubmittedAt: time.Now().UTC(),
	}))

	rowID, found, err := st.MarkCallbackReceived(ctx, "p-1", []byte(`{"n":1}`))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), rowID)

	// Re-delivery restamps and the lookup still succeeds.
	rowID, found, err = st.MarkCallbackReceived(ctx, "p-1", []byte(`{"n":2}`))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), rowID)
}

func TestSQLite_CallbackCounts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPeople(t, st, 3)

	for i := int64(1); i <= 2; i++ {
		require.NoError(t, st.UpdateProviderResult(ctx, i, model.ProviderApollo, model.ProviderResult{
			Status: model.StatusAwaitingCallback,
		}))
		require.NoError(t, st.RegisterCorrelation(ctx, model.Correlation{
			PersonID: fmt.Sprintf("p-%d", i), RowID: i, BatchID: "b1", SubmittedAt: time.Now().UTC(),
		}))
	}

	pending, err := st.CountPendingCallbacks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	total, err := st.CountTotalCallbacks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	// One callback arrives and completes its row.
	ok, err := st.UpdateAwaitingPhones(ctx, 1, "+49151", "", nil)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err = st.CountPendingCallbacks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestSQLite_MarkAllAwaitingTimedOut(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPeople(t, st, 3)

	require.NoError(t, st.UpdateProviderResult(ctx, 1, model.ProviderApollo, model.ProviderResult{Status: model.StatusAwaitingCallback}))
	require.NoError(t, st.UpdateProviderResult(ctx, 2, model.ProviderApollo, model.ProviderResult{Status: model.StatusComplete}))

	n, err := st.MarkAllAwaitingTimedOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := st.AllRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimeout, records[0].Apollo.Status)
	assert.Equal(t, model.StatusComplete, records[1].Apollo.Status)
	assert.Equal(t, model.StatusPending, records[2].Apollo.Status)
}

// --- Batch log ---

func TestSQLite_BatchLog_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.LogBatch(ctx, model.BatchLog{
		BatchID:  "abc12345",
		Provider: model.ProviderLusha,
		RowIDs:   []int64{1, 2, 3},
	})
	require.NoError(t, err)

	err = st.CompleteBatch(ctx, "abc12345", model.BatchComplete, 200, "")
	require.NoError(t, err)

	err = st.CompleteBatch(ctx, "missing", model.BatchError, 500, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch not found")
}

// --- Metadata ---

func TestSQLite_Meta_SetGetOverwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, found, err := st.GetMeta(ctx, "input_file")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, st.SetMeta(ctx, "input_file", "leads.xlsx"))
	require.NoError(t, st.SetMeta(ctx, "input_file", "leads_v2.xlsx"))

	value, found, err := st.GetMeta(ctx, "input_file")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "leads_v2.xlsx", value)
}

// --- Runs registry ---

func TestSQLite_Runs_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "leads.xlsx")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusPending, run.Status)

	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusEnrichingLusha, ""))
	require.NoError(t, st.SetRunOutput(ctx, run.ID, "leads_enriched.xlsx"))
	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed, "apollo unreachable"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "leads.xlsx", got.InputFile)
	assert.Equal(t, "leads_enriched.xlsx", got.OutputFile)
	assert.Equal(t, "apollo unreachable", got.Error)
}

func TestSQLite_Runs_UpdateUnknown(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateRunStatus(context.Background(), "missing", model.RunStatusCompleted, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_ListRuns_FilterAndLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var failed string
	for i := 0; i < 3; i++ {
		run, err := st.CreateRun(ctx, fmt.Sprintf("input%d.xlsx", i))
		require.NoError(t, err)
		if i == 1 {
			failed = run.ID
			require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed, "boom"))
		}
	}

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failedRuns, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failedRuns, 1)
	assert.Equal(t, failed, failedRuns[0].ID)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
