package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lead-enrich/internal/config"
	"github.com/sells-group/lead-enrich/internal/enrich"
	"github.com/sells-group/lead-enrich/internal/excel"
	"github.com/sells-group/lead-enrich/internal/model"
	"github.com/sells-group/lead-enrich/internal/store"
	"github.com/sells-group/lead-enrich/internal/webhook"
	"github.com/sells-group/lead-enrich/pkg/anthropic"
)

func newPipelineStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// writeWorkbook writes a single-sheet xlsx and returns its path.
func writeWorkbook(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "input.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

// peopleWorkbook writes a header plus n fully-populated person rows.
func peopleWorkbook(t *testing.T, n int) string {
	t.Helper()
	rows := [][]string{{"Vorname", "Nachname", "Firma"}}
	for i := 1; i <= n; i++ {
		rows = append(rows, []string{
			fmt.Sprintf("First%d", i),
			fmt.Sprintf("Last%d", i),
			fmt.Sprintf("Company %d", i),
		})
	}
	return writeWorkbook(t, rows)
}

// testConfig keeps batches small and the wait loop fast.
func testConfig() *config.Config {
	return &config.Config{
		Lusha:     config.ProviderConfig{BatchSize: 2},
		Apollo:    config.ProviderConfig{BatchSize: 2},
		Anthropic: config.AnthropicConfig{Model: "claude-haiku-4-5-20251001"},
		Webhook: config.WebhookConfig{
			TimeoutSecs:      5,
			PollIntervalSecs: 0,
		},
	}
}

func newTestListener() *webhook.Listener {
	return webhook.NewListener(webhook.NewCorrelator(enrich.DefaultRules()))
}

// mappingPtr returns an explicit column mapping, skipping detection.
func mappingPtr(first, last, company int) *excel.ColumnMapping {
	return &excel.ColumnMapping{FirstName: first, LastName: last, Company: company}
}

// fakeEnricher runs a canned function per batch and remembers every batch
// it was handed.
type fakeEnricher struct {
	provider model.Provider
	fn       func(ctx context.Context, batch []model.PersonInput, st store.Store) (int, error)

	mu      sync.Mutex
	batches [][]model.PersonInput
}

func (f *fakeEnricher) Provider() model.Provider { return f.provider }

func (f *fakeEnricher) EnrichAndSave(ctx context.Context, batch []model.PersonInput, st store.Store) (int, error) {
	f.mu.Lock()
	f.batches = append(f.batches, batch)
	f.mu.Unlock()
	return f.fn(ctx, batch, st)
}

func (f *fakeEnricher) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// completeAll marks every batch member complete with a provider-tagged
// email.
func completeAll(provider model.Provider) func(context.Context, []model.PersonInput, store.Store) (int, error) {
	return func(ctx context.Context, batch []model.PersonInput, st store.Store) (int, error) {
		for _, p := range batch {
			if err := st.UpdateProviderResult(ctx, p.RowID, provider, model.ProviderResult{
				Status: model.StatusComplete,
				Email:  fmt.Sprintf("row%d@%s.test", p.RowID, provider),
			}); err != nil {
				return 0, err
			}
		}
		return len(batch), nil
	}
}

// awaitAll marks every batch member awaiting_callback and registers a
// correlation keyed "person-<row>".
func awaitAll() func(context.Context, []model.PersonInput, store.Store) (int, error) {
	return func(ctx context.Context, batch []model.PersonInput, st store.Store) (int, error) {
		for _, p := range batch {
			if err := st.UpdateProviderResult(ctx, p.RowID, model.ProviderApollo, model.ProviderResult{
				Status:   model.StatusAwaitingCallback,
				Email:    fmt.Sprintf("row%d@apollo.test", p.RowID),
				PersonID: fmt.Sprintf("person-%d", p.RowID),
			}); err != nil {
				return 0, err
			}
			if err := st.RegisterCorrelation(ctx, model.Correlation{
				PersonID:    fmt.Sprintf("person-%d", p.RowID),
				RowID:       p.RowID,
				BatchID:     "test-batch",
				SubmittedAt: time.Now().UTC(),
			}); err != nil {
				return 0, err
			}
		}
		return len(batch), nil
	}
}

// fakeAI satisfies anthropic.Client with a fixed response.
type fakeAI struct {
	text string
	err  error
}

func (f *fakeAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
	}, nil
}
