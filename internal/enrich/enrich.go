// Package enrich maps provider responses onto enrichment records: one
// adapter per provider sharing batch bookkeeping, plus the classification
// rules that pick emails and phone numbers out of wire payloads.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enrich/internal/model"
	"github.com/sells-group/lead-enrich/internal/store"
)

// Enricher is one provider's batch strategy. EnrichAndSave issues the wire
// call for one batch and persists every member's outcome; the returned
// count is the number of records the provider matched.
type Enricher interface {
	Provider() model.Provider
	EnrichAndSave(ctx context.Context, batch []model.PersonInput, st store.Store) (int, error)
}

// newBatchID returns the short batch identifier used in batch logs.
func newBatchID() string {
	return uuid.NewString()[:8]
}

// logBatch records a submitted batch before its wire call goes out.
func logBatch(ctx context.Context, st store.Store, provider model.Provider, batchID string, batch []model.PersonInput) error {
	rowIDs := make([]int64, len(batch))
	for i, p := range batch {
		rowIDs[i] = p.RowID
	}
	return st.LogBatch(ctx, model.BatchLog{
		BatchID:     batchID,
		Provider:    provider,
		RowIDs:      rowIDs,
		Status:      model.BatchSubmitted,
		SubmittedAt: time.Now().UTC(),
	})
}

// failBatch marks the batch log and every member record with the batch-level
// failure so no record stays pending behind a dead batch. Store errors on
// this path are logged, not returned; the original cause is what propagates.
func failBatch(ctx context.Context, st store.Store, provider model.Provider, batchID string, batch []model.PersonInput, cause error) {
	httpStatus := 0
	var carrier interface{ HTTPStatus() int }
	if errors.As(cause, &carrier) {
		httpStatus = carrier.HTTPStatus()
	}

	msg := cause.Error()
	if err := st.CompleteBatch(ctx, batchID, model.BatchError, httpStatus, msg); err != nil {
		zap.L().Error("mark batch failed",
			zap.String("provider", string(provider)),
			zap.String("batch_id", batchID),
			zap.Error(err))
	}
	for _, p := range batch {
		if err := st.UpdateProviderResult(ctx, p.RowID, provider, model.ProviderResult{
			Status:    model.StatusError,
			ErrorText: msg,
		}); err != nil {
			zap.L().Error("mark record failed",
				zap.String("provider", string(provider)),
				zap.Int64("row_id", p.RowID),
				zap.Error(err))
		}
	}
}
