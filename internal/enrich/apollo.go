package enrich

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enrich/internal/model"
	"github.com/sells-group/lead-enrich/internal/resilience"
	"github.com/sells-group/lead-enrich/internal/store"
	"github.com/sells-group/lead-enrich/pkg/apollo"
)

// ApolloEnricher runs the two-stage provider phase: the synchronous match
// call resolves emails and an external person id, phone numbers arrive
// later through the webhook listener. Matched records are parked as
// awaiting_callback with a correlation row keyed by that person id.
type ApolloEnricher struct {
	client     apollo.Client
	webhookURL string
	retry      resilience.RetryConfig
}

// NewApolloEnricher creates the Apollo adapter. webhookURL is the publicly
// reachable callback endpoint sent with every match request.
func NewApolloEnricher(client apollo.Client, webhookURL string, retry resilience.RetryConfig) *ApolloEnricher {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("apollo", "enrich")
	}
	return &ApolloEnricher{client: client, webhookURL: webhookURL, retry: retry}
}

// Provider implements Enricher.
func (e *ApolloEnricher) Provider() model.Provider { return model.ProviderApollo }

// EnrichAndSave implements Enricher. A record that Apollo does not match,
// or matches without an external person id, is written as status error and
// awaits no callback; only a batch-level transport/parse/store failure
// propagates.
func (e *ApolloEnricher) EnrichAndSave(ctx context.Context, batch []model.PersonInput, st store.Store) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	batchID := newBatchID()
	if err := logBatch(ctx, st, model.ProviderApollo, batchID, batch); err != nil {
		return 0, eris.Wrap(err, "enrich: log apollo batch")
	}

	var matched int
	var err error
	if len(batch) == 1 {
		matched, err = e.enrichSingle(ctx, batch[0], batchID, st)
	} else {
		matched, err = e.enrichBulk(ctx, batch, batchID, st)
	}
	if err != nil {
		zap.L().Error("apollo batch failed",
			zap.String("batch_id", batchID),
			zap.Int("size", len(batch)),
			zap.Error(err))
		failBatch(ctx, st, model.ProviderApollo, batchID, batch, err)
		return 0, err
	}

	if err := st.CompleteBatch(ctx, batchID, model.BatchComplete, 0, ""); err != nil {
		return matched, eris.Wrap(err, "enrich: complete apollo batch")
	}
	zap.L().Info("apollo batch complete",
		zap.String("batch_id", batchID),
		zap.Int("size", len(batch)),
		zap.Int("matched", matched))
	return matched, nil
}

func (e *ApolloEnricher) enrichSingle(ctx context.Context, person model.PersonInput, batchID string, st store.Store) (int, error) {
	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*apollo.MatchResponse, error) {
		return e.client.MatchPerson(ctx, apollo.MatchRequest{
			FirstName:            person.FirstName,
			LastName:             person.LastName,
			OrganizationName:     person.Company,
			RevealPersonalEmails: true,
			RevealPhoneNumber:    true,
			WebhookURL:           e.webhookURL,
		})
	})
	if err != nil {
		return 0, err
	}

	if err := e.saveMatch(ctx, st, person.RowID, batchID, resp.Person); err != nil {
		return 0, err
	}
	if resp.Person == nil || resp.Person.ID == "" {
		return 0, nil
	}
	return 1, nil
}

func (e *ApolloEnricher) enrichBulk(ctx context.Context, batch []model.PersonInput, batchID string, st store.Store) (int, error) {
	req := apollo.BulkMatchRequest{
		RevealPersonalEmails: true,
		RevealPhoneNumber:    true,
		WebhookURL:           e.webhookURL,
		Details:              make([]apollo.MatchDetail, 0, len(batch)),
	}
	for _, p := range batch {
		req.Details = append(req.Details, apollo.MatchDetail{
			FirstName:        p.FirstName,
			LastName:         p.LastName,
			OrganizationName: p.Company,
		})
	}

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*apollo.BulkMatchResponse, error) {
		return e.client.BulkMatchPeople(ctx, req)
	})
	if err != nil {
		return 0, err
	}

	// Matches come back by submission position; a short or null-padded
	// array means the tail went unmatched.
	matched := 0
	for i, p := range batch {
		var match *apollo.PersonMatch
		if i < len(resp.Matches) {
			match = resp.Matches[i]
		}
		if err := e.saveMatch(ctx, st, p.RowID, batchID, match); err != nil {
			return matched, err
		}
		if match != nil && match.ID != "" {
			matched++
		}
	}
	return matched, nil
}

// saveMatch parks a matched record as awaiting its phone callback and
// registers the correlation; a miss is terminal immediately.
func (e *ApolloEnricher) saveMatch(ctx context.Context, st store.Store, rowID int64, batchID string, match *apollo.PersonMatch) error {
	if match == nil || match.ID == "" {
		return st.UpdateProviderResult(ctx, rowID, model.ProviderApollo, model.ProviderResult{
			Status:    model.StatusError,
			ErrorText: "no match found",
		})
	}

	raw, err := json.Marshal(match)
	if err != nil {
		return eris.Wrap(err, "enrich: marshal apollo match")
	}

	if err := st.UpdateProviderResult(ctx, rowID, model.ProviderApollo, model.ProviderResult{
		Status:   model.StatusAwaitingCallback,
		Email:    match.Email,
		PersonID: match.ID,
		Raw:      raw,
	}); err != nil {
		return err
	}

	return st.RegisterCorrelation(ctx, model.Correlation{
		PersonID:    match.ID,
		RowID:       rowID,
		BatchID:     batchID,
		SubmittedAt: time.Now().UTC(),
	})
}
