// Package webhook receives Apollo's asynchronous phone deliveries and
// correlates them back onto enrichment records by external person id.
package webhook

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enrich/internal/enrich"
	"github.com/sells-group/lead-enrich/internal/store"
	"github.com/sells-group/lead-enrich/pkg/apollo"
)

// Correlator maps callback payloads onto awaiting records: stamp the
// correlation row, classify the delivered phones, and complete the record.
type Correlator struct {
	rules enrich.ProviderRules
}

// NewCorrelator creates a correlator using the Apollo classification table.
func NewCorrelator(rules enrich.Rules) *Correlator {
	return &Correlator{rules: rules.Apollo}
}

// Correlate processes every person entry in one callback delivery and
// returns how many were correlated to a record. An entry without an
// external id, or with an id no correlation row knows, is skipped with a
// log line; a record that already left awaiting_callback (the timeout
// sweep won the race) keeps its stamped correlation but is not rewritten.
// Only store failures are errors.
func (c *Correlator) Correlate(ctx context.Context, payload *apollo.WebhookPayload, st store.Store) (int, error) {
	processed := 0

	for _, person := range payload.People {
		if person.ID == "" {
			zap.L().Info("callback person has no id, skipping")
			continue
		}

		raw, err := json.Marshal(person)
		if err != nil {
			return processed, eris.Wrap(err, "webhook: marshal callback person")
		}

		rowID, found, err := st.MarkCallbackReceived(ctx, person.ID, raw)
		if err != nil {
			return processed, eris.Wrapf(err, "webhook: mark callback %s", person.ID)
		}
		if !found {
			zap.L().Warn("no correlation for callback person id",
				zap.String("person_id", person.ID))
			continue
		}

		phones := c.rules.Classify(enrich.FromApolloPhones(person.PhoneNumbers))

		updated, err := st.UpdateAwaitingPhones(ctx, rowID, phones.Mobile, phones.DirectDial, raw)
		if err != nil {
			return processed, eris.Wrapf(err, "webhook: update row %d", rowID)
		}
		if !updated {
			zap.L().Warn("record no longer awaiting callback",
				zap.Int64("row_id", rowID),
				zap.String("person_id", person.ID))
			continue
		}

		zap.L().Info("callback correlated",
			zap.Int64("row_id", rowID),
			zap.String("person_id", person.ID),
			zap.String("mobile", phones.Mobile),
			zap.String("direct_dial", phones.DirectDial))
		processed++
	}

	return processed, nil
}
