package enrich

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enrich/internal/model"
	"github.com/sells-group/lead-enrich/internal/resilience"
	"github.com/sells-group/lead-enrich/internal/store"
	"github.com/sells-group/lead-enrich/pkg/lusha"
)

// LushaEnricher runs the fully synchronous provider phase: one wire call
// per batch, emails and phones resolved in the same response.
type LushaEnricher struct {
	client lusha.Client
	rules  ProviderRules
	retry  resilience.RetryConfig
}

// NewLushaEnricher creates the Lusha adapter.
func NewLushaEnricher(client lusha.Client, rules Rules, retry resilience.RetryConfig) *LushaEnricher {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("lusha", "enrich")
	}
	return &LushaEnricher{client: client, rules: rules.Lusha, retry: retry}
}

// Provider implements Enricher.
func (e *LushaEnricher) Provider() model.Provider { return model.ProviderLusha }

// EnrichAndSave implements Enricher. An unmatched or provider-rejected
// record is written as status error and does not fail the batch; only a
// batch-level transport/parse/store failure propagates.
func (e *LushaEnricher) EnrichAndSave(ctx context.Context, batch []model.PersonInput, st store.Store) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	batchID := newBatchID()
	if err := logBatch(ctx, st, model.ProviderLusha, batchID, batch); err != nil {
		return 0, eris.Wrap(err, "enrich: log lusha batch")
	}

	var matched int
	var err error
	if len(batch) == 1 {
		matched, err = e.enrichSingle(ctx, batch[0], st)
	} else {
		matched, err = e.enrichBulk(ctx, batch, st)
	}
	if err != nil {
		zap.L().Error("lusha batch failed",
			zap.String("batch_id", batchID),
			zap.Int("size", len(batch)),
			zap.Error(err))
		failBatch(ctx, st, model.ProviderLusha, batchID, batch, err)
		return 0, err
	}

	if err := st.CompleteBatch(ctx, batchID, model.BatchComplete, 0, ""); err != nil {
		return matched, eris.Wrap(err, "enrich: complete lusha batch")
	}
	zap.L().Info("lusha batch complete",
		zap.String("batch_id", batchID),
		zap.Int("size", len(batch)),
		zap.Int("matched", matched))
	return matched, nil
}

func (e *LushaEnricher) enrichSingle(ctx context.Context, person model.PersonInput, st store.Store) (int, error) {
	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*lusha.PersonResponse, error) {
		return e.client.Person(ctx, lusha.PersonRequest{
			FirstName:   person.FirstName,
			LastName:    person.LastName,
			CompanyName: person.Company,
		})
	})
	if err != nil {
		return 0, err
	}

	contact := resp.Contact
	switch {
	case contact == nil:
		return 0, e.saveMiss(ctx, st, person.RowID, "no contact returned")
	case contact.Error != "":
		return 0, e.saveMiss(ctx, st, person.RowID, contact.Error)
	case contact.Data == nil:
		return 0, e.saveMiss(ctx, st, person.RowID, "no data in contact")
	}
	if err := e.saveContact(ctx, st, person.RowID, contact.Data); err != nil {
		return 0, err
	}
	return 1, nil
}

func (e *LushaEnricher) enrichBulk(ctx context.Context, batch []model.PersonInput, st store.Store) (int, error) {
	req := lusha.BulkRequest{
		Contacts: make([]lusha.BulkContactRequest, 0, len(batch)),
		Metadata: lusha.BulkMetadata{RevealEmails: true, RevealPhones: true, PartialProfile: true},
	}
	for _, p := range batch {
		req.Contacts = append(req.Contacts, lusha.BulkContactRequest{
			ContactID: strconv.FormatInt(p.RowID, 10),
			FullName:  p.FirstName + " " + p.LastName,
			Companies: []lusha.BulkCompany{{Name: p.Company, IsCurrent: true}},
		})
	}

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*lusha.BulkResponse, error) {
		return e.client.BulkPerson(ctx, req)
	})
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, p := range batch {
		contact, ok := resp.Contacts[strconv.FormatInt(p.RowID, 10)]
		switch {
		case !ok:
			err = e.saveMiss(ctx, st, p.RowID, "no result returned")
		case contact.Error != "":
			err = e.saveMiss(ctx, st, p.RowID, contact.Error)
		case contact.Data == nil:
			err = e.saveMiss(ctx, st, p.RowID, "no data in contact")
		default:
			if err = e.saveContact(ctx, st, p.RowID, contact.Data); err == nil {
				matched++
			}
		}
		if err != nil {
			return matched, err
		}
	}
	return matched, nil
}

// saveContact extracts the best email and phones and completes the record.
func (e *LushaEnricher) saveContact(ctx context.Context, st store.Store, rowID int64, data *lusha.ContactData) error {
	phones := e.rules.Classify(FromLushaPhones(data.PhoneNumbers))

	raw, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "enrich: marshal lusha contact")
	}

	return st.UpdateProviderResult(ctx, rowID, model.ProviderLusha, model.ProviderResult{
		Status:     model.StatusComplete,
		Email:      BestEmail(FromLushaEmails(data.EmailAddresses)),
		Mobile:     phones.Mobile,
		DirectDial: phones.DirectDial,
		Raw:        raw,
	})
}

func (e *LushaEnricher) saveMiss(ctx context.Context, st store.Store, rowID int64, msg string) error {
	return st.UpdateProviderResult(ctx, rowID, model.ProviderLusha, model.ProviderResult{
		Status:    model.StatusError,
		ErrorText: msg,
	})
}
