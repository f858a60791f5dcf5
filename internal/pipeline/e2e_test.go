package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enrich/internal/enrich"
	"github.com/sells-group/lead-enrich/internal/excel"
	"github.com/sells-group/lead-enrich/internal/model"
	"github.com/sells-group/lead-enrich/internal/resilience"
	"github.com/sells-group/lead-enrich/pkg/apollo"
	"github.com/sells-group/lead-enrich/pkg/lusha"
)

// TestRun_EndToEndWire drives one run through the real provider adapters,
// real wire clients against stub provider servers, and the real callback
// listener served over HTTP. Both providers match row 1 only; Apollo's
// phone number arrives through the webhook while the run is waiting.
func TestRun_EndToEndWire(t *testing.T) {
	st := newPipelineStore(t)
	input := peopleWorkbook(t, 3)
	output := filepath.Join(t.TempDir(), "out.xlsx")

	lushaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/person", r.URL.Path)

		var req lusha.BulkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contacts, 3)
		assert.Equal(t, "1", req.Contacts[0].ContactID)
		assert.Equal(t, "First1 Last1", req.Contacts[0].FullName)
		assert.True(t, req.Metadata.RevealEmails)
		assert.True(t, req.Metadata.RevealPhones)

		// Row 1 matches; rows 2 and 3 are absent from the response map.
		json.NewEncoder(w).Encode(lusha.BulkResponse{
			Contacts: map[string]lusha.BulkContact{
				"1": {Data: &lusha.ContactData{
					EmailAddresses: []lusha.EmailAddress{{Email: "first1@corp.test", EmailType: "work"}},
					PhoneNumbers:   []lusha.PhoneNumber{{Number: "555-0100", PhoneType: "mobile"}},
				}},
			},
		})
	}))
	t.Cleanup(lushaSrv.Close)

	listener := newTestListener()
	callbackSrv := httptest.NewServer(listener.Routes())
	t.Cleanup(callbackSrv.Close)
	callbackURL := callbackSrv.URL + "/webhooks/apollo"

	apolloSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/people/bulk_match", r.URL.Path)

		var req apollo.BulkMatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Details, 3)
		assert.Equal(t, "First1", req.Details[0].FirstName)
		assert.Equal(t, "Company 1", req.Details[0].OrganizationName)
		assert.Equal(t, callbackURL, req.WebhookURL)

		// Row 1 matches with an external id; the nulls are misses.
		json.NewEncoder(w).Encode(apollo.BulkMatchResponse{
			Matches: []*apollo.PersonMatch{
				{ID: "ext-9", Email: "first1@apollo.test"},
				nil,
				nil,
			},
		})
	}))
	t.Cleanup(apolloSrv.Close)

	rules := enrich.DefaultRules()
	retry := resilience.FromConfig(3, 2)
	lushaEnricher := enrich.NewLushaEnricher(
		lusha.NewClient("lusha-key", lusha.WithBaseURL(lushaSrv.URL)), rules, retry)
	apolloEnricher := enrich.NewApolloEnricher(
		apollo.NewClient("apollo-key", apollo.WithBaseURL(apolloSrv.URL)), callbackURL, retry)

	cfg := testConfig()
	cfg.Lusha.BatchSize = 10
	cfg.Apollo.BatchSize = 10
	p := New(cfg, st, lushaEnricher, apolloEnricher, nil, listener)

	// Deliver ext-9's phone payload the way Apollo would: POST to the
	// callback URL, retrying until the correlation exists and the listener
	// acknowledges one processed person.
	go func() {
		payload := `{"people":[{"id":"ext-9","phone_numbers":[{"raw_number":"555-0199","sanitized_number":"+15550199","type_cd":"mobile","confidence_cd":"very_high"}]}]}`
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			resp, err := http.Post(callbackURL, "application/json", strings.NewReader(payload))
			if err == nil {
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				if strings.Contains(string(body), `"processed":1`) {
					return
				}
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	run, err := p.Run(context.Background(), RunRequest{
		InputPath:  input,
		OutputPath: output,
		Mapping:    mappingPtr(0, 1, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, output, run.OutputFile)

	summary, err := st.StatusSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TotalRows)
	assert.Equal(t, int64(1), summary.Lusha.Complete)
	assert.Equal(t, int64(2), summary.Lusha.Error)
	assert.Zero(t, summary.Lusha.Pending)
	assert.Equal(t, int64(1), summary.Apollo.Complete)
	assert.Equal(t, int64(2), summary.Apollo.Error)
	assert.Zero(t, summary.Apollo.AwaitingCallback)
	assert.Zero(t, summary.Apollo.Timeout)

	records, err := st.AllRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, model.StatusComplete, first.Lusha.Status)
	assert.Equal(t, "first1@corp.test", first.Lusha.Email)
	assert.Equal(t, "555-0100", first.Lusha.Mobile)
	assert.Equal(t, model.StatusComplete, first.Apollo.Status)
	assert.Equal(t, "first1@apollo.test", first.Apollo.Email)
	assert.Equal(t, "+15550199", first.Apollo.Mobile) // sanitized over raw
	assert.Equal(t, "ext-9", first.Apollo.PersonID)

	assert.Equal(t, "no result returned", records[1].Lusha.Error)
	assert.Equal(t, "no match found", records[1].Apollo.Error)

	headers, rows, err := excel.ReadSheet(output)
	require.NoError(t, err)
	assert.Len(t, headers, 9)
	require.Len(t, rows, 3)
	assert.Equal(t, "first1@apollo.test", rows[0][3])
	assert.Equal(t, "+15550199", rows[0][4])
	assert.Equal(t, "first1@corp.test", rows[0][6])
	assert.Equal(t, "555-0100", rows[0][7])

	// Miss rows keep their place with no enrichment values.
	for i := 3; i < len(rows[1]); i++ {
		assert.Empty(t, rows[1][i])
	}
}
