package enrich

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enrich/internal/model"
	"github.com/sells-group/lead-enrich/internal/store"
	"github.com/sells-group/lead-enrich/pkg/apollo"
	"github.com/sells-group/lead-enrich/pkg/lusha"
)

// newEnrichStore returns a migrated SQLite store seeded with n people.
func newEnrichStore(t *testing.T, n int) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	if n > 0 {
		people := make([]model.PersonInput, n)
		for i := range people {
			people[i] = testPerson(int64(i + 1))
		}
		_, err = st.UpsertRecords(context.Background(), people)
		require.NoError(t, err)
	}
	return st
}

func testPerson(rowID int64) model.PersonInput {
	return model.PersonInput{
		RowID:     rowID,
		FirstName: fmt.Sprintf("First%d", rowID),
		LastName:  fmt.Sprintf("Last%d", rowID),
		Company:   fmt.Sprintf("Company %d", rowID),
	}
}

func recordByRowID(t *testing.T, st store.Store, rowID int64) model.EnrichmentRecord {
	t.Helper()
	records, err := st.AllRecords(context.Background())
	require.NoError(t, err)
	for _, r := range records {
		if r.RowID == rowID {
			return r
		}
	}
	t.Fatalf("record %d not found", rowID)
	return model.EnrichmentRecord{}
}

// fakeLushaClient scripts lusha.Client responses and captures requests.
type fakeLushaClient struct {
	personFn func(ctx context.Context, req lusha.PersonRequest) (*lusha.PersonResponse, error)
	bulkFn   func(ctx context.Context, req lusha.BulkRequest) (*lusha.BulkResponse, error)

	personCalls []lusha.PersonRequest
	bulkCalls   []lusha.BulkRequest
}

func (f *fakeLushaClient) Person(ctx context.Context, req lusha.PersonRequest) (*lusha.PersonResponse, error) {
	f.personCalls = append(f.personCalls, req)
	return f.personFn(ctx, req)
}

func (f *fakeLushaClient) BulkPerson(ctx context.Context, req lusha.BulkRequest) (*lusha.BulkResponse, error) {
	f.bulkCalls = append(f.bulkCalls, req)
	return f.bulkFn(ctx, req)
}

// fakeApolloClient scripts apollo.Client responses and captures requests.
type fakeApolloClient struct {
	matchFn func(ctx context.Context, req apollo.MatchRequest) (*apollo.MatchResponse, error)
	bulkFn  func(ctx context.Context, req apollo.BulkMatchRequest) (*apollo.BulkMatchResponse, error)

	matchCalls []apollo.MatchRequest
	bulkCalls  []apollo.BulkMatchRequest
}

func (f *fakeApolloClient) MatchPerson(ctx context.Context, req apollo.MatchRequest) (*apollo.MatchResponse, error) {
	f.matchCalls = append(f.matchCalls, req)
	return f.matchFn(ctx, req)
}

func (f *fakeApolloClient) BulkMatchPeople(ctx context.Context, req apollo.BulkMatchRequest) (*apollo.BulkMatchResponse, error) {
	f.bulkCalls = append(f.bulkCalls, req)
	return f.bulkFn(ctx, req)
}
