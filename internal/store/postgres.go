package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enrich/internal/db"
	"github.com/sells-group/lead-enrich/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot correlation and wait-loop paths.
var preparedStatements = map[string]string{
	"update_awaiting_phones":  `UPDATE enrichment_rows SET apollo_status = 'complete', apollo_mobile = $1, apollo_direct_dial = $2, apollo_raw = $3, updated_at = $4 WHERE row_id = $5 AND apollo_status = 'awaiting_callback'`,
	"register_correlation":    `INSERT INTO callback_correlations (person_id, row_id, batch_id, submitted_at) VALUES ($1, $2, $3, $4) ON CONFLICT (person_id) DO NOTHING`,
	"mark_callback_received":  `UPDATE callback_correlations SET received_at = $1, payload = $2 WHERE person_id = $3 RETURNING row_id`,
	"count_pending_callbacks": `SELECT COUNT(*) FROM enrichment_rows WHERE apollo_status = 'awaiting_callback'`,
	"get_run":                 `SELECT id, status, input_file, output_file, error, created_at, updated_at FROM runs WHERE id = $1`,
	"update_run_status":       `UPDATE runs SET status = $1, error = NULLIF($2, ''), updated_at = $3 WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrichment_rows (
	row_id             BIGINT PRIMARY KEY,
	first_name         TEXT NOT NULL,
	last_name          TEXT NOT NULL,
	company            TEXT NOT NULL DEFAULT '',
	lusha_status       TEXT NOT NULL DEFAULT 'pending',
	lusha_email        TEXT,
	lusha_mobile       TEXT,
	lusha_direct_dial  TEXT,
	lusha_error        TEXT,
	lusha_raw          JSONB,
	apollo_status      TEXT NOT NULL DEFAULT 'pending',
	apollo_email       TEXT,
	apollo_mobile      TEXT,
	apollo_direct_dial TEXT,
	apollo_error       TEXT,
	apollo_raw         JSONB,
	apollo_person_id   TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS callback_correlations (
	person_id    TEXT PRIMARY KEY,
	row_id       BIGINT NOT NULL REFERENCES enrichment_rows(row_id),
	batch_id     TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	received_at  TIMESTAMPTZ,
	payload      JSONB
);

CREATE TABLE IF NOT EXISTS batch_log (
	batch_id     TEXT PRIMARY KEY,
	provider     TEXT NOT NULL,
	row_ids      JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'submitted',
	submitted_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	http_status  INTEGER,
	error        TEXT
);

CREATE TABLE IF NOT EXISTS run_metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status      TEXT NOT NULL DEFAULT 'pending',
	input_file  TEXT NOT NULL,
	output_file TEXT,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rows_lusha_status ON enrichment_rows(lusha_status);
CREATE INDEX IF NOT EXISTS idx_rows_apollo_status ON enrichment_rows(apollo_status);
CREATE INDEX IF NOT EXISTS idx_correlations_row_id ON callback_correlations(row_id);
CREATE INDEX IF NOT EXISTS idx_correlations_received ON callback_correlations(received_at);
CREATE INDEX IF NOT EXISTS idx_batch_log_provider ON batch_log(provider);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertRecords(ctx context.Context, people []model.PersonInput) (int64, error) {
	rows := make([][]any, len(people))
	for i, p := range people {
		rows[i] = []any{p.RowID, p.FirstName, p.LastName, p.Company}
	}

	n, err := db.BulkLoad(ctx, s.pool, db.BulkConfig{
		Table:        "enrichment_rows",
		Columns:      []string{"row_id", "first_name", "last_name", "company"},
		ConflictKeys: []string{"row_id"},
		KeepExisting: true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert records")
	}
	return n, nil
}

func (s *PostgresStore) UpdateProviderResult(ctx context.Context, rowID int64, provider model.Provider, res model.ProviderResult) error {
	prefix := columnPrefix(provider)

	sets := []string{fmt.Sprintf("%s_status = $1", prefix), "updated_at = $2"}
	args := []any{string(res.Status), time.Now().UTC()}
	argIdx := 3

	addSet := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, val)
		argIdx++
	}

	if res.Email != "" {
		addSet(prefix+"_email", res.Email)
	}
	if res.Mobile != "" {
		addSet(prefix+"_mobile", res.Mobile)
	}
	if res.DirectDial != "" {
		addSet(prefix+"_direct_dial", res.DirectDial)
	}
	if res.ErrorText != "" {
		addSet(prefix+"_error", res.ErrorText)
	}
	if len(res.Raw) > 0 {
		addSet(prefix+"_raw", string(res.Raw))
	}
	if res.PersonID != "" {
		addSet("apollo_person_id", res.PersonID)
	}

	query := fmt.Sprintf(`UPDATE enrichment_rows SET %s WHERE row_id = $%d`, strings.Join(sets, ", "), argIdx)
	args = append(args, rowID)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s result for row %d", prefix, rowID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("record not found: %d", rowID)
	}
	return nil
}

func (s *PostgresStore) UpdateAwaitingPhones(ctx context.Context, rowID int64, mobile, directDial string, raw json.RawMessage) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_rows SET apollo_status = 'complete', apollo_mobile = $1, apollo_direct_dial = $2, apollo_raw = $3, updated_at = $4 WHERE row_id = $5 AND apollo_status = 'awaiting_callback'`,
		nullIfEmpty(mobile), nullIfEmpty(directDial), nullIfEmpty(string(raw)), time.Now().UTC(), rowID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update awaiting phones for row %d", rowID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RecordsByStatus(ctx context.Context, provider model.Provider, status model.RecordStatus) ([]model.EnrichmentRecord, error) {
	prefix := columnPrefix(provider)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM enrichment_rows WHERE %s_status = $1 ORDER BY row_id`, recordColumns, prefix),
		string(status),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: records by %s status", prefix)
	}
	defer rows.Close()
	return collectPgRecords(rows)
}

func (s *PostgresStore) AllRecords(ctx context.Context) ([]model.EnrichmentRecord, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM enrichment_rows ORDER BY row_id`, recordColumns),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: all records")
	}
	defer rows.Close()
	return collectPgRecords(rows)
}

func (s *PostgresStore) StatusSummary(ctx context.Context) (*model.StatusSummary, error) {
	var sum model.StatusSummary
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE lusha_status = 'complete'),
		       COUNT(*) FILTER (WHERE lusha_status = 'error'),
		       COUNT(*) FILTER (WHERE apollo_status = 'complete'),
		       COUNT(*) FILTER (WHERE apollo_status = 'error'),
		       COUNT(*) FILTER (WHERE apollo_status = 'awaiting_callback'),
		       COUNT(*) FILTER (WHERE apollo_status = 'timeout')
		FROM enrichment_rows`,
	).Scan(
		&sum.TotalRows,
		&sum.Lusha.Complete, &sum.Lusha.Error,
		&sum.Apollo.Complete, &sum.Apollo.Error, &sum.Apollo.AwaitingCallback, &sum.Apollo.Timeout,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status summary")
	}
	sum.Lusha.Pending = sum.TotalRows - sum.Lusha.Complete - sum.Lusha.Error
	sum.Apollo.Pending = sum.TotalRows - sum.Apollo.Complete - sum.Apollo.Error - sum.Apollo.AwaitingCallback - sum.Apollo.Timeout
	return &sum, nil
}

func (s *PostgresStore) RegisterCorrelation(ctx context.Context, c model.Correlation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO callback_correlations (person_id, row_id, batch_id, submitted_at) VALUES ($1, $2, $3, $4) ON CONFLICT (person_id) DO NOTHING`,
		c.PersonID, c.RowID, c.BatchID, c.SubmittedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: register correlation %s", c.PersonID)
}

func (s *PostgresStore) MarkCallbackReceived(ctx context.Context, personID string, payload []byte) (int64, bool, error) {
	var rowID int64
	err := s.pool.QueryRow(ctx,
		`UPDATE callback_correlations SET received_at = $1, payload = $2 WHERE person_id = $3 RETURNING row_id`,
		time.Now().UTC(), nullIfEmpty(string(payload)), personID,
	).Scan(&rowID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, eris.Wrapf(err, "postgres: mark callback received %s", personID)
	}
	return rowID, true, nil
}

func (s *PostgresStore) CountPendingCallbacks(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM enrichment_rows WHERE apollo_status = 'awaiting_callback'`,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count pending callbacks")
}

func (s *PostgresStore) CountTotalCallbacks(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM callback_correlations`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count total callbacks")
}

func (s *PostgresStore) MarkAllAwaitingTimedOut(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_rows SET apollo_status = 'timeout', updated_at = $1 WHERE apollo_status = 'awaiting_callback'`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark awaiting timed out")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) LogBatch(ctx context.Context, b model.BatchLog) error {
	rowIDs, err := json.Marshal(b.RowIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch row ids")
	}

	submittedAt := b.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batch_log (batch_id, provider, row_ids, status, submitted_at) VALUES ($1, $2, $3, $4, $5)`,
		b.BatchID, string(b.Provider), rowIDs, string(model.BatchSubmitted), submittedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: log batch %s", b.BatchID)
}

func (s *PostgresStore) CompleteBatch(ctx context.Context, batchID string, status model.BatchStatus, httpStatus int, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_log SET status = $1, completed_at = $2, http_status = $3, error = $4 WHERE batch_id = $5`,
		string(status), time.Now().UTC(), nullIfZero(httpStatus), nullIfEmpty(errText), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete batch %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not found: %s", batchID)
	}
	return nil
}

func (s *PostgresStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_metadata (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = $2`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set meta %s", key)
}

func (s *PostgresStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM run_metadata WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, eris.Wrapf(err, "postgres: get meta %s", key)
	}
	return value, true, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, inputFile string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, input_file, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(model.RunStatusPending), inputFile, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusPending,
		InputFile: inputFile,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = NULLIF($2, ''), updated_at = $3 WHERE id = $4`,
		string(status), errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) SetRunOutput(ctx context.Context, runID string, outputFile string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET output_file = $1, updated_at = $2 WHERE id = $3`,
		outputFile, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run output %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var outputFile, errText *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, input_file, output_file, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Status, &r.InputFile, &outputFile, &errText, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if outputFile != nil {
		r.OutputFile = *outputFile
	}
	if errText != nil {
		r.Error = *errText
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, input_file, output_file, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var outputFile, errText *string

		if err := rows.Scan(&r.ID, &r.Status, &r.InputFile, &outputFile, &errText, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if outputFile != nil {
			r.OutputFile = *outputFile
		}
		if errText != nil {
			r.Error = *errText
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func collectPgRecords(rows pgx.Rows) ([]model.EnrichmentRecord, error) {
	var records []model.EnrichmentRecord
	for rows.Next() {
		var r model.EnrichmentRecord
		var lushaEmail, lushaMobile, lushaDirect, lushaErr, lushaRaw *string
		var apolloEmail, apolloMobile, apolloDirect, apolloErr, apolloRaw, apolloPerson *string

		err := rows.Scan(
			&r.RowID, &r.FirstName, &r.LastName, &r.Company,
			&r.Lusha.Status, &lushaEmail, &lushaMobile, &lushaDirect, &lushaErr, &lushaRaw,
			&r.Apollo.Status, &apolloEmail, &apolloMobile, &apolloDirect, &apolloErr, &apolloRaw, &apolloPerson,
			&r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}

		assign := func(dst *string, src *string) {
			if src != nil {
				*dst = *src
			}
		}
		assign(&r.Lusha.Email, lushaEmail)
		assign(&r.Lusha.Mobile, lushaMobile)
		assign(&r.Lusha.DirectDial, lushaDirect)
		assign(&r.Lusha.Error, lushaErr)
		if lushaRaw != nil {
			r.Lusha.Raw = json.RawMessage(*lushaRaw)
		}
		assign(&r.Apollo.Email, apolloEmail)
		assign(&r.Apollo.Mobile, apolloMobile)
		assign(&r.Apollo.DirectDial, apolloDirect)
		assign(&r.Apollo.Error, apolloErr)
		if apolloRaw != nil {
			r.Apollo.Raw = json.RawMessage(*apolloRaw)
		}
		assign(&r.Apollo.PersonID, apolloPerson)

		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate records")
}
