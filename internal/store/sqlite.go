package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-enrich/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_rows (
	row_id             INTEGER PRIMARY KEY,
	first_name         TEXT NOT NULL,
	last_name          TEXT NOT NULL,
	company            TEXT NOT NULL DEFAULT '',
	lusha_status       TEXT NOT NULL DEFAULT 'pending',
	lusha_email        TEXT,
	lusha_mobile       TEXT,
	lusha_direct_dial  TEXT,
	lusha_error        TEXT,
	lusha_raw          TEXT,
	apollo_status      TEXT NOT NULL DEFAULT 'pending',
	apollo_email       TEXT,
	apollo_mobile      TEXT,
	apollo_direct_dial TEXT,
	apollo_error       TEXT,
	apollo_raw         TEXT,
	apollo_person_id   TEXT,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS callback_correlations (
	person_id    TEXT PRIMARY KEY,
	row_id       INTEGER NOT NULL REFERENCES enrichment_rows(row_id),
	batch_id     TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	received_at  DATETIME,
	payload      TEXT
);

CREATE TABLE IF NOT EXISTS batch_log (
	batch_id     TEXT PRIMARY KEY,
	provider     TEXT NOT NULL,
	row_ids      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'submitted',
	submitted_at DATETIME NOT NULL,
	completed_at DATETIME,
	http_status  INTEGER,
	error        TEXT
);

CREATE TABLE IF NOT EXISTS run_metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'pending',
	input_file  TEXT NOT NULL,
	output_file TEXT,
	error       TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_rows_lusha_status ON enrichment_rows(lusha_status);
CREATE INDEX IF NOT EXISTS idx_rows_apollo_status ON enrichment_rows(apollo_status);
CREATE INDEX IF NOT EXISTS idx_correlations_row_id ON callback_correlations(row_id);
CREATE INDEX IF NOT EXISTS idx_correlations_received ON callback_correlations(received_at);
CREATE INDEX IF NOT EXISTS idx_batch_log_provider ON batch_log(provider);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertRecords(ctx context.Context, people []model.PersonInput) (int64, error) {
	if len(people) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert records")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var inserted int64
	for _, p := range people {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO enrichment_rows (row_id, first_name, last_name, company, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			p.RowID, p.FirstName, p.LastName, p.Company, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record %d", p.RowID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert records")
	}
	return inserted, nil
}

func (s *SQLiteStore) UpdateProviderResult(ctx context.Context, rowID int64, provider model.Provider, res model.ProviderResult) error {
	prefix := columnPrefix(provider)

	sets := []string{prefix + "_status = ?", "updated_at = ?"}
	args := []any{string(res.Status), time.Now().UTC()}

	if res.Email != "" {
		sets = append(sets, prefix+"_email = ?")
		args = append(args, res.Email)
	}
	if res.Mobile != "" {
		sets = append(sets, prefix+"_mobile = ?")
		args = append(args, res.Mobile)
	}
	if res.DirectDial != "" {
		sets = append(sets, prefix+"_direct_dial = ?")
		args = append(args, res.DirectDial)
	}
	if res.ErrorText != "" {
		sets = append(sets, prefix+"_error = ?")
		args = append(args, res.ErrorText)
	}
	if len(res.Raw) > 0 {
		sets = append(sets, prefix+"_raw = ?")
		args = append(args, string(res.Raw))
	}
	if res.PersonID != "" {
		sets = append(sets, "apollo_person_id = ?")
		args = append(args, res.PersonID)
	}
	args = append(args, rowID)

	out, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE enrichment_rows SET %s WHERE row_id = ?`, strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s result for row %d", prefix, rowID)
	}
	return checkRowsAffected(out, "record", fmt.Sprintf("%d", rowID))
}

func (s *SQLiteStore) UpdateAwaitingPhones(ctx context.Context, rowID int64, mobile, directDial string, raw json.RawMessage) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_rows
		 SET apollo_status = ?, apollo_mobile = ?, apollo_direct_dial = ?, apollo_raw = ?, updated_at = ?
		 WHERE row_id = ? AND apollo_status = ?`,
		string(model.StatusComplete), nullIfEmpty(mobile), nullIfEmpty(directDial), nullIfEmpty(string(raw)),
		time.Now().UTC(), rowID, string(model.StatusAwaitingCallback),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update awaiting phones for row %d", rowID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecordsByStatus(ctx context.Context, provider model.Provider, status model.RecordStatus) ([]model.EnrichmentRecord, error) {
	prefix := columnPrefix(provider)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM enrichment_rows WHERE %s_status = ? ORDER BY row_id`, recordColumns, prefix),
		string(status),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: records by %s status", prefix)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLiteStore) AllRecords(ctx context.Context) ([]model.EnrichmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM enrichment_rows ORDER BY row_id`, recordColumns),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: all records")
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLiteStore) StatusSummary(ctx context.Context) (*model.StatusSummary, error) {
	var sum model.StatusSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN lusha_status = 'complete' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN lusha_status = 'error' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN apollo_status = 'complete' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN apollo_status = 'error' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN apollo_status = 'awaiting_callback' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN apollo_status = 'timeout' THEN 1 ELSE 0 END), 0)
		FROM enrichment_rows`,
	).Scan(
		&sum.TotalRows,
		&sum.Lusha.Complete, &sum.Lusha.Error,
		&sum.Apollo.Complete, &sum.Apollo.Error, &sum.Apollo.AwaitingCallback, &sum.Apollo.Timeout,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status summary")
	}
	sum.Lusha.Pending = sum.TotalRows - sum.Lusha.Complete - sum.Lusha.Error
	sum.Apollo.Pending = sum.TotalRows - sum.Apollo.Complete - sum.Apollo.Error - sum.Apollo.AwaitingCallback - sum.Apollo.Timeout
	return &sum, nil
}

func (s *SQLiteStore) RegisterCorrelation(ctx context.Context, c model.Correlation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO callback_correlations (person_id, row_id, batch_id, submitted_at)
		 VALUES (?, ?, ?, ?)`,
		c.PersonID, c.RowID, c.BatchID, c.SubmittedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: register correlation %s", c.PersonID)
}

func (s *SQLiteStore) MarkCallbackReceived(ctx context.Context, personID string, payload []byte) (int64, bool, error) {
	var rowID int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE callback_correlations SET received_at = ?, payload = ?
		 WHERE person_id = ? RETURNING row_id`,
		time.Now().UTC(), nullIfEmpty(string(payload)), personID,
	).Scan(&rowID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "sqlite: mark callback received %s", personID)
	}
	return rowID, true, nil
}

func (s *SQLiteStore) CountPendingCallbacks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrichment_rows WHERE apollo_status = ?`,
		string(model.StatusAwaitingCallback),
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count pending callbacks")
}

func (s *SQLiteStore) CountTotalCallbacks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM callback_correlations`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count total callbacks")
}

func (s *SQLiteStore) MarkAllAwaitingTimedOut(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_rows SET apollo_status = ?, updated_at = ? WHERE apollo_status = ?`,
		string(model.StatusTimeout), time.Now().UTC(), string(model.StatusAwaitingCallback),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark awaiting timed out")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) LogBatch(ctx context.Context, b model.BatchLog) error {
	rowIDs, err := json.Marshal(b.RowIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal batch row ids")
	}

	submittedAt := b.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_log (batch_id, provider, row_ids, status, submitted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		b.BatchID, string(b.Provider), string(rowIDs), string(model.BatchSubmitted), submittedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: log batch %s", b.BatchID)
}

func (s *SQLiteStore) CompleteBatch(ctx context.Context, batchID string, status model.BatchStatus, httpStatus int, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_log SET status = ?, completed_at = ?, http_status = ?, error = ? WHERE batch_id = ?`,
		string(status), time.Now().UTC(), nullIfZero(httpStatus), nullIfEmpty(errText), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete batch %s", batchID)
	}
	return checkRowsAffected(res, "batch", batchID)
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return eris.Wrapf(err, "sqlite: set meta %s", key)
}

func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM run_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: get meta %s", key)
	}
	return value, true, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, inputFile string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, input_file, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.RunStatusPending), inputFile, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusPending,
		InputFile: inputFile,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = NULLIF(?, ''), updated_at = ? WHERE id = ?`,
		string(status), errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) SetRunOutput(ctx context.Context, runID string, outputFile string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET output_file = ?, updated_at = ? WHERE id = ?`,
		outputFile, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set run output %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, input_file, output_file, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, input_file, output_file, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// nullIfEmpty maps "" to NULL so optional columns stay unset.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.EnrichmentRecord, error) {
	var r model.EnrichmentRecord
	var lushaEmail, lushaMobile, lushaDirect, lushaErr, lushaRaw sql.NullString
	var apolloEmail, apolloMobile, apolloDirect, apolloErr, apolloRaw, apolloPerson sql.NullString

	err := row.Scan(
		&r.RowID, &r.FirstName, &r.LastName, &r.Company,
		&r.Lusha.Status, &lushaEmail, &lushaMobile, &lushaDirect, &lushaErr, &lushaRaw,
		&r.Apollo.Status, &apolloEmail, &apolloMobile, &apolloDirect, &apolloErr, &apolloRaw, &apolloPerson,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	r.Lusha.Email = lushaEmail.String
	r.Lusha.Mobile = lushaMobile.String
	r.Lusha.DirectDial = lushaDirect.String
	r.Lusha.Error = lushaErr.String
	if lushaRaw.Valid {
		r.Lusha.Raw = json.RawMessage(lushaRaw.String)
	}
	r.Apollo.Email = apolloEmail.String
	r.Apollo.Mobile = apolloMobile.String
	r.Apollo.DirectDial = apolloDirect.String
	r.Apollo.Error = apolloErr.String
	if apolloRaw.Valid {
		r.Apollo.Raw = json.RawMessage(apolloRaw.String)
	}
	r.Apollo.PersonID = apolloPerson.String
	return &r, nil
}

func collectRecords(rows *sql.Rows) ([]model.EnrichmentRecord, error) {
	var records []model.EnrichmentRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var outputFile, errText sql.NullString

	err := row.Scan(&r.ID, &r.Status, &r.InputFile, &outputFile, &errText, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.OutputFile = outputFile.String
	r.Error = errText.String
	return &r, nil
}
