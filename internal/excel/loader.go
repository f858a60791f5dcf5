package excel

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/lead-enrich/internal/model"
	"github.com/sells-group/lead-enrich/internal/store"
)

// Metadata keys written by the load and export steps.
const (
	MetaInputFile  = "input_file"
	MetaTotalRows  = "total_rows"
	MetaOutputFile = "output_file"
)

// loadChunkSize is how many rows accumulate before an upsert flush.
const loadChunkSize = 500

// Load reads the mapped identity columns into the store. row_id is the
// 1-based data-row index; a row missing its first or last name is skipped
// but still consumes its index so output columns line up with the source
// sheet. Re-loading the same file is idempotent.
func Load(ctx context.Context, st store.Store, path string, mapping ColumnMapping) (int64, error) {
	headers, rows, err := ReadSheet(path)
	if err != nil {
		return 0, err
	}
	if err := mapping.validate(len(headers)); err != nil {
		return 0, err
	}

	var (
		people   []model.PersonInput
		loaded   int64
		inserted int64
	)
	flush := func() error {
		if len(people) == 0 {
			return nil
		}
		n, err := st.UpsertRecords(ctx, people)
		if err != nil {
			return err
		}
		inserted += n
		people = people[:0]
		return nil
	}

	for i, row := range rows {
		rowID := int64(i + 1)
		first := normCell(row, mapping.FirstName)
		last := normCell(row, mapping.LastName)
		company := normCell(row, mapping.Company)

		if first == "" || last == "" {
			zap.L().Warn("skipping row with missing name",
				zap.Int64("row_id", rowID),
				zap.String("first_name", first),
				zap.String("last_name", last))
			continue
		}

		people = append(people, model.PersonInput{
			RowID:     rowID,
			FirstName: first,
			LastName:  last,
			Company:   company,
		})
		loaded++

		if len(people) >= loadChunkSize {
			if err := flush(); err != nil {
				return loaded, err
			}
		}
	}
	if err := flush(); err != nil {
		return loaded, err
	}

	if err := st.SetMeta(ctx, MetaInputFile, path); err != nil {
		return loaded, err
	}
	if err := st.SetMeta(ctx, MetaTotalRows, strconv.FormatInt(loaded, 10)); err != nil {
		return loaded, err
	}

	zap.L().Info("rows loaded",
		zap.String("file", path),
		zap.Int64("loaded", loaded),
		zap.Int64("inserted", inserted))
	return loaded, nil
}

// normCell returns the NFC-normalized, trimmed cell value, or empty when
// the row is shorter than the mapped index.
func normCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return norm.NFC.String(strings.TrimSpace(row[idx]))
}
