package excel

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enrich/internal/store"
)

// outputColumns are appended to the source sheet in this order.
var outputColumns = []string{
	"apollo_email",
	"apollo_handynummer",
	"apollo_festnetz_durchwahl",
	"lusha_email",
	"lusha_handynummer",
	"lusha_festnetz_durchwahl",
}

// Export opens the source workbook, appends the enrichment columns after
// the last used column, and saves the result to outputPath. Records write
// onto their source rows: sheet row = row_id + 1, row 1 being the header.
func Export(ctx context.Context, st store.Store, inputPath, outputPath string) (int, error) {
	f, err := xlsx.OpenFile(inputPath)
	if err != nil {
		return 0, eris.Wrapf(err, "excel: open %s", inputPath)
	}
	sheet, err := firstSheet(f, inputPath)
	if err != nil {
		return 0, err
	}

	base := sheet.MaxCol
	for i, name := range outputColumns {
		sheet.Cell(0, base+i).SetString(name)
	}

	records, err := st.AllRecords(ctx)
	if err != nil {
		return 0, err
	}

	for _, r := range records {
		values := []string{
			r.Apollo.Email,
			r.Apollo.Mobile,
			r.Apollo.DirectDial,
			r.Lusha.Email,
			r.Lusha.Mobile,
			r.Lusha.DirectDial,
		}
		// row_id is the 1-based data row; the same value is the 0-based
		// sheet index once the header row is counted in.
		for i, v := range values {
			sheet.Cell(int(r.RowID), base+i).SetString(v)
		}
	}

	if err := f.Save(outputPath); err != nil {
		return 0, eris.Wrapf(err, "excel: save %s", outputPath)
	}
	if err := st.SetMeta(ctx, MetaOutputFile, outputPath); err != nil {
		return 0, err
	}

	zap.L().Info("enriched workbook written",
		zap.String("file", outputPath),
		zap.Int("records", len(records)))
	return len(records), nil
}
