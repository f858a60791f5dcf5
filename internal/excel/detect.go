package excel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enrich/pkg/anthropic"
)

// detectionPrompt asks for the identity columns by 0-based index rather
// than header text, so the answer survives duplicate or blank headers.
const detectionPrompt = `You are analyzing a spreadsheet of people. Given the numbered column headers and a few sample rows, identify which columns contain:
1. First name (Vorname / first_name / ad / isim / Name)
2. Last name (Nachname / last_name / soyad / surname / Familienname)
3. Company name (Firma / company / Unternehmen / şirket / sirket / organization)

Respond with ONLY valid JSON, no other text:
{"first_name_col": 0, "last_name_col": 1, "company_col": 2}

Values are 0-based column indices into the header list. Use null for a column you cannot identify.`

const detectionMaxTokens = 256

// ColumnMapping locates the identity columns in the source sheet, 0-based.
type ColumnMapping struct {
	FirstName int
	LastName  int
	Company   int
}

// validate checks the mapping against the sheet width.
func (m ColumnMapping) validate(width int) error {
	for _, col := range []struct {
		name string
		idx  int
	}{
		{"first name", m.FirstName},
		{"last name", m.LastName},
		{"company", m.Company},
	} {
		if col.idx < 0 || col.idx >= width {
			return eris.Errorf("excel: %s column %d out of range (sheet has %d columns)", col.name, col.idx, width)
		}
	}
	return nil
}

// DetectColumns asks the model to locate the identity columns from the
// header row and sample data. All three columns must resolve; a null in
// the answer is an error so no rows load behind a bad mapping.
func DetectColumns(ctx context.Context, ai anthropic.Client, model string, headers []string, samples [][]string) (ColumnMapping, error) {
	var sb strings.Builder
	for i, h := range headers {
		fmt.Fprintf(&sb, "%d: %s\n", i, h)
	}
	sampleLines := make([]string, 0, len(samples))
	for _, s := range samples {
		sampleLines = append(sampleLines, strings.Join(s, ", "))
	}
	userMsg := fmt.Sprintf("Column headers:\n%s\nSample data (%d rows):\n%s",
		sb.String(), len(sampleLines), strings.Join(sampleLines, "\n"))

	temp := 0.0
	resp, err := ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       model,
		MaxTokens:   detectionMaxTokens,
		System:      []anthropic.SystemBlock{{Text: detectionPrompt}},
		Messages:    []anthropic.Message{{Role: "user", Content: userMsg}},
		Temperature: &temp,
	})
	if err != nil {
		return ColumnMapping{}, eris.Wrap(err, "excel: column detection request")
	}
	resp.Usage.LogCost(model, "column_detection")

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return ColumnMapping{}, eris.New("excel: empty column detection response")
	}

	// Find JSON in the response (it may have surrounding text).
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return ColumnMapping{}, eris.Errorf("excel: no JSON in detection response: %s", text)
	}

	var out struct {
		FirstName *int `json:"first_name_col"`
		LastName  *int `json:"last_name_col"`
		Company   *int `json:"company_col"`
	}
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &out); err != nil {
		return ColumnMapping{}, eris.Wrap(err, "excel: parse detection response")
	}

	if out.FirstName == nil {
		return ColumnMapping{}, eris.New("excel: model could not identify the first name column")
	}
	if out.LastName == nil {
		return ColumnMapping{}, eris.New("excel: model could not identify the last name column")
	}
	if out.Company == nil {
		return ColumnMapping{}, eris.New("excel: model could not identify the company column")
	}

	mapping := ColumnMapping{FirstName: *out.FirstName, LastName: *out.LastName, Company: *out.Company}
	if err := mapping.validate(len(headers)); err != nil {
		return ColumnMapping{}, err
	}

	zap.L().Info("columns detected",
		zap.Int("first_name_col", mapping.FirstName),
		zap.Int("last_name_col", mapping.LastName),
		zap.Int("company_col", mapping.Company))
	return mapping, nil
}
