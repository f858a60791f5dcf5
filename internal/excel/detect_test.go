package excel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enrich/pkg/anthropic"
)

// fakeAI scripts one CreateMessage response and captures the request.
type fakeAI struct {
	text string
	err  error
	last anthropic.MessageRequest
}

func (f *fakeAI) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
	}, nil
}

var detectHeaders = []string{"Titel", "Vorname", "Nachname", "Firma"}

var detectSamples = [][]string{
	{"Dr.", "Ada", "Lovelace", "Analytical Engines"},
	{"", "Grace", "Hopper", "Navy"},
}

func TestDetectColumns_ParsesIndices(t *testing.T) {
	ai := &fakeAI{text: `{"first_name_col": 1, "last_name_col": 2, "company_col": 3}`}

	mapping, err := DetectColumns(context.Background(), ai, "claude-haiku-4-5-20251001", detectHeaders, detectSamples)
	require.NoError(t, err)
	assert.Equal(t, ColumnMapping{FirstName: 1, LastName: 2, Company: 3}, mapping)
}

func TestDetectColumns_ToleratesSurroundingText(t *testing.T) {
	ai := &fakeAI{text: "Here is the mapping:\n```json\n{\"first_name_col\": 1, \"last_name_col\": 2, \"company_col\": 3}\n```"}

	mapping, err := DetectColumns(context.Background(), ai, "claude-haiku-4-5-20251001", detectHeaders, detectSamples)
	require.NoError(t, err)
	assert.Equal(t, 1, mapping.FirstName)
}

func TestDetectColumns_PromptCarriesHeadersAndSamples(t *testing.T) {
	ai := &fakeAI{text: `{"first_name_col": 1, "last_name_col": 2, "company_col": 3}`}

	_, err := DetectColumns(context.Background(), ai, "claude-haiku-4-5-20251001", detectHeaders, detectSamples)
	require.NoError(t, err)

	require.Len(t, ai.last.Messages, 1)
	msg := ai.last.Messages[0].Content
	assert.Contains(t, msg, "1: Vorname")
	assert.Contains(t, msg, "3: Firma")
	assert.Contains(t, msg, "Ada, Lovelace")
	require.Len(t, ai.last.System, 1)
	assert.Contains(t, ai.last.System[0].Text, "0-based column indices")
	assert.Equal(t, "claude-haiku-4-5-20251001", ai.last.Model)
}

func TestDetectColumns_NullColumnIsFatal(t *testing.T) {
	ai := &fakeAI{text: `{"first_name_col": 1, "last_name_col": null, "company_col": 3}`}

	_, err := DetectColumns(context.Background(), ai, "claude-haiku-4-5-20251001", detectHeaders, detectSamples)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last name")
}

func TestDetectColumns_IndexOutOfRange(t *testing.T) {
	ai := &fakeAI{text: `{"first_name_col": 1, "last_name_col": 2, "company_col": 9}`}

	_, err := DetectColumns(context.Background(), ai, "claude-haiku-4-5-20251001", detectHeaders, detectSamples)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestDetectColumns_NoJSONInResponse(t *testing.T) {
	ai := &fakeAI{text: "I cannot determine the columns."}

	_, err := DetectColumns(context.Background(), ai, "claude-haiku-4-5-20251001", detectHeaders, detectSamples)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON")
}

func TestDetectColumns_RequestError(t *testing.T) {
	ai := &fakeAI{err: errors.New("api down")}

	_, err := DetectColumns(context.Background(), ai, "claude-haiku-4-5-20251001", detectHeaders, detectSamples)
	require.Error(t, err)
}
