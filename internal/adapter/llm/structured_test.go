package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seerlord/internal/domain"
)

type planPayload struct {
	Tasks []struct {
		ID     int    `json:"id"`
		Plugin string `json:"plugin_name"`
	} `json:"tasks"`
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "bare object", raw: `{"a": 1}`, want: `{"a": 1}`},
		{name: "fenced", raw: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "fenced no lang", raw: "```\n[1, 2]\n```", want: `[1, 2]`},
		{name: "prose prefix", raw: `Here is the plan: {"a": {"b": 2}} done`, want: `{"a": {"b": 2}}`},
		{name: "braces in strings", raw: `{"a": "}{"}`, want: `{"a": "}{"}`},
		{name: "no json", raw: "sorry, I cannot help", wantErr: true},
		{name: "unterminated", raw: `{"a": 1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrStructuredOutput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeStructured(t *testing.T) {
	raw := "```json\n{\"tasks\": [{\"id\": 1, \"plugin_name\": \"voyager\"}]}\n```"

	plan, err := DecodeStructured[planPayload](raw, nil)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "voyager", plan.Tasks[0].Plugin)
}

func TestDecodeStructuredSchemaRejects(t *testing.T) {
	schema := []byte(`{
		"type": "object",
		"properties": {"tasks": {"type": "array", "minItems": 1}},
		"required": ["tasks"]
	}`)

	_, err := DecodeStructured[planPayload](`{"tasks": []}`, schema)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStructuredOutput)

	plan, err := DecodeStructured[planPayload](`{"tasks": [{"id": 1, "plugin_name": "tutor"}]}`, schema)
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 1)
}

func TestDecodeStructuredGarbage(t *testing.T) {
	_, err := DecodeStructured[planPayload]("not json at all", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStructuredOutput)
}
