package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentShapes(t *testing.T) {
	list, err := ParseDocument([]byte("rules:\n  - id: a\n  - id: b\n"))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	bare, err := ParseDocument([]byte("id: single\nname: Single\n"))
	require.NoError(t, err)
	require.Len(t, bare, 1)
	id, ok := RecordID(bare[0])
	assert.True(t, ok)
	assert.Equal(t, "single", id)

	empty, err := ParseDocument([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, empty)

	nullRules, err := ParseDocument([]byte("rules:\n"))
	require.NoError(t, err)
	assert.Empty(t, nullRules)

	_, err = ParseDocument([]byte("- just\n- a list\n"))
	assert.Error(t, err)

	_, err = ParseDocument([]byte("rules: not-a-list\n"))
	assert.Error(t, err)

	_, err = ParseDocument([]byte("rules: [unclosed\n"))
	assert.Error(t, err)
}

func TestDecodeDocumentDropsMalformedRecords(t *testing.T) {
	doc := `
rules:
  - id: good1
  - just a string
  - id: bad_priority
    priority: high
  - id: good2
    priority: 5
`
	rs, errs, err := DecodeDocument([]byte(doc))
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "good1", rs[0].ID)
	assert.Equal(t, "good2", rs[1].ID)
	assert.Equal(t, 5, rs[1].Priority)

	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.ErrorIs(t, e, ErrRecord)
	}
	var re *RecordError
	require.ErrorAs(t, errs[0], &re)
	assert.Equal(t, 1, re.Index)
}

func TestDecodeDocumentJSON(t *testing.T) {
	doc := `{"rules":[{"id":"j1","conditions":{"b":1,"a":"x"},"actions":[{"type":"log","params":{"message":"hi"}}]}]}`
	assert.Equal(t, FormatJSON, DetectFormat("rules", []byte(doc)))

	rs, errs, err := DecodeDocument([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, rs, 1)
	assert.Equal(t, Conditions{{"b", 1}, {"a", "x"}}, rs[0].Conditions)
	assert.Equal(t, "hi", rs[0].Actions[0].Params.String("message", ""))
}

func TestEncodeDocument(t *testing.T) {
	r := NewRule("enc")
	r.Name = "Encoded"
	r.Conditions.Set("environment", "test")
	r.Actions = append(r.Actions, &Action{Type: ACTION_RUN_COMMAND, Params: Params{{"command", "echo {x}"}}})

	for _, format := range []Encoding{FormatYAML, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			data, err := EncodeDocument([]interface{}{r.Record()}, format)
			require.NoError(t, err)
			assert.Equal(t, format, DetectFormat("", data))

			rs, errs, err := DecodeDocument(data)
			require.NoError(t, err)
			assert.Empty(t, errs)
			require.Len(t, rs, 1)
			assert.Equal(t, r, rs[0])
		})
	}
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, DetectFormat("a.json", nil))
	assert.Equal(t, FormatYAML, DetectFormat("a.yml", []byte(`{"a":1}`)))
	assert.Equal(t, FormatYAML, DetectFormat("a", []byte("a: 1")))
}
