package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenQuestionnaire_DepthFirst(t *testing.T) {
	qs, err := FlattenQuestionnaire(caseQuestionnaire())
	require.NoError(t, err)

	var got []string
	for _, q := range qs {
		got = append(got, q.String())
	}
	assert.Equal(t, []string{"fever(single_answer)", "temp(numeric)", "symptoms(multiple_answers)"}, got)
	assert.Equal(t, "fever", qs[1].Parent)
	assert.Equal(t, 1, qs[1].Depth)
	assert.Equal(t, "section", qs[2].Parent)
	assert.Equal(t, map[string]string{"yes": "LNG_YES", "no": "LNG_NO"}, qs[0].Labels)
	assert.True(t, qs[2].Multiple())
	assert.True(t, qs[2].Choice())
	assert.False(t, qs[1].Choice())
}

func TestFlattenQuestionnaire_ChildBeforeNextSibling(t *testing.T) {
	qs, err := FlattenQuestionnaire([]Question{
		{Variable: "a", AnswerType: AnswerSingle, Answers: []Answer{
			{Value: "1", AdditionalQuestions: []Question{{Variable: "a1", AnswerType: AnswerFreeText}}},
			{Value: "2", AdditionalQuestions: []Question{{Variable: "a2", AnswerType: AnswerSingle, Answers: []Answer{
				{Value: "x", AdditionalQuestions: []Question{{Variable: "a2x", AnswerType: AnswerDateTime}}},
			}}}},
		}},
		{Variable: "b", AnswerType: AnswerFile},
	})
	require.NoError(t, err)
	var vars []string
	for _, q := range qs {
		vars = append(vars, q.Variable)
	}
	assert.Equal(t, []string{"a", "a1", "a2", "a2x", "b"}, vars)
	assert.Equal(t, 2, qs[3].Depth)
}

func TestFlattenQuestionnaire_Invalid(t *testing.T) {
	tests := map[string][]Question{
		"no variable":  {{AnswerType: AnswerFreeText}},
		"duplicate":    {{Variable: "a", AnswerType: AnswerFreeText}, {Variable: "a", AnswerType: AnswerNumeric}},
		"nested dup":   {{Variable: "a", AnswerType: AnswerSingle, Answers: []Answer{{Value: "1", AdditionalQuestions: []Question{{Variable: "a", AnswerType: AnswerFreeText}}}}}},
		"unknown type": {{Variable: "a", AnswerType: "slider"}},
	}
	for name, qs := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FlattenQuestionnaire(qs)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestMaxSelections(t *testing.T) {
	entries := []any{
		map[string]any{"value": []any{"a"}},
		map[string]any{"value": []any{"a", "b", "c"}},
		map[string]any{"value": "scalar"},
		"garbage",
	}
	assert.Equal(t, 3, maxSelections(entries))
	assert.Equal(t, 0, maxSelections(nil))
}

func TestProjector_CountsOnlyForFlatFormats(t *testing.T) {
	qs, err := FlattenQuestionnaire(caseQuestionnaire())
	require.NoError(t, err)
	d := caseDescriptor()
	d.ArrayFields = map[string][]ChildField{"addresses": {{Field: "locationId", Label: "Loc"}}}
	d.LocationFields = []string{"addresses[].locationId", "homeLocationId"}
	doc := map[string]any{
		"_id":            "c1",
		"homeLocationId": "l1",
		"addresses":      []any{map[string]any{"locationId": "l2"}, map[string]any{"locationId": "l1"}},
		"answers": map[string]any{
			"fever":    []any{map[string]any{"value": "yes"}, map[string]any{"value": "no"}},
			"symptoms": []any{map[string]any{"value": []any{"cough", "rash"}}},
		},
	}

	flat := NewProjector(d, qs, true).Project(doc)
	assert.Equal(t, "c1", flat.RecordID)
	assert.Equal(t, map[string]int{"a:addresses": 2, "q:fever": 2, "q:temp": 0, "q:symptoms": 1, "m:symptoms": 2}, flat.Counts)
	assert.Equal(t, []string{"l2", "l1"}, flat.Locations)

	nested := NewProjector(d, qs, false).Project(doc)
	assert.Empty(t, nested.Counts)
	assert.ElementsMatch(t, []string{"l1", "l2"}, nested.Locations)
}
