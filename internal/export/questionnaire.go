package export

import (
	"fmt"

	"github.com/godata/exporter/internal/docpath"
)

// AnswerType is the kind of answer a question takes.
type AnswerType string

const (
	AnswerFreeText AnswerType = "free_text"
	AnswerNumeric  AnswerType = "numeric"
	AnswerDateTime AnswerType = "date_time"
	AnswerSingle   AnswerType = "single_answer"
	AnswerMultiple AnswerType = "multiple_answers"
	AnswerFile     AnswerType = "file_upload"
	AnswerMarkup   AnswerType = "markup"
)

// Question is a node of a questionnaire tree. Answers of choice questions
// may open further questions.
type Question struct {
	Variable   string     `json:"variable" yaml:"variable"`
	Text       string     `json:"text" yaml:"text"`
	AnswerType AnswerType `json:"answer_type" yaml:"answer_type"`
	Answers    []Answer   `json:"answers,omitempty" yaml:"answers,omitempty"`
}

// Answer is a selectable answer of a choice question.
type Answer struct {
	Label               string     `json:"label" yaml:"label"`
	Value               string     `json:"value" yaml:"value"`
	AdditionalQuestions []Question `json:"additional_questions,omitempty" yaml:"additional_questions,omitempty"`
}

// FlatQuestion is a question in depth-first export order.
type FlatQuestion struct {
	Variable   string
	Text       string
	AnswerType AnswerType
	Parent     string
	Depth      int
	// Labels maps answer values to their label tokens.
	Labels map[string]string
}

// Multiple reports whether an answer entry holds several selections.
func (q FlatQuestion) Multiple() bool { return q.AnswerType == AnswerMultiple }

// Choice reports whether answer values are label-substituted.
func (q FlatQuestion) Choice() bool {
	return q.AnswerType == AnswerSingle || q.AnswerType == AnswerMultiple
}

// FlattenQuestionnaire walks the tree depth-first so every child question
// directly follows the question whose answer opens it. Markup nodes carry no
// answers and are dropped, their children are kept.
func FlattenQuestionnaire(qs []Question) ([]FlatQuestion, error) {
	acc := &flattenAcc{seen: make(map[string]struct{})}
	if err := acc.walk(qs, "", 0); err != nil {
		return nil, err
	}
	return acc.out, nil
}

type flattenAcc struct {
	out  []FlatQuestion
	seen map[string]struct{}
}

func (a *flattenAcc) walk(qs []Question, parent string, depth int) error {
	for _, q := range qs {
		if q.Variable == "" {
			return configErr("questionnaire", "question without variable under %q", parent)
		}
		if _, dup := a.seen[q.Variable]; dup {
			return configErr("questionnaire", "duplicate variable %q", q.Variable)
		}
		a.seen[q.Variable] = struct{}{}
		switch q.AnswerType {
		case AnswerFreeText, AnswerNumeric, AnswerDateTime, AnswerSingle, AnswerMultiple, AnswerFile, AnswerMarkup:
		default:
			return configErr("questionnaire", "question %s: unknown answer type %q", q.Variable, q.AnswerType)
		}
		if q.AnswerType != AnswerMarkup {
			fq := FlatQuestion{
				Variable:   q.Variable,
				Text:       q.Text,
				AnswerType: q.AnswerType,
				Parent:     parent,
				Depth:      depth,
				Labels:     make(map[string]string, len(q.Answers)),
			}
			for _, ans := range q.Answers {
				fq.Labels[ans.Value] = ans.Label
			}
			a.out = append(a.out, fq)
		}
		for _, ans := range q.Answers {
			if err := a.walk(ans.AdditionalQuestions, q.Variable, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// questionTokens lists the text and answer label tokens of flattened questions.
func questionTokens(qs []FlatQuestion) []string {
	var out []string
	for _, q := range qs {
		out = append(out, q.Text)
		for _, l := range q.Labels {
			out = append(out, l)
		}
	}
	return out
}

// Counter keys stored with every materialized view row.
func arrayCounter(field string) string       { return "a:" + field }
func answerCounter(variable string) string   { return "q:" + variable }
func multipleCounter(variable string) string { return "m:" + variable }

// answersPath is <questionnaireField>.<variable>, an array of {date, value}.
func answersPath(field, variable string) docpath.Path {
	return docpath.Field(field, variable)
}

// maxSelections is the largest multi-select value list among the entries.
func maxSelections(entries []any) int {
	n := 0
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if vs, ok := m["value"].([]any); ok && len(vs) > n {
			n = len(vs)
		}
	}
	return n
}

func (q FlatQuestion) String() string {
	return fmt.Sprintf("%s(%s)", q.Variable, q.AnswerType)
}
