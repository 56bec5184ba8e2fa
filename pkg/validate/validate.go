// Package validate scores a produced answer against quality criteria. The
// judgment itself comes from the generation backend; this package owns the
// scoring contract and the failure handling around it.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/zen-systems/dispatch/pkg/task"
)

// ErrParse indicates a malformed or partial backend judgment. It is
// recoverable: the caller gets a zero-scored Result alongside it and
// treats the attempt as failed rather than crashing the run.
var ErrParse = errors.New("unparseable evaluation reply")

// Criterion score at or above which an answer counts as correct/complete.
const criterionPassMark = 6.0

// Result is the outcome of validating one answer.
type Result struct {
	Correctness  float64  `json:"correctness"`
	Completeness float64  `json:"completeness"`
	Clarity      float64  `json:"clarity"`
	Relevance    float64  `json:"relevance"`
	QualityScore float64  `json:"quality_score"`
	IsCorrect    bool     `json:"is_correct"`
	IsComplete   bool     `json:"is_complete"`
	Issues       []string `json:"issues,omitempty"`
	Strengths    []string `json:"strengths,omitempty"`
}

// Evaluator is the backend capability the validator consumes.
type Evaluator interface {
	Evaluate(ctx context.Context, taskText, answer string) (string, error)
}

// Validator scores answers through an Evaluator.
type Validator struct {
	evaluator Evaluator
}

// New creates a validator over the given evaluator.
func New(evaluator Evaluator) *Validator {
	return &Validator{evaluator: evaluator}
}

// Validate judges an answer against its task. Transport errors from the
// evaluator propagate unchanged. A reply that cannot be parsed returns a
// defaulted zero-score Result together with ErrParse, so one bad
// evaluation degrades to a failed attempt instead of a crashed run.
func (v *Validator) Validate(ctx context.Context, taskText, answer string, analysis task.Analysis) (*Result, error) {
	reply, err := v.evaluator.Evaluate(ctx, judgmentContext(taskText, analysis), answer)
	if err != nil {
		return nil, err
	}

	result, err := parseReply(reply)
	if err != nil {
		return &Result{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return result, nil
}

// judgmentContext annotates the task with the analysis fields that should
// sharpen the judge's expectations.
func judgmentContext(taskText string, analysis task.Analysis) string {
	return fmt.Sprintf("%s\n\n(domain: %s, complexity: %s, required quality: %.1f/10)",
		taskText, analysis.Domain, analysis.Complexity, analysis.RequiredQuality*10)
}

// parseReply extracts criterion scores from a backend reply. Replies come
// back as JSON, but often wrapped in fences or prose, so extraction is
// lenient: the first JSON object found is used and each field is read by
// path.
func parseReply(reply string) (*Result, error) {
	payload := extractJSON(reply)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	result := &Result{}
	var sum float64
	for _, criterion := range []struct {
		name  string
		field *float64
	}{
		{"correctness", &result.Correctness},
		{"completeness", &result.Completeness},
		{"clarity", &result.Clarity},
		{"relevance", &result.Relevance},
	} {
		value := gjson.Get(payload, criterion.name)
		if !value.Exists() || value.Type != gjson.Number {
			return nil, fmt.Errorf("missing criterion %q", criterion.name)
		}
		*criterion.field = clampScore(value.Float())
		sum += *criterion.field
	}

	result.QualityScore = sum / 4
	result.IsCorrect = result.Correctness >= criterionPassMark
	result.IsComplete = result.Completeness >= criterionPassMark
	result.Issues = stringList(gjson.Get(payload, "issues"))
	result.Strengths = stringList(gjson.Get(payload, "strengths"))
	return result, nil
}

// extractJSON returns the outermost JSON object embedded in text, or "".
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := text[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}

func stringList(value gjson.Result) []string {
	if !value.IsArray() {
		return nil
	}
	var out []string
	value.ForEach(func(_, item gjson.Result) bool {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

func clampScore(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 10 {
		return 10
	}
	return x
}
