package selector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zen-systems/dispatch/pkg/embed"
	"github.com/zen-systems/dispatch/pkg/history"
	"github.com/zen-systems/dispatch/pkg/registry"
	"github.com/zen-systems/dispatch/pkg/task"
)

type nopExecutor struct{ name string }

func (e nopExecutor) Execute(context.Context, string) (*registry.Result, error) {
	return &registry.Result{Answer: "ok", Success: true}, nil
}

func (e nopExecutor) Name() string { return e.name }

func standardRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	profiles := []registry.Profile{
		{
			ID:              "react",
			ComplexityLevel: task.ComplexityMedium,
			QualityLevel:    registry.QualityStandard,
			Strengths:       []string{"tool use", "iteration"},
		},
		{
			ID:              "reflection",
			ComplexityLevel: task.ComplexityMedium,
			QualityLevel:    registry.QualityHigh,
			Strengths:       []string{"reasoning", "refinement"},
		},
		{
			ID:              "rag",
			ComplexityLevel: task.ComplexitySimple,
			QualityLevel:    registry.QualityHigh,
			Strengths:       []string{"knowledge retrieval"},
		},
	}
	for _, p := range profiles {
		if err := reg.Register(nopExecutor{name: p.ID}, p); err != nil {
			t.Fatalf("register %s: %v", p.ID, err)
		}
	}
	return reg
}

func mustEmbed(t *testing.T, analysis task.Analysis) embed.FeatureVector {
	t.Helper()
	vector, err := embed.Embed(analysis)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	return vector
}

func TestColdStartFallsBackToRules(t *testing.T) {
	reg := standardRegistry(t)
	hist := history.NewInMemory(history.Options{})
	analysis := task.Analysis{
		Complexity:      task.ComplexitySimple,
		Domain:          task.DomainGeneral,
		RequiredQuality: 0.9,
	}

	rec, err := New(Options{}).Select(analysis, mustEmbed(t, analysis), hist, reg, nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rec.Method != MethodRuleBased {
		t.Fatalf("method %s, want rule-based with empty history", rec.Method)
	}
	// rag matches the simple complexity exactly and sits one quality level
	// below premium; react misses the quality requirement entirely.
	if rec.ExecutorID != "rag" {
		t.Fatalf("selected %s, want rag (reasoning: %s)", rec.ExecutorID, rec.Reasoning)
	}
	if rec.Confidence != 0.5 {
		t.Fatalf("confidence %f, want 0.5", rec.Confidence)
	}
	if len(rec.Alternatives) != 2 {
		t.Fatalf("alternatives %v, want 2", rec.Alternatives)
	}
}

func TestKNNSelectsFromStrongHistory(t *testing.T) {
	reg := standardRegistry(t)
	hist := history.NewInMemory(history.Options{})
	analysis := task.Analysis{
		Complexity:      task.ComplexityMedium,
		Domain:          task.DomainTechnical,
		RequiresTools:   true,
		RequiredQuality: 0.7,
	}
	vector := mustEmbed(t, analysis)

	now := time.Now()
	for i := 0; i < 10; i++ {
		err := hist.Record(history.AttemptRecord{
			Task:         fmt.Sprintf("task %d", i),
			Vector:       vector.Slice(),
			Analysis:     analysis,
			ExecutorID:   "react",
			Success:      true,
			QualityScore: 8.5,
			Timestamp:    now.Add(-time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rec, err := New(Options{}).Select(analysis, vector, hist, reg, nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rec.Method != MethodKNN {
		t.Fatalf("method %s, want knn", rec.Method)
	}
	if rec.ExecutorID != "react" {
		t.Fatalf("selected %s, want react", rec.ExecutorID)
	}
	if rec.Confidence < 0.7 {
		t.Fatalf("confidence %f, want >= 0.7 with ten close matches", rec.Confidence)
	}
}

func TestKNNFallsBackWhenBestSimilarityTooLow(t *testing.T) {
	reg := standardRegistry(t)
	hist := history.NewInMemory(history.Options{})

	farAnalysis := task.Analysis{
		Complexity:          task.ComplexityExtreme,
		Domain:              task.DomainMonitoring,
		RequiresTools:       true,
		RequiresKnowledge:   true,
		RequiresReasoning:   true,
		RequiresIteration:   true,
		RequiredQuality:     1.0,
		EstimatedSteps:      50,
		KeyRequirementCount: 10,
	}
	farVector := mustEmbed(t, farAnalysis)
	for i := 0; i < 6; i++ {
		err := hist.Record(history.AttemptRecord{
			Task:         fmt.Sprintf("far task %d", i),
			Vector:       farVector.Slice(),
			Analysis:     farAnalysis,
			ExecutorID:   "reflection",
			Success:      true,
			QualityScore: 9,
			Timestamp:    time.Now(),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	queryAnalysis := task.Analysis{
		Complexity:      task.ComplexitySimple,
		Domain:          task.DomainGeneral,
		RequiredQuality: 0.2,
	}

	s := New(Options{MinSimilarity: 0.99})
	rec, err := s.Select(queryAnalysis, mustEmbed(t, queryAnalysis), hist, reg, nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rec.Method != MethodRuleBased {
		t.Fatalf("method %s, want rule-based when no match clears the similarity bar", rec.Method)
	}
}

func TestExclusionSteersAwayFromPenalizedExecutor(t *testing.T) {
	reg := standardRegistry(t)
	analysis := task.Analysis{
		Complexity:      task.ComplexitySimple,
		Domain:          task.DomainGeneral,
		RequiredQuality: 0.9,
	}

	rec, err := New(Options{}).Select(analysis, mustEmbed(t, analysis), nil, reg, []string{"rag"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rec.ExecutorID == "rag" {
		t.Fatal("excluded executor selected anyway")
	}
}

func TestExclusionLiftsWhenEveryExecutorExcluded(t *testing.T) {
	reg := standardRegistry(t)
	analysis := task.Analysis{
		Complexity:      task.ComplexitySimple,
		Domain:          task.DomainGeneral,
		RequiredQuality: 0.9,
	}

	rec, err := New(Options{}).Select(analysis, mustEmbed(t, analysis), nil, reg, []string{"react", "reflection", "rag"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	// With the penalty lifted the scoring is identical to the unexcluded
	// case, so the best-fit executor wins again.
	if rec.ExecutorID != "rag" {
		t.Fatalf("selected %s, want rag once exclusion lifts", rec.ExecutorID)
	}
}

func TestRuleBasedSelectionIsDeterministic(t *testing.T) {
	reg := standardRegistry(t)
	analysis := task.Analysis{
		Complexity:        task.ComplexityMedium,
		Domain:            task.DomainTechnical,
		RequiresReasoning: true,
		RequiredQuality:   0.7,
	}
	vector := mustEmbed(t, analysis)
	s := New(Options{})

	first, err := s.Select(analysis, vector, nil, reg, nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := s.Select(analysis, vector, nil, reg, nil)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if again.ExecutorID != first.ExecutorID || again.Confidence != first.Confidence {
			t.Fatalf("run %d diverged: %s vs %s", i, again.ExecutorID, first.ExecutorID)
		}
	}
}

func TestSingleExecutorGetsFullConfidence(t *testing.T) {
	reg := registry.New()
	if err := reg.Register(nopExecutor{name: "only"}, registry.Profile{ID: "only"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	analysis := task.Analysis{
		Complexity:      task.ComplexitySimple,
		Domain:          task.DomainGeneral,
		RequiredQuality: 0.5,
	}

	rec, err := New(Options{}).Select(analysis, mustEmbed(t, analysis), nil, reg, nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rec.ExecutorID != "only" || rec.Confidence != 1.0 {
		t.Fatalf("got %s at %.2f, want only at 1.0", rec.ExecutorID, rec.Confidence)
	}
	if len(rec.Alternatives) != 0 {
		t.Fatalf("alternatives %v, want none", rec.Alternatives)
	}
}

func TestEmptyRegistryErrors(t *testing.T) {
	analysis := task.Analysis{
		Complexity:      task.ComplexitySimple,
		Domain:          task.DomainGeneral,
		RequiredQuality: 0.5,
	}

	_, err := New(Options{}).Select(analysis, mustEmbed(t, analysis), nil, registry.New(), nil)
	if !errors.Is(err, ErrNoExecutors) {
		t.Fatalf("expected ErrNoExecutors, got %v", err)
	}
}

func TestFailedHistoryDiscountsExecutor(t *testing.T) {
	reg := standardRegistry(t)
	hist := history.NewInMemory(history.Options{})
	analysis := task.Analysis{
		Complexity:      task.ComplexityMedium,
		Domain:          task.DomainTechnical,
		RequiredQuality: 0.7,
	}
	vector := mustEmbed(t, analysis)

	now := time.Now()
	for i := 0; i < 5; i++ {
		record := history.AttemptRecord{
			Task:         fmt.Sprintf("task %d", i),
			Vector:       vector.Slice(),
			Analysis:     analysis,
			ExecutorID:   "react",
			Success:      false,
			QualityScore: 8,
			Timestamp:    now,
		}
		if err := hist.Record(record); err != nil {
			t.Fatalf("record: %v", err)
		}
		record.ExecutorID = "reflection"
		record.Success = true
		if err := hist.Record(record); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rec, err := New(Options{}).Select(analysis, vector, hist, reg, nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rec.Method != MethodKNN {
		t.Fatalf("method %s, want knn", rec.Method)
	}
	if rec.ExecutorID != "reflection" {
		t.Fatalf("selected %s, want reflection over a failing react", rec.ExecutorID)
	}
}
