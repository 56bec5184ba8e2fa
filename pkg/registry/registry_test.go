package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zen-systems/dispatch/pkg/task"
)

type stubExecutor struct {
	name string
}

func (s *stubExecutor) Execute(_ context.Context, taskText string) (*Result, error) {
	return &Result{Answer: "stub: " + taskText, Success: true}, nil
}

func (s *stubExecutor) Name() string { return s.name }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	profile := Profile{
		ID:              "react",
		Type:            "react",
		ComplexityLevel: task.ComplexityMedium,
		QualityLevel:    QualityStandard,
		Strengths:       []string{"tools"},
	}
	if err := r.Register(&stubExecutor{name: "react"}, profile); err != nil {
		t.Fatalf("register: %v", err)
	}

	executor, got, ok := r.Lookup("react")
	if !ok {
		t.Fatal("registered executor not found")
	}
	if executor.Name() != "react" {
		t.Fatalf("executor name %q", executor.Name())
	}
	if got.QualityLevel != QualityStandard || got.Index != 0 {
		t.Fatalf("profile snapshot wrong: %+v", got)
	}

	// Snapshot must not alias registry state.
	got.Strengths[0] = "mutated"
	_, again, _ := r.Lookup("react")
	if again.Strengths[0] != "tools" {
		t.Fatal("profile snapshot aliases internal state")
	}
}

func TestRegisterRejectsDuplicatesAndEmptyIDs(t *testing.T) {
	r := New()
	if err := r.Register(&stubExecutor{name: "a"}, Profile{}); err == nil {
		t.Fatal("empty ID accepted")
	}
	if err := r.Register(nil, Profile{ID: "a"}); err == nil {
		t.Fatal("nil executor accepted")
	}
	if err := r.Register(&stubExecutor{name: "a"}, Profile{ID: "a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&stubExecutor{name: "a"}, Profile{ID: "a"}); err == nil {
		t.Fatal("duplicate ID accepted")
	}
}

func TestProfilesPreserveRegistrationOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"react", "reflection", "rag"} {
		if err := r.Register(&stubExecutor{name: id}, Profile{ID: id}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	profiles := r.Profiles()
	if len(profiles) != 3 {
		t.Fatalf("got %d profiles", len(profiles))
	}
	for i, want := range []string{"react", "reflection", "rag"} {
		if profiles[i].ID != want || profiles[i].Index != i {
			t.Fatalf("slot %d: got %s index %d", i, profiles[i].ID, profiles[i].Index)
		}
	}
}

func TestRecordAttemptAggregates(t *testing.T) {
	r := New()
	if err := r.Register(&stubExecutor{name: "react"}, Profile{ID: "react"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.RecordAttempt("react", true, 8.0, 2*time.Second); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := r.RecordAttempt("react", false, 4.0, 4*time.Second); err != nil {
		t.Fatalf("record: %v", err)
	}

	stats := r.Performance()["react"]
	if stats.Attempts != 2 || stats.Successes != 1 || stats.Failures != 1 {
		t.Fatalf("counters wrong: %+v", stats)
	}
	if stats.AverageQuality != 6.0 {
		t.Fatalf("average quality %f, want 6.0", stats.AverageQuality)
	}
	if stats.SuccessRate() != 0.5 {
		t.Fatalf("success rate %f, want 0.5", stats.SuccessRate())
	}
	if stats.AverageDuration() != 3*time.Second {
		t.Fatalf("average duration %s, want 3s", stats.AverageDuration())
	}

	if err := r.RecordAttempt("ghost", true, 1, 0); err == nil {
		t.Fatal("recording against unknown executor accepted")
	}
}

func TestRecordAttemptConcurrent(t *testing.T) {
	r := New()
	if err := r.Register(&stubExecutor{name: "react"}, Profile{ID: "react"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = r.RecordAttempt("react", true, 7.0, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	stats := r.Performance()["react"]
	if stats.Attempts != writers*perWriter {
		t.Fatalf("lost updates: %d attempts, want %d", stats.Attempts, writers*perWriter)
	}
	if stats.Successes != writers*perWriter {
		t.Fatalf("lost successes: %d", stats.Successes)
	}
}

func TestQualityForRequirement(t *testing.T) {
	cases := []struct {
		required float64
		want     QualityLevel
	}{
		{0.95, QualityPremium},
		{0.85, QualityPremium},
		{0.7, QualityHigh},
		{0.5, QualityStandard},
		{0.2, QualityBasic},
	}
	for _, c := range cases {
		if got := QualityForRequirement(c.required); got != c.want {
			t.Fatalf("required %.2f: got %s, want %s", c.required, got, c.want)
		}
	}
}
