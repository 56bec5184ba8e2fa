package embed

import (
	"errors"
	"testing"

	"github.com/zen-systems/dispatch/pkg/task"
)

func TestEmbedDimensionsAndRange(t *testing.T) {
	for _, c := range task.Complexities() {
		for _, d := range task.Domains() {
			a := task.Analysis{
				Complexity:          c,
				Domain:              d,
				RequiresTools:       true,
				RequiresReasoning:   true,
				RequiredQuality:     0.8,
				EstimatedSteps:      12,
				KeyRequirementCount: 4,
			}
			v, err := Embed(a)
			if err != nil {
				t.Fatalf("embed(%s/%s): %v", c, d, err)
			}
			if len(v) != Dimensions {
				t.Fatalf("got %d dimensions, want %d", len(v), Dimensions)
			}
			for i, x := range v {
				if x < 0 || x > 1 {
					t.Fatalf("dimension %d out of [0,1]: %f", i, x)
				}
			}
		}
	}
}

func TestEmbedDomainOneHot(t *testing.T) {
	for slot, d := range task.Domains() {
		a := task.Analysis{Complexity: task.ComplexityMedium, Domain: d}
		v, err := Embed(a)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		ones := 0
		for i := 1; i <= 6; i++ {
			if v[i] == 1 {
				ones++
				if i != 1+slot {
					t.Fatalf("domain %s set slot %d, want %d", d, i, 1+slot)
				}
			} else if v[i] != 0 {
				t.Fatalf("domain slot %d not binary: %f", i, v[i])
			}
		}
		if ones != 1 {
			t.Fatalf("domain %s set %d slots, want exactly 1", d, ones)
		}
	}
}

func TestEmbedComplexityScalar(t *testing.T) {
	want := map[task.Complexity]float64{
		task.ComplexitySimple:  0.0,
		task.ComplexityMedium:  0.33,
		task.ComplexityComplex: 0.66,
		task.ComplexityExtreme: 1.0,
	}
	for c, expected := range want {
		v, err := Embed(task.Analysis{Complexity: c, Domain: task.DomainGeneral})
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		if v[0] != expected {
			t.Fatalf("complexity %s: got %f, want %f", c, v[0], expected)
		}
	}
}

func TestEmbedNormalizationSaturates(t *testing.T) {
	a := task.Analysis{
		Complexity:          task.ComplexityComplex,
		Domain:              task.DomainTechnical,
		EstimatedSteps:      500,
		KeyRequirementCount: 100,
	}
	v, err := Embed(a)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if v[12] != 1.0 {
		t.Fatalf("steps slot not saturated: %f", v[12])
	}
	if v[13] != 1.0 {
		t.Fatalf("requirements slot not saturated: %f", v[13])
	}

	a.EstimatedSteps = 25
	a.KeyRequirementCount = 5
	v, err = Embed(a)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if v[12] != 0.5 || v[13] != 0.5 {
		t.Fatalf("midpoint normalization wrong: steps=%f reqs=%f", v[12], v[13])
	}
}

func TestEmbedRejectsInvalidAnalysis(t *testing.T) {
	_, err := Embed(task.Analysis{Domain: task.DomainGeneral})
	if !errors.Is(err, task.ErrInvalidAnalysis) {
		t.Fatalf("expected ErrInvalidAnalysis, got %v", err)
	}
}

func TestEmbedDeterministic(t *testing.T) {
	a := task.Analysis{
		Complexity:          task.ComplexityMedium,
		Domain:              task.DomainAnalytical,
		RequiresKnowledge:   true,
		RequiredQuality:     0.7,
		EstimatedSteps:      9,
		KeyRequirementCount: 3,
	}
	first, err := Embed(a)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Embed(a)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		if again != first {
			t.Fatalf("embedding not deterministic: %v vs %v", again, first)
		}
	}
}

func TestFromSliceLengthCheck(t *testing.T) {
	if _, err := FromSlice(make([]float64, 13)); err == nil {
		t.Fatal("13-dim slice accepted")
	}
	v, err := FromSlice(make([]float64, Dimensions))
	if err != nil {
		t.Fatalf("14-dim slice rejected: %v", err)
	}
	if v != (FeatureVector{}) {
		t.Fatal("zero slice should produce zero vector")
	}
}
