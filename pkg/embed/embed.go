// Package embed maps a task analysis into a fixed-length feature vector
// used for nearest-neighbor lookups over attempt history.
package embed

import (
	"fmt"

	"github.com/zen-systems/dispatch/pkg/task"
)

// SchemeVersion identifies the embedding layout. Vectors produced under a
// different version are not comparable and must not be mixed in one store.
const SchemeVersion = 1

// Dimensions is the fixed length of every feature vector:
// complexity(1) + domain one-hot(6) + requirement flags(4) +
// required quality(1) + normalized steps(1) + normalized requirements(1).
const Dimensions = 14

const (
	// stepCeiling is the estimated-step count that saturates its slot.
	stepCeiling = 50.0
	// requirementCeiling is the key-requirement count that saturates its slot.
	requirementCeiling = 10.0
)

// FeatureVector is a 14-dimensional encoding of a task analysis. Every
// component lies in [0,1].
type FeatureVector [Dimensions]float64

// Embed converts an analysis into a feature vector. The mapping is
// deterministic and side-effect free; identical analyses always produce
// identical vectors.
func Embed(a task.Analysis) (FeatureVector, error) {
	var v FeatureVector
	if err := a.Validate(); err != nil {
		return v, err
	}

	v[0] = complexityScalar(a.Complexity)

	for i, domain := range task.Domains() {
		if a.Domain == domain {
			v[1+i] = 1
			break
		}
	}

	if a.RequiresTools {
		v[7] = 1
	}
	if a.RequiresKnowledge {
		v[8] = 1
	}
	if a.RequiresReasoning {
		v[9] = 1
	}
	if a.RequiresIteration {
		v[10] = 1
	}

	v[11] = a.RequiredQuality
	v[12] = capUnit(float64(a.EstimatedSteps) / stepCeiling)
	v[13] = capUnit(float64(a.KeyRequirementCount) / requirementCeiling)

	return v, nil
}

// Slice returns the vector as a []float64 for storage and search APIs.
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, Dimensions)
	copy(out, v[:])
	return out
}

// FromSlice converts a stored vector back into a FeatureVector, rejecting
// any slice whose length does not match the scheme.
func FromSlice(values []float64) (FeatureVector, error) {
	var v FeatureVector
	if len(values) != Dimensions {
		return v, fmt.Errorf("feature vector has %d dimensions, want %d", len(values), Dimensions)
	}
	copy(v[:], values)
	return v, nil
}

func complexityScalar(c task.Complexity) float64 {
	switch c {
	case task.ComplexitySimple:
		return 0.0
	case task.ComplexityMedium:
		return 0.33
	case task.ComplexityComplex:
		return 0.66
	default: // extreme; Validate already rejected unknowns
		return 1.0
	}
}

func capUnit(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < 0 {
		return 0
	}
	return x
}
