// Package task defines the structured analysis of a task that drives
// executor selection and validation thresholds.
package task

import (
	"errors"
	"fmt"
)

// ErrInvalidAnalysis indicates an analysis with unset or unknown enum fields.
var ErrInvalidAnalysis = errors.New("invalid task analysis")

// Complexity classifies how demanding a task is.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
	ComplexityExtreme Complexity = "extreme"
)

// Domain classifies the subject area of a task.
type Domain string

const (
	DomainGeneral        Domain = "general"
	DomainTechnical      Domain = "technical"
	DomainCreative       Domain = "creative"
	DomainAnalytical     Domain = "analytical"
	DomainConversational Domain = "conversational"
	DomainMonitoring     Domain = "monitoring"
)

// Complexities lists all complexity levels in ascending order.
func Complexities() []Complexity {
	return []Complexity{ComplexitySimple, ComplexityMedium, ComplexityComplex, ComplexityExtreme}
}

// Domains lists all domains in their canonical order. The order is part of
// the embedding scheme and must not change between versions.
func Domains() []Domain {
	return []Domain{DomainGeneral, DomainTechnical, DomainCreative, DomainAnalytical, DomainConversational, DomainMonitoring}
}

// Analysis is the derived description of a task. It is produced once per
// attempt by an external analyzer and treated as immutable afterwards.
type Analysis struct {
	Complexity          Complexity `json:"complexity"`
	Domain              Domain     `json:"domain"`
	RequiresTools       bool       `json:"requires_tools"`
	RequiresKnowledge   bool       `json:"requires_knowledge"`
	RequiresReasoning   bool       `json:"requires_reasoning"`
	RequiresIteration   bool       `json:"requires_iteration"`
	RequiredQuality     float64    `json:"required_quality"`
	EstimatedSteps      int        `json:"estimated_steps"`
	KeyRequirementCount int        `json:"key_requirement_count"`
}

// Validate checks the analysis for unset enums and out-of-range scalars.
func (a *Analysis) Validate() error {
	if !validComplexity(a.Complexity) {
		return fmt.Errorf("%w: complexity %q", ErrInvalidAnalysis, a.Complexity)
	}
	if !validDomain(a.Domain) {
		return fmt.Errorf("%w: domain %q", ErrInvalidAnalysis, a.Domain)
	}
	if a.RequiredQuality < 0 || a.RequiredQuality > 1 {
		return fmt.Errorf("%w: required_quality %.3f out of [0,1]", ErrInvalidAnalysis, a.RequiredQuality)
	}
	if a.EstimatedSteps < 0 {
		return fmt.Errorf("%w: estimated_steps %d", ErrInvalidAnalysis, a.EstimatedSteps)
	}
	if a.KeyRequirementCount < 0 {
		return fmt.Errorf("%w: key_requirement_count %d", ErrInvalidAnalysis, a.KeyRequirementCount)
	}
	return nil
}

// ComplexityRank returns the ordinal position of a complexity level,
// or -1 for an unknown value.
func ComplexityRank(c Complexity) int {
	for i, level := range Complexities() {
		if level == c {
			return i
		}
	}
	return -1
}

func validComplexity(c Complexity) bool {
	return ComplexityRank(c) >= 0
}

func validDomain(d Domain) bool {
	for _, domain := range Domains() {
		if domain == d {
			return true
		}
	}
	return false
}
