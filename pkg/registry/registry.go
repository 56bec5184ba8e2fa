// Package registry tracks the pool of registered executors, their declared
// capability profiles, and their observed performance.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/dispatch/pkg/task"
)

// Executor runs a task and produces an answer. Implementations wrap a
// reasoning strategy (tool use, reflection, retrieval); the engine only
// sees this boundary.
type Executor interface {
	// Execute runs the task text and returns the produced result.
	Execute(ctx context.Context, taskText string) (*Result, error)

	// Name returns the executor's identifier.
	Name() string
}

// Result is an executor's output for one attempt.
type Result struct {
	Answer   string            `json:"answer"`
	Success  bool              `json:"success"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QualityLevel declares the output quality an executor targets.
type QualityLevel string

const (
	QualityBasic    QualityLevel = "basic"
	QualityStandard QualityLevel = "standard"
	QualityHigh     QualityLevel = "high"
	QualityPremium  QualityLevel = "premium"
)

// QualityRank returns the ordinal position of a quality level, or -1 for
// an unknown value.
func QualityRank(q QualityLevel) int {
	switch q {
	case QualityBasic:
		return 0
	case QualityStandard:
		return 1
	case QualityHigh:
		return 2
	case QualityPremium:
		return 3
	}
	return -1
}

// QualityForRequirement maps a task's required quality in [0,1] onto the
// level an executor should declare to serve it.
func QualityForRequirement(required float64) QualityLevel {
	switch {
	case required >= 0.85:
		return QualityPremium
	case required >= 0.65:
		return QualityHigh
	case required >= 0.4:
		return QualityStandard
	default:
		return QualityBasic
	}
}

// Profile describes a registered executor. Registration order is preserved
// in Index and used as the final selection tie-break.
type Profile struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	ComplexityLevel task.Complexity  `json:"complexity_level"`
	Speed           string           `json:"speed"`
	QualityLevel    QualityLevel     `json:"quality_level"`
	Strengths       []string         `json:"strengths,omitempty"`
	BestFor         []string         `json:"best_for,omitempty"`
	Index           int              `json:"index"`
	Stats           PerformanceStats `json:"stats"`
}

// PerformanceStats accumulates per-executor outcomes across attempts.
type PerformanceStats struct {
	Attempts       int           `json:"attempts"`
	Successes      int           `json:"successes"`
	Failures       int           `json:"failures"`
	AverageQuality float64       `json:"average_quality"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// SuccessRate returns successes over attempts, 0 before any attempt.
func (s PerformanceStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// AverageDuration returns total duration over attempts, 0 before any attempt.
func (s PerformanceStats) AverageDuration() time.Duration {
	if s.Attempts == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Attempts)
}

type entry struct {
	executor Executor
	profile  Profile
}

// Registry is a concurrency-safe executor pool. Profile stats are owned
// here and mutated only under the registry lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an executor under the profile's ID. Registering an ID
// twice is an error; profiles are never deleted while registered.
func (r *Registry) Register(executor Executor, profile Profile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile ID is required")
	}
	if executor == nil {
		return fmt.Errorf("executor is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[profile.ID]; exists {
		return fmt.Errorf("executor %q already registered", profile.ID)
	}
	profile.Index = len(r.order)
	r.entries[profile.ID] = &entry{executor: executor, profile: profile}
	r.order = append(r.order, profile.ID)
	return nil
}

// Lookup returns the executor and a snapshot of its profile.
func (r *Registry) Lookup(id string) (Executor, Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, Profile{}, false
	}
	return e.executor, cloneProfile(e.profile), true
}

// Profiles returns profile snapshots in registration order.
func (r *Registry) Profiles() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]Profile, 0, len(r.order))
	for _, id := range r.order {
		profiles = append(profiles, cloneProfile(r.entries[id].profile))
	}
	return profiles
}

// Len returns the number of registered executors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// RecordAttempt folds one attempt outcome into the executor's stats as a
// single atomic read-modify-write.
func (r *Registry) RecordAttempt(id string, success bool, quality float64, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("executor %q not registered", id)
	}

	stats := &e.profile.Stats
	prior := float64(stats.Attempts)
	stats.Attempts++
	if success {
		stats.Successes++
	} else {
		stats.Failures++
	}
	stats.AverageQuality = (stats.AverageQuality*prior + quality) / float64(stats.Attempts)
	stats.TotalDuration += duration
	return nil
}

// Performance returns a stats snapshot per executor ID.
func (r *Registry) Performance() map[string]PerformanceStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]PerformanceStats, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.profile.Stats
	}
	return out
}

func cloneProfile(p Profile) Profile {
	clone := p
	clone.Strengths = append([]string(nil), p.Strengths...)
	clone.BestFor = append([]string(nil), p.BestFor...)
	return clone
}
