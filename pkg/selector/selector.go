// Package selector chooses the executor most likely to produce a
// high-quality result for a task. With enough history it learns from
// nearest-neighbor outcomes; before that it falls back to a deterministic
// rule-based scorer over declared executor profiles.
package selector

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/dispatch/pkg/embed"
	"github.com/zen-systems/dispatch/pkg/history"
	"github.com/zen-systems/dispatch/pkg/registry"
	"github.com/zen-systems/dispatch/pkg/task"
)

// ErrNoExecutors indicates an empty registry; selection is impossible.
var ErrNoExecutors = errors.New("no executors registered")

// Method identifies how a recommendation was produced.
type Method string

const (
	MethodRuleBased Method = "rule-based"
	MethodKNN       Method = "knn"
)

const (
	// DefaultMinHistoryForKNN is the record count below which selection
	// stays rule-based (cold start).
	DefaultMinHistoryForKNN = 5

	// DefaultMinSimilarity is the best-match similarity a k-NN group must
	// reach before its statistics are trusted.
	DefaultMinSimilarity = 0.15

	// knnNeighbors is how many nearest records inform a selection.
	knnNeighbors = 10

	// failureWeight discounts the quality contribution of failed attempts
	// without erasing them; failures carry signal too.
	failureWeight = 0.3

	excludedPenalty = -10.0
)

// Alternative is a runner-up executor with its score, reported for
// transparency.
type Alternative struct {
	ExecutorID string  `json:"executor_id"`
	Score      float64 `json:"score"`
}

// Recommendation is the outcome of a selection.
type Recommendation struct {
	ExecutorID   string        `json:"executor_id"`
	Confidence   float64       `json:"confidence"`
	Method       Method        `json:"method"`
	Reasoning    string        `json:"reasoning"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// History is the slice of the attempt store that selection reads.
type History interface {
	Stats() history.Stats
	FindSimilar(vector []float64, k int) ([]history.Match, error)
}

// Options tunes a selector. Zero values take the defaults above.
type Options struct {
	MinHistoryForKNN int
	MinSimilarity    float64
}

// Selector picks executors. It is stateless and safe for concurrent use.
type Selector struct {
	minHistory    int
	minSimilarity float64
}

// New creates a selector.
func New(opts Options) *Selector {
	minHistory := opts.MinHistoryForKNN
	if minHistory <= 0 {
		minHistory = DefaultMinHistoryForKNN
	}
	minSimilarity := opts.MinSimilarity
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	return &Selector{minHistory: minHistory, minSimilarity: minSimilarity}
}

// Select recommends an executor for the task. Excluded executors are
// penalized out of contention until every registered executor has been
// excluded, at which point the penalty lifts so selection can still
// produce an answer.
func (s *Selector) Select(analysis task.Analysis, vector embed.FeatureVector, hist History, reg *registry.Registry, excluded []string) (*Recommendation, error) {
	profiles := reg.Profiles()
	if len(profiles) == 0 {
		return nil, ErrNoExecutors
	}

	registered := make(map[string]registry.Profile, len(profiles))
	for _, p := range profiles {
		registered[p.ID] = p
	}
	exclusionLifted := allExcluded(profiles, excluded)

	if hist != nil && hist.Stats().TotalRecords >= s.minHistory {
		rec, err := s.selectKNN(vector, hist, registered, excluded, exclusionLifted)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}

	return s.selectRuleBased(analysis, profiles, excluded, exclusionLifted), nil
}

// knnGroup accumulates the neighbor evidence for one executor.
type knnGroup struct {
	executorID     string
	weightSum      float64
	weightedSum    float64
	similaritySum  float64
	bestSimilarity float64
	neighbors      int
}

func (g *knnGroup) weightedScore() float64 {
	if g.weightSum == 0 {
		return 0
	}
	return g.weightedSum / g.weightSum
}

func (g *knnGroup) avgSimilarity() float64 {
	if g.neighbors == 0 {
		return 0
	}
	return g.similaritySum / float64(g.neighbors)
}

// selectKNN returns nil (and no error) when no neighbor group qualifies,
// handing selection back to the rule-based path.
func (s *Selector) selectKNN(vector embed.FeatureVector, hist History, registered map[string]registry.Profile, excluded []string, exclusionLifted bool) (*Recommendation, error) {
	matches, err := hist.FindSimilar(vector.Slice(), knnNeighbors)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	groups := make(map[string]*knnGroup)
	for _, m := range matches {
		id := m.Record.ExecutorID
		if _, live := registered[id]; !live {
			continue
		}
		if !exclusionLifted && contains(excluded, id) {
			continue
		}
		g, ok := groups[id]
		if !ok {
			g = &knnGroup{executorID: id}
			groups[id] = g
		}
		outcome := failureWeight
		if m.Record.Success {
			outcome = 1.0
		}
		g.weightSum += m.Score
		g.weightedSum += m.Score * (m.Record.QualityScore / 10) * outcome
		g.similaritySum += m.Similarity
		if m.Similarity > g.bestSimilarity {
			g.bestSimilarity = m.Similarity
		}
		g.neighbors++
	}

	qualified := make([]*knnGroup, 0, len(groups))
	for _, g := range groups {
		if g.bestSimilarity > s.minSimilarity {
			qualified = append(qualified, g)
		}
	}
	if len(qualified) == 0 {
		return nil, nil
	}

	// Identical weighted scores are broken by neighbor count, then best
	// similarity, then ID; the ordering must be stable across calls.
	sort.Slice(qualified, func(i, j int) bool {
		a, b := qualified[i], qualified[j]
		if a.weightedScore() != b.weightedScore() {
			return a.weightedScore() > b.weightedScore()
		}
		if a.neighbors != b.neighbors {
			return a.neighbors > b.neighbors
		}
		if a.bestSimilarity != b.bestSimilarity {
			return a.bestSimilarity > b.bestSimilarity
		}
		return a.executorID < b.executorID
	})

	winner := qualified[0]
	confidence := knnConfidence(winner.neighbors, winner.avgSimilarity())

	rec := &Recommendation{
		ExecutorID: winner.executorID,
		Confidence: confidence,
		Method:     MethodKNN,
		Reasoning: fmt.Sprintf("%d similar past attempts favor %s (weighted score %.2f, avg similarity %.2f)",
			winner.neighbors, winner.executorID, winner.weightedScore(), winner.avgSimilarity()),
	}
	for _, g := range qualified[1:] {
		if len(rec.Alternatives) == 2 {
			break
		}
		rec.Alternatives = append(rec.Alternatives, Alternative{ExecutorID: g.executorID, Score: g.weightedScore()})
	}
	return rec, nil
}

// knnConfidence grows with neighbor coverage and similarity, saturating
// at 0.95. The closed form is a documented heuristic, not a calibrated
// probability.
func knnConfidence(neighbors int, avgSimilarity float64) float64 {
	coverage := float64(neighbors) / float64(knnNeighbors)
	if coverage > 1 {
		coverage = 1
	}
	confidence := 0.5 + 0.45*coverage*avgSimilarity
	if confidence > 0.95 {
		return 0.95
	}
	return confidence
}

type ruleScore struct {
	profile registry.Profile
	total   float64
	reasons []string
}

func (s *Selector) selectRuleBased(analysis task.Analysis, profiles []registry.Profile, excluded []string, exclusionLifted bool) *Recommendation {
	scored := make([]ruleScore, 0, len(profiles))
	for _, p := range profiles {
		scored = append(scored, scoreProfile(analysis, p, excluded, exclusionLifted))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.total != b.total {
			return a.total > b.total
		}
		if a.profile.Stats.AverageDuration() != b.profile.Stats.AverageDuration() {
			return a.profile.Stats.AverageDuration() < b.profile.Stats.AverageDuration()
		}
		return a.profile.Index < b.profile.Index
	})

	winner := scored[0]
	confidence := 0.5
	if len(profiles) == 1 {
		confidence = 1.0
	}

	rec := &Recommendation{
		ExecutorID: winner.profile.ID,
		Confidence: confidence,
		Method:     MethodRuleBased,
		Reasoning: fmt.Sprintf("rule-based score %.1f for %s: %s",
			winner.total, winner.profile.ID, strings.Join(winner.reasons, ", ")),
	}
	for _, alt := range scored[1:] {
		if len(rec.Alternatives) == 2 {
			break
		}
		rec.Alternatives = append(rec.Alternatives, Alternative{ExecutorID: alt.profile.ID, Score: alt.total})
	}
	return rec
}

func scoreProfile(analysis task.Analysis, p registry.Profile, excluded []string, exclusionLifted bool) ruleScore {
	score := ruleScore{profile: p}

	switch complexityDistance(analysis.Complexity, p.ComplexityLevel) {
	case 0:
		score.total += 10
		score.reasons = append(score.reasons, "complexity match")
	case 1:
		score.total += 7
		score.reasons = append(score.reasons, "complexity adjacent")
	}

	desired := registry.QualityForRequirement(analysis.RequiredQuality)
	switch qualityDistance(desired, p.QualityLevel) {
	case 0:
		score.total += 10
		score.reasons = append(score.reasons, "quality match")
	case 1:
		score.total += 6
		score.reasons = append(score.reasons, "quality adjacent")
	}

	trackRecord := p.Stats.SuccessRate()*5 + (p.Stats.AverageQuality/10)*3
	if trackRecord > 0 {
		score.total += trackRecord
		score.reasons = append(score.reasons, fmt.Sprintf("track record %.1f", trackRecord))
	}

	if bonus := capabilityBonus(analysis, p); bonus > 0 {
		score.total += bonus
		score.reasons = append(score.reasons, fmt.Sprintf("capability bonus %.0f", bonus))
	}

	if !exclusionLifted && contains(excluded, p.ID) {
		score.total += excludedPenalty
		score.reasons = append(score.reasons, "excluded this run")
	}

	if len(score.reasons) == 0 {
		score.reasons = append(score.reasons, "no profile match")
	}
	return score
}

// capabilityBonus rewards executors whose declared strengths align with
// the task's requirement flags: +5 for one aligned flag, +6 for two,
// +7 for three or more.
func capabilityBonus(analysis task.Analysis, p registry.Profile) float64 {
	aligned := 0
	if analysis.RequiresTools && declares(p, "tool") {
		aligned++
	}
	if analysis.RequiresKnowledge && (declares(p, "knowledge") || declares(p, "retrieval")) {
		aligned++
	}
	if analysis.RequiresReasoning && declares(p, "reason") {
		aligned++
	}
	if analysis.RequiresIteration && (declares(p, "iterat") || declares(p, "refine")) {
		aligned++
	}
	switch {
	case aligned >= 3:
		return 7
	case aligned == 2:
		return 6
	case aligned == 1:
		return 5
	default:
		return 0
	}
}

func declares(p registry.Profile, keyword string) bool {
	for _, tags := range [][]string{p.Strengths, p.BestFor} {
		for _, tag := range tags {
			if strings.Contains(strings.ToLower(tag), keyword) {
				return true
			}
		}
	}
	return false
}

func complexityDistance(a, b task.Complexity) int {
	ra, rb := task.ComplexityRank(a), task.ComplexityRank(b)
	if ra < 0 || rb < 0 {
		return len(task.Complexities())
	}
	return abs(ra - rb)
}

func qualityDistance(a, b registry.QualityLevel) int {
	ra, rb := registry.QualityRank(a), registry.QualityRank(b)
	if ra < 0 || rb < 0 {
		return 4
	}
	return abs(ra - rb)
}

func allExcluded(profiles []registry.Profile, excluded []string) bool {
	if len(excluded) == 0 {
		return false
	}
	for _, p := range profiles {
		if !contains(excluded, p.ID) {
			return false
		}
	}
	return true
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
