// Package dispatch drives the select, execute, validate loop over a pool
// of executors. It is the only surface callers use: an Engine composes the
// selector, the validator, the attempt history, and the executor registry
// into runs that learn from every attempt.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zen-systems/dispatch/pkg/backend"
	"github.com/zen-systems/dispatch/pkg/embed"
	"github.com/zen-systems/dispatch/pkg/history"
	"github.com/zen-systems/dispatch/pkg/registry"
	"github.com/zen-systems/dispatch/pkg/selector"
	"github.com/zen-systems/dispatch/pkg/task"
	"github.com/zen-systems/dispatch/pkg/validate"
)

// ErrConfig indicates an invalid engine configuration. It is returned from
// New before any task is accepted.
var ErrConfig = errors.New("invalid engine configuration")

// reframeShortfall is how far below the threshold a quality score must
// fall before the task text is reframed instead of swapping executors.
const reframeShortfall = 2.0

// similarityNeighbors is how many history records inform the adaptive
// acceptance threshold.
const similarityNeighbors = 10

// Config tunes an Engine. DefaultConfig gives the standard values.
type Config struct {
	// QualityThreshold is the static acceptance bar in [0,10], used until
	// enough similar history exists to compute an adaptive one.
	QualityThreshold float64

	// MaxAttempts bounds executor invocations per run.
	MaxAttempts int

	// MinHistoryForKNN is the similar-record count required before
	// learned selection and adaptive thresholds activate.
	MinHistoryForKNN int

	// MinSimilarity is the best-match similarity a learned selection
	// must reach; zero means the selector default.
	MinSimilarity float64

	// MaxExecutionTime bounds a single executor call. Zero disables the
	// per-attempt timeout.
	MaxExecutionTime time.Duration

	// ReframingEnabled allows the engine to restate a task after a large
	// quality shortfall instead of only rotating executors.
	ReframingEnabled bool

	// Logger receives progress and warnings. Nil silences them.
	Logger func(format string, args ...any)
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		QualityThreshold: 7.0,
		MaxAttempts:      3,
		MinHistoryForKNN: selector.DefaultMinHistoryForKNN,
		ReframingEnabled: true,
	}
}

func (c Config) validate() error {
	if c.QualityThreshold < 0 || c.QualityThreshold > 10 {
		return fmt.Errorf("%w: quality threshold %.2f out of [0,10]", ErrConfig, c.QualityThreshold)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d, need at least 1", ErrConfig, c.MaxAttempts)
	}
	if c.MinHistoryForKNN < 1 {
		return fmt.Errorf("%w: min history for knn %d, need at least 1", ErrConfig, c.MinHistoryForKNN)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity >= 1 {
		return fmt.Errorf("%w: min similarity %.2f out of [0,1)", ErrConfig, c.MinSimilarity)
	}
	if c.MaxExecutionTime < 0 {
		return fmt.Errorf("%w: negative max execution time", ErrConfig)
	}
	return nil
}

// Attempt records one executor invocation inside a run.
type Attempt struct {
	Number       int             `json:"number"`
	ExecutorID   string          `json:"executor_id"`
	TaskText     string          `json:"task_text"`
	Answer       string          `json:"answer,omitempty"`
	QualityScore float64         `json:"quality_score"`
	Threshold    float64         `json:"threshold"`
	Accepted     bool            `json:"accepted"`
	Method       selector.Method `json:"method"`
	Confidence   float64         `json:"confidence"`
	Duration     time.Duration   `json:"duration"`
	Issues       []string        `json:"issues,omitempty"`
	Failure      string          `json:"failure,omitempty"`
}

// Report is the outcome of a run. When no attempt met its threshold,
// Success is false and the answer fields carry the best attempt made.
type Report struct {
	Success      bool              `json:"success"`
	Answer       string            `json:"answer"`
	QualityScore float64           `json:"quality_score"`
	ExecutorUsed string            `json:"executor_used"`
	Attempts     []Attempt         `json:"attempts"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Engine runs tasks. Safe for concurrent use; many runs may share one
// engine, one history store, and one registry.
type Engine struct {
	cfg       Config
	registry  *registry.Registry
	history   *history.Store
	backend   backend.Backend
	selector  *selector.Selector
	validator *validate.Validator
	logf      func(string, ...any)
}

// New creates an engine, failing fast on a bad configuration.
func New(cfg Config, reg *registry.Registry, hist *history.Store, be backend.Backend) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrConfig)
	}
	if hist == nil {
		return nil, fmt.Errorf("%w: history store is required", ErrConfig)
	}
	if be == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrConfig)
	}
	logf := cfg.Logger
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Engine{
		cfg:      cfg,
		registry: reg,
		history:  hist,
		backend:  be,
		selector: selector.New(selector.Options{
			MinHistoryForKNN: cfg.MinHistoryForKNN,
			MinSimilarity:    cfg.MinSimilarity,
		}),
		validator: validate.New(be),
		logf:      logf,
	}, nil
}

// Run drives one task through the attempt loop and returns a report.
// Selection and validation use the analysis; the task text is what the
// chosen executor actually receives, possibly reframed between attempts.
// The loop never exceeds MaxAttempts executor calls.
func (e *Engine) Run(ctx context.Context, taskText string, analysis task.Analysis) (*Report, error) {
	vector, err := embed.Embed(analysis)
	if err != nil {
		return nil, err
	}

	currentText := taskText
	reframed := false
	var excluded []string
	var attempts []Attempt

	for number := 1; number <= e.cfg.MaxAttempts; number++ {
		rec, err := e.selector.Select(analysis, vector, e.history, e.registry, excluded)
		if err != nil {
			return nil, err
		}
		executor, _, ok := e.registry.Lookup(rec.ExecutorID)
		if !ok {
			return nil, fmt.Errorf("selected executor %q disappeared from registry", rec.ExecutorID)
		}
		e.logf("attempt %d/%d: %s via %s (confidence %.2f)",
			number, e.cfg.MaxAttempts, rec.ExecutorID, rec.Method, rec.Confidence)

		attempt := Attempt{
			Number:     number,
			ExecutorID: rec.ExecutorID,
			TaskText:   currentText,
			Method:     rec.Method,
			Confidence: rec.Confidence,
		}

		start := time.Now()
		result, execErr := e.executeOnce(ctx, executor, currentText)
		attempt.Duration = time.Since(start)

		judgment := &validate.Result{}
		if execErr != nil {
			// Execution failures and timeouts score zero and keep the
			// loop going; only backend unavailability aborts the run.
			attempt.Failure = execErr.Error()
			e.logf("attempt %d failed: %v", number, execErr)
		} else {
			attempt.Answer = result.Answer
			judgment, err = e.validator.Validate(ctx, currentText, result.Answer, analysis)
			if err != nil {
				if !errors.Is(err, validate.ErrParse) {
					return nil, fmt.Errorf("validate attempt %d: %w", number, err)
				}
				attempt.Failure = err.Error()
				e.logf("attempt %d: %v", number, err)
			}
		}

		attempt.QualityScore = judgment.QualityScore
		attempt.Issues = judgment.Issues
		attempt.Threshold = e.effectiveThreshold(vector)
		attempt.Accepted = execErr == nil && attempt.QualityScore >= attempt.Threshold
		attempts = append(attempts, attempt)

		e.recordAttempt(attempt, analysis, vector)

		if attempt.Accepted {
			return e.report(attempts, len(attempts)-1, true, reframed), nil
		}

		if number == e.cfg.MaxAttempts {
			break
		}
		shortfall := attempt.Threshold - attempt.QualityScore
		// Reframing needs a trustworthy judgment to steer the rewrite;
		// failed or unjudgeable attempts rotate executors instead.
		if e.cfg.ReframingEnabled && execErr == nil && attempt.Failure == "" && shortfall > reframeShortfall {
			newText, reframeErr := e.backend.Reframe(ctx, currentText, judgment.Issues)
			if reframeErr == nil {
				e.logf("attempt %d: reframing task (shortfall %.1f)", number, shortfall)
				currentText = newText
				reframed = true
				continue
			}
			e.logf("reframe failed, rotating executor instead: %v", reframeErr)
		}
		excluded = append(excluded, rec.ExecutorID)
	}

	best := 0
	for i, a := range attempts {
		if a.QualityScore > attempts[best].QualityScore {
			best = i
		}
	}
	return e.report(attempts, best, false, reframed), nil
}

// Recommend returns the selection the engine would make for the task
// without executing anything.
func (e *Engine) Recommend(analysis task.Analysis) (*selector.Recommendation, error) {
	vector, err := embed.Embed(analysis)
	if err != nil {
		return nil, err
	}
	return e.selector.Select(analysis, vector, e.history, e.registry, nil)
}

// Performance returns per-executor performance snapshots.
func (e *Engine) Performance() map[string]registry.PerformanceStats {
	return e.registry.Performance()
}

// HistoryStats summarizes the attempt history.
func (e *Engine) HistoryStats() history.Stats {
	return e.history.Stats()
}

func (e *Engine) executeOnce(ctx context.Context, executor registry.Executor, taskText string) (*registry.Result, error) {
	if e.cfg.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.MaxExecutionTime)
		defer cancel()
	}
	result, err := executor.Execute(ctx, taskText)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("executor returned no result")
	}
	if !result.Success {
		return nil, fmt.Errorf("executor reported failure")
	}
	return result, nil
}

// effectiveThreshold is adaptive once enough similar history exists,
// static before that.
func (e *Engine) effectiveThreshold(vector embed.FeatureVector) float64 {
	matches, err := e.history.FindSimilar(vector.Slice(), similarityNeighbors)
	if err != nil {
		e.logf("similarity lookup for threshold failed: %v", err)
		return e.cfg.QualityThreshold
	}
	if len(matches) < e.cfg.MinHistoryForKNN {
		return e.cfg.QualityThreshold
	}
	return history.AdaptiveThreshold(matches)
}

// recordAttempt writes the attempt to the history store and folds it into
// the executor's stats. Recording failures are logged, not fatal; a run
// that produced an answer should not die because bookkeeping did.
func (e *Engine) recordAttempt(attempt Attempt, analysis task.Analysis, vector embed.FeatureVector) {
	rec := history.AttemptRecord{
		Task:         attempt.TaskText,
		Vector:       vector.Slice(),
		Analysis:     analysis,
		ExecutorID:   attempt.ExecutorID,
		Success:      attempt.Accepted,
		QualityScore: attempt.QualityScore,
		Duration:     attempt.Duration,
		Timestamp:    time.Now(),
		Metadata: map[string]string{
			"attempt": fmt.Sprintf("%d", attempt.Number),
			"method":  string(attempt.Method),
		},
	}
	if err := e.history.Record(rec); err != nil {
		e.logf("record attempt in history: %v", err)
	}
	if err := e.registry.RecordAttempt(attempt.ExecutorID, attempt.Accepted, attempt.QualityScore, attempt.Duration); err != nil {
		e.logf("record attempt in registry: %v", err)
	}
}

func (e *Engine) report(attempts []Attempt, winner int, success, reframed bool) *Report {
	chosen := attempts[winner]
	metadata := map[string]string{
		"attempts": fmt.Sprintf("%d", len(attempts)),
		"method":   string(chosen.Method),
	}
	if reframed {
		metadata["reframed"] = "true"
	}
	return &Report{
		Success:      success,
		Answer:       chosen.Answer,
		QualityScore: chosen.QualityScore,
		ExecutorUsed: chosen.ExecutorID,
		Attempts:     attempts,
		Metadata:     metadata,
	}
}
