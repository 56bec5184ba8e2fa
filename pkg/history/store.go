// Package history keeps the durable log of past task attempts and answers
// similarity and aggregate queries over it. The log is what turns executor
// selection from a static rulebook into a learned policy.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zen-systems/dispatch/pkg/embed"
	"github.com/zen-systems/dispatch/pkg/knn"
	"github.com/zen-systems/dispatch/pkg/task"
)

// DefaultMaxRecords bounds the store when no limit is configured.
const DefaultMaxRecords = 10_000

// Adaptive threshold clamp range. Whatever the local quality distribution
// looks like, the acceptance bar never drops below 5.0 or rises above 9.5.
const (
	adaptiveFloor   = 5.0
	adaptiveCeiling = 9.5
)

// AttemptRecord is one append-only log entry. Records are never mutated
// after being written; pruning removes the oldest entries wholesale.
type AttemptRecord struct {
	ID           string            `json:"id"`
	Task         string            `json:"task"`
	Vector       []float64         `json:"feature_vector"`
	Analysis     task.Analysis     `json:"task_analysis"`
	ExecutorID   string            `json:"executor_id"`
	Success      bool              `json:"success"`
	QualityScore float64           `json:"quality_score"`
	Duration     time.Duration     `json:"duration"`
	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Match pairs a stored record with its similarity to a query vector.
// Score carries the temporal decay applied during ranking.
type Match struct {
	Record     AttemptRecord
	Similarity float64
	Score      float64
}

// Stats summarizes the store contents.
type Stats struct {
	TotalRecords    int       `json:"total_records"`
	UniqueExecutors int       `json:"unique_executors"`
	SuccessRate     float64   `json:"success_rate"`
	AvgQuality      float64   `json:"avg_quality"`
	OldestTimestamp time.Time `json:"oldest_timestamp"`
	NewestTimestamp time.Time `json:"newest_timestamp"`
}

// ExecutorPerformance aggregates stored attempts for a single executor.
type ExecutorPerformance struct {
	Attempts        int           `json:"attempts"`
	Successes       int           `json:"successes"`
	AverageQuality  float64       `json:"average_quality"`
	AverageDuration time.Duration `json:"average_duration"`
}

// Options configures a store.
type Options struct {
	// MaxRecords caps the store size; oldest records are pruned past it.
	// Zero means DefaultMaxRecords.
	MaxRecords int

	// HalfLife is the temporal decay applied in FindSimilar. Zero means
	// knn.DefaultHalfLife.
	HalfLife time.Duration

	// Logger receives warnings (corrupt log lines, cold starts). Nil
	// silences them.
	Logger func(format string, args ...any)
}

// Store is a size-bounded attempt log with JSONL persistence. All contents
// live in memory; the file exists to survive restarts.
type Store struct {
	mu         sync.Mutex
	path       string
	records    []AttemptRecord
	maxRecords int
	halfLife   time.Duration
	logf       func(format string, args ...any)
}

// Open loads the JSONL log at path into memory, creating parent
// directories as needed. Corrupt lines are skipped with a warning and an
// unreadable file cold-starts an empty store; persisted history is never
// allowed to take the process down.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}
	s := newStore(path, opts)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		s.logf("history: cannot read %s, starting empty: %v", path, err)
		return s, nil
	}
	defer file.Close()

	var skipped int
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec AttemptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		if err := validateRecord(&rec); err != nil {
			skipped++
			continue
		}
		s.records = append(s.records, rec)
	}
	if err := scanner.Err(); err != nil {
		s.logf("history: stopped reading %s after %d records: %v", path, len(s.records), err)
	}
	if skipped > 0 {
		s.logf("history: skipped %d corrupt records in %s", skipped, path)
	}

	s.sortByTimestamp()
	if s.pruneLocked() {
		if err := s.rewriteLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewInMemory creates a store without persistence, for dry runs and tests.
func NewInMemory(opts Options) *Store {
	return newStore("", opts)
}

func newStore(path string, opts Options) *Store {
	maxRecords := opts.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	halfLife := opts.HalfLife
	if halfLife <= 0 {
		halfLife = knn.DefaultHalfLife
	}
	logf := opts.Logger
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Store{path: path, maxRecords: maxRecords, halfLife: halfLife, logf: logf}
}

// Record validates, appends, and persists one attempt, then prunes the
// oldest entries if the store exceeds its cap. Append and prune are atomic
// with respect to concurrent writers.
func (s *Store) Record(rec AttemptRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if err := validateRecord(&rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	pruned := s.pruneLocked()

	if s.path == "" {
		return nil
	}
	if pruned {
		return s.rewriteLocked()
	}
	return s.appendLocked(rec)
}

// FindSimilar returns up to k stored records ranked by cosine similarity
// with temporal decay. The scan runs against a snapshot, so records
// written concurrently with the query may be missed.
func (s *Store) FindSimilar(vector []float64, k int) ([]Match, error) {
	snapshot := s.snapshot()

	candidates := make([]knn.Candidate[AttemptRecord], 0, len(snapshot))
	for _, rec := range snapshot {
		candidates = append(candidates, knn.Candidate[AttemptRecord]{
			Vector:    rec.Vector,
			Payload:   rec,
			Timestamp: rec.Timestamp,
		})
	}

	found, err := knn.FindNearest(vector, candidates, k, knn.MetricCosine, knn.Options{HalfLife: s.halfLife})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(found))
	for _, m := range found {
		matches = append(matches, Match{Record: m.Payload, Similarity: m.Similarity, Score: m.Score})
	}
	return matches, nil
}

// PerformanceByExecutor aggregates stored attempts for one executor ID.
func (s *Store) PerformanceByExecutor(id string) ExecutorPerformance {
	var perf ExecutorPerformance
	var totalQuality float64
	var totalDuration time.Duration

	for _, rec := range s.snapshot() {
		if rec.ExecutorID != id {
			continue
		}
		perf.Attempts++
		if rec.Success {
			perf.Successes++
		}
		totalQuality += rec.QualityScore
		totalDuration += rec.Duration
	}
	if perf.Attempts > 0 {
		perf.AverageQuality = totalQuality / float64(perf.Attempts)
		perf.AverageDuration = totalDuration / time.Duration(perf.Attempts)
	}
	return perf
}

// Stats summarizes the current store contents.
func (s *Store) Stats() Stats {
	snapshot := s.snapshot()

	stats := Stats{TotalRecords: len(snapshot)}
	if len(snapshot) == 0 {
		return stats
	}

	executors := make(map[string]struct{})
	var successes int
	var totalQuality float64
	oldest, newest := snapshot[0].Timestamp, snapshot[0].Timestamp
	for _, rec := range snapshot {
		executors[rec.ExecutorID] = struct{}{}
		if rec.Success {
			successes++
		}
		totalQuality += rec.QualityScore
		if rec.Timestamp.Before(oldest) {
			oldest = rec.Timestamp
		}
		if rec.Timestamp.After(newest) {
			newest = rec.Timestamp
		}
	}

	stats.UniqueExecutors = len(executors)
	stats.SuccessRate = float64(successes) / float64(len(snapshot))
	stats.AvgQuality = totalQuality / float64(len(snapshot))
	stats.OldestTimestamp = oldest
	stats.NewestTimestamp = newest
	return stats
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// AdaptiveThreshold derives an acceptance bar from the quality scores of
// similar historical attempts: mean minus half a standard deviation,
// clamped to [5.0, 9.5]. Harder neighborhoods lower the bar, easier ones
// raise it. Callers gate on having enough records for the statistic to
// mean anything.
func AdaptiveThreshold(matches []Match) float64 {
	if len(matches) == 0 {
		return adaptiveFloor
	}

	var sum float64
	for _, m := range matches {
		sum += m.Record.QualityScore
	}
	mean := sum / float64(len(matches))

	var variance float64
	for _, m := range matches {
		d := m.Record.QualityScore - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(matches)))

	threshold := mean - 0.5*stddev
	if threshold < adaptiveFloor {
		return adaptiveFloor
	}
	if threshold > adaptiveCeiling {
		return adaptiveCeiling
	}
	return threshold
}

func (s *Store) snapshot() []AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AttemptRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) sortByTimestamp() {
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.records[i].Timestamp.Before(s.records[j].Timestamp)
	})
}

// pruneLocked trims the oldest records past the cap. Caller holds the lock.
func (s *Store) pruneLocked() bool {
	if len(s.records) <= s.maxRecords {
		return false
	}
	s.sortByTimestamp()
	drop := len(s.records) - s.maxRecords
	s.records = append(s.records[:0:0], s.records[drop:]...)
	return true
}

func (s *Store) appendLocked(rec AttemptRecord) error {
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode attempt record: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append attempt record: %w", err)
	}
	return nil
}

// rewriteLocked compacts the log to exactly the in-memory records, via a
// temp file and rename so a crash mid-write cannot lose the whole log.
func (s *Store) rewriteLocked() error {
	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open history temp file: %w", err)
	}

	writer := bufio.NewWriter(file)
	for _, rec := range s.records {
		data, err := json.Marshal(rec)
		if err != nil {
			file.Close()
			return fmt.Errorf("encode attempt record: %w", err)
		}
		if _, err := writer.Write(append(data, '\n')); err != nil {
			file.Close()
			return fmt.Errorf("write history temp file: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("flush history temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close history temp file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func validateRecord(rec *AttemptRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("attempt record ID is required")
	}
	if rec.Task == "" {
		return fmt.Errorf("attempt record task text is required")
	}
	if rec.ExecutorID == "" {
		return fmt.Errorf("attempt record executor ID is required")
	}
	if len(rec.Vector) != embed.Dimensions {
		return fmt.Errorf("attempt record vector has %d dimensions, want %d", len(rec.Vector), embed.Dimensions)
	}
	if rec.QualityScore < 0 || rec.QualityScore > 10 {
		return fmt.Errorf("attempt record quality %.2f out of [0,10]", rec.QualityScore)
	}
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("attempt record timestamp is required")
	}
	return nil
}
