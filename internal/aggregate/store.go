// Package aggregate maintains keyed running statistics updated incrementally
// per event. Each key holds O(1) state regardless of how many samples it has
// absorbed; no per-sample history is retained.
package aggregate

import (
	"sync"
)

// Sample carries the optional measurements of a single observation. Nil
// fields are absent and do not affect the corresponding mean.
type Sample struct {
	Confidence       *float64
	DurationMs       *float64
	ProcessingTimeMs *float64
	Success          *bool
	Score            *float64
}

// Snapshot is a point-in-time copy of one key's statistics. Mean fields are
// nil until the first sample populating them arrives. Counters is always
// non-nil but may be empty.
type Snapshot struct {
	Key                  string           `json:"key"`
	Count                int64            `json:"count"`
	MeanConfidence       *float64         `json:"mean_confidence,omitempty"`
	MeanDurationMs       *float64         `json:"mean_duration_ms,omitempty"`
	MeanProcessingTimeMs *float64         `json:"mean_processing_time_ms,omitempty"`
	SuccessRate          *float64         `json:"success_rate,omitempty"`
	MeanScore            *float64         `json:"mean_score,omitempty"`
	Counters             map[string]int64 `json:"counters"`
}

// runningMean is an incremental (Welford) mean over the samples that carried
// the field. n is tracked per field so a mean is always the arithmetic mean
// of exactly the observations that populated it.
type runningMean struct {
	n     int64
	value float64
}

func (m *runningMean) add(v float64) {
	m.n++
	m.value += (v - m.value) / float64(m.n)
}

func (m *runningMean) snapshot() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.value
	return &v
}

// entry holds the mutable statistics for one key. Updates to the same entry
// are serialized by its own mutex; entries for different keys never contend.
type entry struct {
	mu             sync.Mutex
	count          int64
	confidence     runningMean
	duration       runningMean
	processingTime runningMean
	success        runningMean
	score          runningMean
	counters       map[string]int64
}

func (e *entry) snapshotLocked(key string) Snapshot {
	counters := make(map[string]int64, len(e.counters))
	for k, v := range e.counters {
		counters[k] = v
	}
	return Snapshot{
		Key:                  key,
		Count:                e.count,
		MeanConfidence:       e.confidence.snapshot(),
		MeanDurationMs:       e.duration.snapshot(),
		MeanProcessingTimeMs: e.processingTime.snapshot(),
		SuccessRate:          e.success.snapshot(),
		MeanScore:            e.score.snapshot(),
		Counters:             counters,
	}
}

// Store maps dimension keys to their running statistics. Entries are created
// lazily on first use and never deleted; external snapshot/reset is the
// caller's concern.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty aggregate store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
	}
}

// getOrCreate returns the entry for key, creating it if needed. The outer
// lock only guards map access; per-entry state is guarded by the entry lock.
func (s *Store) getOrCreate(key string) *entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; ok {
		return e
	}
	e = &entry{counters: make(map[string]int64)}
	s.entries[key] = e
	return e
}

// Update absorbs one sample into the statistics for key and returns the
// resulting snapshot. The count increments on every update; each mean only
// advances when its field is present in the sample.
func (s *Store) Update(key string, sample Sample) Snapshot {
	e := s.getOrCreate(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.count++
	if sample.Confidence != nil {
		e.confidence.add(*sample.Confidence)
	}
	if sample.DurationMs != nil {
		e.duration.add(*sample.DurationMs)
	}
	if sample.ProcessingTimeMs != nil {
		e.processingTime.add(*sample.ProcessingTimeMs)
	}
	if sample.Success != nil {
		v := 0.0
		if *sample.Success {
			v = 1.0
		}
		e.success.add(v)
	}
	if sample.Score != nil {
		e.score.add(*sample.Score)
	}

	return e.snapshotLocked(key)
}

// AddCounter increments a named counter for key by delta and returns the
// resulting snapshot. Counters do not affect Count or any mean.
func (s *Store) AddCounter(key, counter string, delta int64) Snapshot {
	e := s.getOrCreate(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.counters[counter] += delta
	return e.snapshotLocked(key)
}

// Get returns the snapshot for key. The second return value reports whether
// the key has been seen.
func (s *Store) Get(key string) (Snapshot, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(key), true
}

// Keys returns all known keys in unspecified order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// SnapshotAll returns snapshots for every known key.
func (s *Store) SnapshotAll() []Snapshot {
	keys := s.Keys()
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		if snap, ok := s.Get(k); ok {
			out = append(out, snap)
		}
	}
	return out
}

// Len returns the number of known keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
