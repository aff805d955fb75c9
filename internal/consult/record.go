package consult

import (
	"errors"
	"sync"
	"time"
)

// Record errors.
var (
	// ErrUnknownSession is returned for events referencing a session id that
	// was never started. Callers log and drop; no ghost record is created.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionExists is returned when a consultation start repeats an id.
	ErrSessionExists = errors.New("session already tracked")
)

// StageEntry is one step in a session's stage history.
type StageEntry struct {
	Stage string    `json:"stage"`
	At    time.Time `json:"at"`
}

// ConversionEvent is one conversion recorded against a session.
type ConversionEvent struct {
	Kind    string    `json:"kind"`
	Value   float64   `json:"value"`
	FrameID string    `json:"frame_id,omitempty"`
	At      time.Time `json:"at"`
}

// Record is the per-session consultation state. It is created on
// consultation start and mutated only through its owning trackers.
// Invariant: Stages is non-empty once created and CurrentStage always
// equals the last stage entry.
type Record struct {
	SessionID                string            `json:"session_id"`
	Platform                 string            `json:"platform"`
	StartedAt                time.Time         `json:"started_at"`
	Stages                   []StageEntry      `json:"stages"`
	CurrentStage             string            `json:"current_stage"`
	FaceAnalysisCompleted    bool              `json:"face_analysis_completed"`
	StoreLocatorUsed         bool              `json:"store_locator_used"`
	RecommendationsGenerated int               `json:"recommendations_generated"`
	VoiceInteractions        int               `json:"voice_interactions"`
	Conversions              []ConversionEvent `json:"conversions"`
}

// clone deep-copies a record so registry reads never alias internal state.
func (r *Record) clone() Record {
	out := *r
	out.Stages = make([]StageEntry, len(r.Stages))
	copy(out.Stages, r.Stages)
	out.Conversions = make([]ConversionEvent, len(r.Conversions))
	copy(out.Conversions, r.Conversions)
	return out
}

// recordEntry pairs a record with its own mutex so sessions never contend
// with each other.
type recordEntry struct {
	mu  sync.Mutex
	rec Record
}

// Registry holds the active consultation records keyed by session id.
// The outer lock guards only the map; per-record mutation runs under the
// record's own lock.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*recordEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*recordEntry),
	}
}

// Create registers a new record for sessionID. The initial stage is always
// "started" so the stage-history invariant holds from creation.
func (g *Registry) Create(sessionID, platform string, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.records[sessionID]; ok {
		return ErrSessionExists
	}

	g.records[sessionID] = &recordEntry{
		rec: Record{
			SessionID:    sessionID,
			Platform:     platform,
			StartedAt:    at,
			Stages:       []StageEntry{{Stage: "started", At: at}},
			CurrentStage: "started",
		},
	}
	return nil
}

// Mutate applies fn to the record for sessionID under its lock.
// Returns ErrUnknownSession when the id has no record.
func (g *Registry) Mutate(sessionID string, fn func(*Record)) error {
	g.mu.RLock()
	e, ok := g.records[sessionID]
	g.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.rec)
	return nil
}

// Get returns a deep copy of the record for sessionID.
func (g *Registry) Get(sessionID string) (Record, bool) {
	g.mu.RLock()
	e, ok := g.records[sessionID]
	g.mu.RUnlock()
	if !ok {
		return Record{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.clone(), true
}

// Remove drops the record for sessionID. Reclaiming finished sessions is
// the external reaper's job; the registry only provides the hook.
func (g *Registry) Remove(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, sessionID)
}

// Len returns the number of tracked sessions.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// Keys returns all tracked session ids in unspecified order.
func (g *Registry) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	keys := make([]string, 0, len(g.records))
	for id := range g.records {
		keys = append(keys, id)
	}
	return keys
}

// Stats is an aggregate view over all tracked sessions.
type Stats struct {
	ActiveSessions         int     `json:"active_sessions"`
	FaceAnalysisSessions   int     `json:"face_analysis_sessions"`
	StoreLocatorSessions   int     `json:"store_locator_sessions"`
	TotalRecommendations   int     `json:"total_recommendations"`
	TotalVoiceInteractions int     `json:"total_voice_interactions"`
	ConvertedSessions      int     `json:"converted_sessions"`
	TotalConversions       int     `json:"total_conversions"`
	TotalConversionValue   float64 `json:"total_conversion_value"`
}

// ConversionRatePercent is the percentage of tracked sessions with at least
// one conversion. Zero when nothing is tracked.
func (s Stats) ConversionRatePercent() float64 {
	if s.ActiveSessions == 0 {
		return 0
	}
	return float64(s.ConvertedSessions) / float64(s.ActiveSessions) * 100
}

// StoreLocatorUsageRate is the fraction of tracked sessions that used the
// store locator. Zero when nothing is tracked.
func (s Stats) StoreLocatorUsageRate() float64 {
	if s.ActiveSessions == 0 {
		return 0
	}
	return float64(s.StoreLocatorSessions) / float64(s.ActiveSessions)
}

// Stats walks all records and returns the aggregate view.
func (g *Registry) Stats() Stats {
	g.mu.RLock()
	entries := make([]*recordEntry, 0, len(g.records))
	for _, e := range g.records {
		entries = append(entries, e)
	}
	g.mu.RUnlock()

	var st Stats
	st.ActiveSessions = len(entries)
	for _, e := range entries {
		e.mu.Lock()
		if e.rec.FaceAnalysisCompleted {
			st.FaceAnalysisSessions++
		}
		if e.rec.StoreLocatorUsed {
			st.StoreLocatorSessions++
		}
		st.TotalRecommendations += e.rec.RecommendationsGenerated
		st.TotalVoiceInteractions += e.rec.VoiceInteractions
		if len(e.rec.Conversions) > 0 {
			st.ConvertedSessions++
		}
		st.TotalConversions += len(e.rec.Conversions)
		for _, c := range e.rec.Conversions {
			st.TotalConversionValue += c.Value
		}
		e.mu.Unlock()
	}
	return st
}
