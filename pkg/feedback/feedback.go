// Package feedback implements the FeedbackStore and
// FeedbackAwareRetriever: an in-memory ledger of per-(query, document)
// feedback and a retrieval reranker that adjusts base scores using it.
//
// The store's CRUD shape (record/list/aggregate behind one guarded
// in-memory index, built to later swap in a durable backend) follows
// the teacher's storage.Store interface style
// (cuemby-warren/pkg/storage/store.go); the decay/aggregation math has
// no teacher analogue and is original domain logic built directly from
// spec.md §4.6.
package feedback

import (
	"math"
	"sort"
	"sync"
	"time"

	coreerrors "github.com/cuemby/workloadcore/pkg/errors"
	"github.com/cuemby/workloadcore/pkg/types"
)

const (
	// decayWindow is the period over which feedback recency is weighed;
	// a record this old is weighted at 1/e (about 0.37) of a fresh one.
	decayWindow = 30 * 24 * time.Hour

	// queryWeight/globalWeight set how much more a query-specific record
	// counts relative to a global (cross-query) record for the same doc id.
	queryWeight  = 1.0
	globalWeight = 0.4

	minAdjustment = -0.5
	maxAdjustment = 0.5

	// auditPurgeAfter bounds how long audit-origin records (synthetic
	// penalization written by AuditToKGPipeline) stay in the store before
	// PurgeExpiredAudit removes them, preventing long-run pollution of
	// doc-id adjustments from stale incident data.
	auditPurgeAfter = 90 * 24 * time.Hour
)

// Store is the feedback ledger. Records are held in memory only; they
// are not written to disk and do not survive a restart.
type Store struct {
	mu      sync.RWMutex
	records []types.FeedbackRecord
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Record appends a feedback record. Rating is expected in [-1, 1] but
// is not itself clamped here; callers decide their own rating scale.
func (s *Store) Record(rec types.FeedbackRecord) error {
	if rec.DocumentID == "" {
		return coreerrors.Wrap(coreerrors.ErrInputValidation, "document id must not be empty", nil)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// GetScores returns, for each requested doc id, the aggregated
// DocumentScore for query. Doc ids with no matching records are
// omitted from the result.
func (s *Store) GetScores(query string, docIDs []string) map[string]types.DocumentScore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		wanted[id] = true
	}

	type accum struct {
		weightedSum float64
		weightTotal float64
		n           int
	}
	byDoc := make(map[string]*accum)
	now := time.Now()

	for _, rec := range s.records {
		if !wanted[rec.DocumentID] {
			continue
		}
		a, ok := byDoc[rec.DocumentID]
		if !ok {
			a = &accum{}
			byDoc[rec.DocumentID] = a
		}

		decay := decayFactor(now.Sub(rec.CreatedAt))
		specificity := globalWeight
		if rec.Query == query {
			specificity = queryWeight
		}
		w := decay * specificity
		a.weightedSum += float64(rec.Rating) * w
		a.weightTotal += w
		a.n++
	}

	out := make(map[string]types.DocumentScore, len(byDoc))
	for docID, a := range byDoc {
		adj := 0.0
		if a.weightTotal > 0 {
			adj = a.weightedSum / a.weightTotal
		}
		out[docID] = types.DocumentScore{
			Query:      query,
			DocumentID: docID,
			Adjustment: clamp(adj, minAdjustment, maxAdjustment),
			SampleSize: a.n,
		}
	}
	return out
}

// decayFactor is an exponential decay with a 30-day half-life-scale
// window: feedback from `age==decayWindow` contributes ~1/e as much as
// fresh feedback.
func decayFactor(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Exp(-age.Seconds() / decayWindow.Seconds())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Stats summarizes the store's contents.
type Stats struct {
	TotalRecords int
	AuditRecords int
	UniqueDocs   int
}

// Stats computes aggregate counts over the current record set.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make(map[string]struct{})
	st := Stats{TotalRecords: len(s.records)}
	for _, rec := range s.records {
		if rec.IsAuditOrigin() {
			st.AuditRecords++
		}
		docs[rec.DocumentID] = struct{}{}
	}
	st.UniqueDocs = len(docs)
	return st
}

// PurgeExpiredAudit removes audit-origin records older than
// auditPurgeAfter, returning the number removed. Human-origin records
// are never purged by this call.
func (s *Store) PurgeExpiredAudit() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		if rec.IsAuditOrigin() && now.Sub(rec.CreatedAt) > auditPurgeAfter {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return removed
}

// Candidate is one retrieval result handed to the reranker.
type Candidate struct {
	DocumentID string
	BaseScore  float64
	Payload    types.Value
}

// BaseRetriever is the interface a FeedbackAwareRetriever wraps.
type BaseRetriever interface {
	Retrieve(query string, topK int, filters map[string]string) ([]Candidate, error)
}

// ScoreSource is the subset of Store's surface the Retriever depends
// on; satisfied by *Store, and small enough to fake in tests.
type ScoreSource interface {
	GetScores(query string, docIDs []string) map[string]types.DocumentScore
	Record(rec types.FeedbackRecord) error
}

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	// FeedbackWeight scales how strongly the adjustment affects the
	// final score; 0 disables feedback entirely.
	FeedbackWeight float64
}

const maxCandidateFetch = 50

// Retriever is the FeedbackAwareRetriever.
type Retriever struct {
	base   BaseRetriever
	store  ScoreSource
	weight float64

	mu         sync.Mutex
	lastWindow []Candidate
	lastQuery  string
}

// NewRetriever wraps base with feedback-aware reranking.
func NewRetriever(base BaseRetriever, store ScoreSource, cfg RetrieverConfig) *Retriever {
	return &Retriever{base: base, store: store, weight: clamp(cfg.FeedbackWeight, 0, 1)}
}

// Retrieve fetches up to 2*topK candidates (capped at maxCandidateFetch),
// reranks them using FeedbackStore adjustments, and returns the top-k. If
// weight is zero, scores are unchanged and the result is strictly the
// base retriever's top-k.
func (r *Retriever) Retrieve(query string, topK int, filters map[string]string) ([]Candidate, error) {
	fetch := topK * 2
	if fetch > maxCandidateFetch {
		fetch = maxCandidateFetch
	}
	if fetch < topK {
		fetch = topK
	}

	candidates, err := r.base.Retrieve(query, fetch, filters)
	if err != nil {
		return nil, err
	}

	if r.weight > 0 {
		docIDs := make([]string, len(candidates))
		for i, c := range candidates {
			docIDs[i] = c.DocumentID
		}
		scores := r.store.GetScores(query, docIDs)
		for i := range candidates {
			if score, ok := scores[candidates[i].DocumentID]; ok {
				candidates[i].BaseScore = candidates[i].BaseScore * (1 + score.Adjustment*r.weight)
			}
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].BaseScore > candidates[j].BaseScore
		})
	}

	if topK < len(candidates) {
		candidates = candidates[:topK]
	}

	r.mu.Lock()
	r.lastWindow = candidates
	r.lastQuery = query
	r.mu.Unlock()

	return candidates, nil
}

// RecordFeedback records rating against the doc id at index in the
// most recent Retrieve result window.
func (r *Retriever) RecordFeedback(index int, rating int, userID string) error {
	r.mu.Lock()
	window := r.lastWindow
	query := r.lastQuery
	r.mu.Unlock()

	if index < 0 || index >= len(window) {
		return coreerrors.Wrap(coreerrors.ErrInputValidation, "feedback index out of range of the last result window", nil)
	}
	return r.store.Record(types.FeedbackRecord{
		Query:      query,
		DocumentID: window[index].DocumentID,
		Rating:     rating,
		UserID:     userID,
		CreatedAt:  time.Now(),
	})
}
