// Package review implements the ActiveLearningQueue: the decision
// logic that flags a query/response pair for human review, the
// fingerprinting used to track query-pattern novelty, and the review
// queue itself.
//
// The queue's bookkeeping (map keyed by generated id, guarded by one
// mutex, with an expiry sweep) follows the registry-with-expiry shape
// of cuemby-warren/pkg/manager/token.go; fingerprinting reuses
// pkg/cache's xxhash dependency rather than adding a second hashing
// library, and the decision thresholds are original domain logic taken
// directly from spec.md §4.7.
package review

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	coreerrors "github.com/cuemby/workloadcore/pkg/errors"
	"github.com/cuemby/workloadcore/pkg/types"
)

const (
	lowConfidenceThreshold    = 0.6
	lowRAGRelevanceThreshold  = 0.7
	novelPatternConfidenceCap = 0.8
	novelOccurrenceThreshold  = 3

	fingerprintMaxLen = 200
)

// DecisionInput is the evidence a review Decision is computed from.
type DecisionInput struct {
	Query                   string
	ClassificationConfidence float64
	TopRetrievalSimilarity   float64
	EntitiesFound            int
	MatchesPastErrorPattern  bool
}

// Decision is the outcome of evaluating a DecisionInput against a
// PatternTracker's novelty statistics.
type Decision struct {
	Reasons      []types.ReviewReason
	ShouldReview bool
	Warning      string
	Fingerprint  string
}

// PatternTracker tracks occurrence counts and a rolling average
// classification confidence per query-pattern fingerprint.
type PatternTracker struct {
	mu    sync.Mutex
	stats map[string]*patternStat
}

type patternStat struct {
	Count          int
	AvgConfidence  float64
}

// NewPatternTracker constructs an empty PatternTracker.
func NewPatternTracker() *PatternTracker {
	return &PatternTracker{stats: make(map[string]*patternStat)}
}

// Observe folds one more observation of fingerprint into its rolling
// statistics and returns the prior occurrence count (before this
// observation) and prior average confidence, which the novelty check
// needs to evaluate "seen fewer than 3 times" against history rather
// than against itself.
func (t *PatternTracker) Observe(fingerprint string, confidence float64) (priorCount int, priorAvg float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.stats[fingerprint]
	if !ok {
		t.stats[fingerprint] = &patternStat{Count: 1, AvgConfidence: confidence}
		return 0, 0
	}
	priorCount = st.Count
	priorAvg = st.AvgConfidence
	st.AvgConfidence = (st.AvgConfidence*float64(st.Count) + confidence) / float64(st.Count+1)
	st.Count++
	return priorCount, priorAvg
}

// Fingerprint lowercases query, replaces all-caps identifiers and digit
// runs with placeholders, truncates to 200 characters, and returns a
// stable short hash of the result.
func Fingerprint(query string) string {
	normalized := normalizeForFingerprint(query)
	if len(normalized) > fingerprintMaxLen {
		normalized = normalized[:fingerprintMaxLen]
	}
	return hashFingerprint(normalized)
}

func normalizeForFingerprint(query string) string {
	var b strings.Builder
	runs := strings.Fields(query)
	for i, word := range runs {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch {
		case isAllCapsIdentifier(word):
			b.WriteString("<ID>")
		case isDigitRun(word):
			b.WriteString("<NUM>")
		default:
			b.WriteString(strings.ToLower(word))
		}
	}
	return b.String()
}

func isAllCapsIdentifier(word string) bool {
	hasLetter := false
	for _, r := range word {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
		}
	}
	return hasLetter && len(word) > 1
}

func isDigitRun(word string) bool {
	if word == "" {
		return false
	}
	for _, r := range word {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hashFingerprint(s string) string {
	sum := xxhash.Sum64String(s)
	return uint64ToHex(sum)
}

func uint64ToHex(v uint64) string {
	const digits = "0123456789abcdef"
	var buf [16]byte
	for i := 15; i >= 0; i-- {
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return string(buf[:])
}

// Evaluate computes a Decision for input, folding its query's
// fingerprint into tracker's novelty statistics as a side effect.
func Evaluate(input DecisionInput, tracker *PatternTracker) Decision {
	fp := Fingerprint(input.Query)
	priorCount, _ := tracker.Observe(fp, input.ClassificationConfidence)

	var reasons []types.ReviewReason
	if input.ClassificationConfidence < lowConfidenceThreshold {
		reasons = append(reasons, types.ReasonLowClassificationConfidence)
	}
	if input.TopRetrievalSimilarity < lowRAGRelevanceThreshold {
		reasons = append(reasons, types.ReasonLowRAGRelevance)
	}
	if input.EntitiesFound < 1 {
		reasons = append(reasons, types.ReasonNoEntitiesFound)
	}
	if input.MatchesPastErrorPattern {
		reasons = append(reasons, types.ReasonSimilarToPastError)
	}
	if (priorCount == 0 || priorCount < novelOccurrenceThreshold) && input.ClassificationConfidence < novelPatternConfidenceCap {
		reasons = append(reasons, types.ReasonNovelQueryPattern)
	}

	d := Decision{Reasons: reasons, Fingerprint: fp}

	onlyPastError := len(reasons) == 1 && reasons[0] == types.ReasonSimilarToPastError
	if len(reasons) >= 2 || onlyPastError {
		d.ShouldReview = true
		return d
	}
	if len(reasons) == 1 {
		d.Warning = "review signal present but below the enqueue threshold: " + string(reasons[0])
	}
	return d
}

// Queue is the ActiveLearningQueue: review items plus the
// pattern-novelty tracker that feeds Evaluate. Items are held in memory
// only; they are not written to disk and do not survive a restart.
type Queue struct {
	mu      sync.Mutex
	items   map[string]*types.ReviewItem
	Tracker *PatternTracker
}

// NewQueue constructs an empty Queue.
func NewQueue() *Queue {
	return &Queue{items: make(map[string]*types.ReviewItem), Tracker: NewPatternTracker()}
}

// Enqueue adds item to the queue with a generated id and pending
// status, returning the id.
func (q *Queue) Enqueue(query, proposedResponse string, reasons []types.ReviewReason, confidences map[string]float64) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.items[id] = &types.ReviewItem{
		ID:               id,
		Query:            query,
		ProposedResponse: proposedResponse,
		Reasons:          reasons,
		Confidences:      confidences,
		Status:           types.ReviewPending,
		CreatedAt:        time.Now(),
	}
	return id
}

// Pending returns up to limit pending items, optionally filtered to
// those carrying reasonFilter, newest first. limit<=0 means unbounded.
func (q *Queue) Pending(limit int, reasonFilter types.ReviewReason) []*types.ReviewItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*types.ReviewItem
	for _, item := range q.items {
		if item.Status != types.ReviewPending {
			continue
		}
		if reasonFilter != "" && !containsReason(item.Reasons, reasonFilter) {
			continue
		}
		out = append(out, cloneItem(item))
	}
	sortItemsNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func containsReason(reasons []types.ReviewReason, want types.ReviewReason) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func sortItemsNewestFirst(items []*types.ReviewItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].CreatedAt.After(items[j-1].CreatedAt); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func cloneItem(item *types.ReviewItem) *types.ReviewItem {
	cp := *item
	cp.Reasons = append([]types.ReviewReason(nil), item.Reasons...)
	return &cp
}

// SubmitReview transitions item id to status, recording reviewer,
// optional correction, and optional feedback. A correction is also
// implicitly a learning outcome: callers should feed it to the
// FeedbackStore or knowledge graph themselves, since this queue has no
// dependency on either.
func (q *Queue) SubmitReview(id string, status types.ReviewStatus, reviewerID, correction, feedback string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return coreerrors.Wrap(coreerrors.ErrNotFound, "review item not found", nil)
	}
	if item.Status != types.ReviewPending && item.Status != types.ReviewInProgress {
		return coreerrors.Wrap(coreerrors.ErrInputValidation, "review item is already in a terminal status", nil)
	}

	item.Status = status
	item.ReviewerID = reviewerID
	item.Correction = correction
	item.Feedback = feedback
	return nil
}

// Stats summarizes the queue's current contents.
type Stats struct {
	Total     int
	Pending   int
	Corrected int
	Rejected  int
	Expired   int
}

// Stats computes aggregate counts over the current item set.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, item := range q.items {
		s.Total++
		switch item.Status {
		case types.ReviewPending, types.ReviewInProgress:
			s.Pending++
		case types.ReviewCorrected:
			s.Corrected++
		case types.ReviewRejected:
			s.Rejected++
		case types.ReviewExpired:
			s.Expired++
		}
	}
	return s
}

// ExpireOld transitions pending/in-progress items older than maxAge to
// expired, returning the count transitioned.
func (q *Queue) ExpireOld(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	expired := 0
	for _, item := range q.items {
		if item.Status != types.ReviewPending && item.Status != types.ReviewInProgress {
			continue
		}
		if now.Sub(item.CreatedAt) > maxAge {
			item.Status = types.ReviewExpired
			expired++
		}
	}
	return expired
}
