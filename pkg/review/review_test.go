package review

import (
	"testing"
	"time"

	"github.com/cuemby/workloadcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintNormalizesIdentifiersAndDigits(t *testing.T) {
	a := Fingerprint("why did JOB1234 fail on WORKSTATION99 at 10:30")
	b := Fingerprint("why did JOB5678 fail on WORKSTATIONXX at 10:30")
	assert.Equal(t, a, b, "all-caps identifiers and digit runs should normalize to the same fingerprint")
}

func TestFingerprintStableForSameInput(t *testing.T) {
	a := Fingerprint("some query text")
	b := Fingerprint("some query text")
	assert.Equal(t, a, b)
}

func TestEvaluateSingleReasonProducesWarningNotEnqueue(t *testing.T) {
	tracker := NewPatternTracker()
	input := DecisionInput{
		Query:                    "a perfectly ordinary question",
		ClassificationConfidence: 0.59,
		TopRetrievalSimilarity:   0.9,
		EntitiesFound:            3,
	}
	// Prime the tracker so a first sighting doesn't add NOVEL_QUERY_PATTERN
	// as a second reason.
	for i := 0; i < novelOccurrenceThreshold; i++ {
		tracker.Observe(Fingerprint(input.Query), input.ClassificationConfidence)
	}
	d := Evaluate(input, tracker)

	assert.False(t, d.ShouldReview)
	assert.NotEmpty(t, d.Warning)
	assert.Len(t, d.Reasons, 1)
}

func TestEvaluateTwoReasonsEnqueues(t *testing.T) {
	tracker := NewPatternTracker()
	d := Evaluate(DecisionInput{
		Query:                    "a low confidence low relevance question",
		ClassificationConfidence: 0.5,
		TopRetrievalSimilarity:   0.5,
		EntitiesFound:            3,
	}, tracker)

	assert.True(t, d.ShouldReview)
	assert.GreaterOrEqual(t, len(d.Reasons), 2)
}

func TestEvaluateSimilarToPastErrorAloneEnqueues(t *testing.T) {
	tracker := NewPatternTracker()
	d := Evaluate(DecisionInput{
		Query:                    "a question matching a known bad pattern",
		ClassificationConfidence: 0.95,
		TopRetrievalSimilarity:   0.95,
		EntitiesFound:            3,
		MatchesPastErrorPattern:  true,
	}, tracker)

	require.True(t, d.ShouldReview)
	assert.Contains(t, d.Reasons, types.ReasonSimilarToPastError)
}

func TestEvaluateNovelPatternStopsBeingNovelAfterThreeObservations(t *testing.T) {
	tracker := NewPatternTracker()
	input := DecisionInput{
		Query:                    "a repeated novel-ish query",
		ClassificationConfidence: 0.75,
		TopRetrievalSimilarity:   0.95,
		EntitiesFound:            3,
	}

	var last Decision
	for i := 0; i < 4; i++ {
		last = Evaluate(input, tracker)
	}
	assert.NotContains(t, last.Reasons, types.ReasonNovelQueryPattern,
		"after 3+ prior observations the pattern should no longer be flagged as novel")
}

func TestEvaluateActiveLearningTriggerScenario(t *testing.T) {
	tracker := NewPatternTracker()
	input := DecisionInput{
		Query:                    "why did job X fail?",
		ClassificationConfidence: 0.55,
		TopRetrievalSimilarity:   0.62,
		EntitiesFound:            1,
	}

	// Prime the tracker past the novel-occurrence threshold first, so the
	// decision under test isn't also flagged NOVEL_QUERY_PATTERN purely
	// for being this fingerprint's first sighting.
	for i := 0; i < novelOccurrenceThreshold; i++ {
		tracker.Observe(Fingerprint(input.Query), input.ClassificationConfidence)
	}

	d := Evaluate(input, tracker)

	assert.ElementsMatch(t, []types.ReviewReason{
		types.ReasonLowClassificationConfidence,
		types.ReasonLowRAGRelevance,
	}, d.Reasons)
	assert.True(t, d.ShouldReview)
}

func TestQueueEnqueuePendingSubmitStatsExpire(t *testing.T) {
	q := NewQueue()

	id := q.Enqueue("query 1", "response 1",
		[]types.ReviewReason{types.ReasonLowClassificationConfidence, types.ReasonLowRAGRelevance},
		map[string]float64{"classification": 0.5})

	pending := q.Pending(0, "")
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	filtered := q.Pending(0, types.ReasonNoEntitiesFound)
	assert.Empty(t, filtered)

	require.NoError(t, q.SubmitReview(id, types.ReviewCorrected, "reviewer1", "corrected answer", "was stale"))

	stats := q.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Corrected)
	assert.Equal(t, 0, stats.Pending)

	err := q.SubmitReview(id, types.ReviewRejected, "reviewer2", "", "")
	assert.Error(t, err, "a terminal item cannot be reviewed again")
}

func TestQueueExpireOldOnlyTouchesPendingItems(t *testing.T) {
	q := NewQueue()
	id := q.Enqueue("old query", "resp", []types.ReviewReason{types.ReasonSimilarToPastError}, nil)

	q.mu.Lock()
	q.items[id].CreatedAt = time.Now().Add(-48 * time.Hour)
	q.mu.Unlock()

	expired := q.ExpireOld(24 * time.Hour)
	assert.Equal(t, 1, expired)

	stats := q.Stats()
	assert.Equal(t, 1, stats.Expired)
}
