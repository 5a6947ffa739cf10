// Package audit implements the AuditToKGPipeline: it turns an
// auditor's finding — a response judged incorrect, with a confidence
// and a reason — into persistent negative knowledge in the knowledge
// graph, and penalizes the documents the bad response relied on.
//
// The pipeline never removes or edits a non-error edge; it only ever
// appends error-knowledge. The optional LLM-assisted extraction step
// is wrapped in a circuit breaker, grounded on
// jordigilh-kubernaut's retry/breaker-guarded LLM client testing
// expectations (pkg/ai/llm), since the teacher repo never calls an
// external model.
package audit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cuemby/workloadcore/pkg/feedback"
	"github.com/cuemby/workloadcore/pkg/log"
	"github.com/cuemby/workloadcore/pkg/patterns"
	"github.com/cuemby/workloadcore/pkg/review"
	"github.com/cuemby/workloadcore/pkg/types"
)

// maxLLMTriplets bounds how many additional triplets the optional LLM
// extraction step may contribute.
const maxLLMTriplets = 3

// llmConfidenceDiscount scales down the confidence of LLM-proposed
// triplets relative to the auditor's own confidence, since they are
// one inferential step further from the finding.
const llmConfidenceDiscount = 0.7

// Finding is an auditor's judgment that a response was wrong.
type Finding struct {
	Query            string
	ResponseText     string
	Reason           string
	Confidence       float64
	ReferencedDocIDs []string
}

// GraphWriter is the subset of the knowledge graph's surface the
// pipeline writes to.
type GraphWriter interface {
	UpsertNode(node types.GraphNode) error
	UpsertEdge(edge types.GraphEdge) error
}

// Extractor optionally proposes additional triplets from a finding
// using an external model. Implementations should return quickly and
// fail cleanly; the pipeline treats any error as "skip this step."
type Extractor interface {
	Extract(ctx context.Context, f Finding) ([]types.Triplet, error)
}

// Config configures a Pipeline.
type Config struct {
	Dictionary *patterns.Dictionary
	Graph      GraphWriter
	Feedback   *feedback.Store
	Extractor  Extractor // optional
}

// Pipeline is the AuditToKGPipeline.
type Pipeline struct {
	dict      *patterns.Dictionary
	graph     GraphWriter
	feedback  *feedback.Store
	extractor Extractor
	breaker   *gobreaker.CircuitBreaker[[]types.Triplet]
}

// New constructs a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	var cb *gobreaker.CircuitBreaker[[]types.Triplet]
	if cfg.Extractor != nil {
		cb = gobreaker.NewCircuitBreaker[[]types.Triplet](gobreaker.Settings{
			Name:        "audit-llm-extraction",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return &Pipeline{
		dict:      cfg.Dictionary,
		graph:     cfg.Graph,
		feedback:  cfg.Feedback,
		extractor: cfg.Extractor,
		breaker:   cb,
	}
}

// Result summarizes what a Process call wrote.
type Result struct {
	ErrorType       patterns.ErrorType
	Entities        []patterns.EntityMatch
	TripletsWritten int
	DocsPenalized  int
}

// Process runs the full pipeline for one finding.
func (p *Pipeline) Process(ctx context.Context, f Finding) (Result, error) {
	errType := p.dict.ClassifyError(f.Reason)
	entities := p.dict.ExtractEntities(f.Query + " " + f.ResponseText + " " + f.Reason)

	triplets := rulesForErrorType(errType, f, entities)

	if p.extractor != nil {
		extra := p.tryExtract(ctx, f)
		if len(extra) > maxLLMTriplets {
			extra = extra[:maxLLMTriplets]
		}
		for i := range extra {
			extra[i].Confidence *= llmConfidenceDiscount
		}
		triplets = append(triplets, extra...)
	}

	written := 0
	for _, t := range triplets {
		if err := p.insertTriplet(t, f); err != nil {
			log.Logger.Warn().Err(err).Msg("audit: failed to insert triplet")
			continue
		}
		written++
	}

	penalized := p.penalizeDocuments(f, entities)

	return Result{
		ErrorType:       errType,
		Entities:        entities,
		TripletsWritten: written,
		DocsPenalized:  penalized,
	}, nil
}

func (p *Pipeline) tryExtract(ctx context.Context, f Finding) []types.Triplet {
	triplets, err := p.breaker.Execute(func() ([]types.Triplet, error) {
		return p.extractor.Extract(ctx, f)
	})
	if err != nil {
		log.Logger.Warn().Err(err).Msg("audit: llm extraction skipped")
		return nil
	}
	return triplets
}

func (p *Pipeline) insertTriplet(t types.Triplet, f Finding) error {
	now := time.Now()
	if err := p.graph.UpsertNode(types.GraphNode{ID: t.SubjectID, Type: t.SubjectType}); err != nil {
		return err
	}
	if err := p.graph.UpsertNode(types.GraphNode{ID: t.ObjectID, Type: t.ObjectType}); err != nil {
		return err
	}
	return p.graph.UpsertEdge(types.GraphEdge{
		Source:           t.SubjectID,
		Target:           t.ObjectID,
		Type:             t.Predicate,
		CreatedAt:        now,
		IsErrorKnowledge: true,
		Properties: map[string]interface{}{
			"reason":     f.Reason,
			"confidence": t.Confidence,
		},
	})
}

// penalizeDocuments records negative feedback against either the
// finding's referenced documents, or synthetic identifiers derived
// from the extracted entities if nothing was referenced.
func (p *Pipeline) penalizeDocuments(f Finding, entities []patterns.EntityMatch) int {
	if p.feedback == nil {
		return 0
	}
	docIDs := f.ReferencedDocIDs
	if len(docIDs) == 0 {
		for _, e := range entities {
			docIDs = append(docIDs, string(e.Type)+":"+e.Value)
		}
	}

	penalized := 0
	for _, docID := range docIDs {
		err := p.feedback.Record(types.FeedbackRecord{
			Query:      f.Query,
			DocumentID: docID,
			Rating:     -1,
			UserID:     "system:audit",
			ResponseText: f.ResponseText,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			log.Logger.Warn().Err(err).Str("doc_id", docID).Msg("audit: failed to penalize document")
			continue
		}
		penalized++
	}
	return penalized
}

// rulesForErrorType generates the per-error-type triplets per
// spec.md §4.8. query_pattern and response_pattern nodes are synthetic
// ids derived from fingerprinting, reusing pkg/review's fingerprinter
// so the same query always maps to the same pattern node.
func rulesForErrorType(errType patterns.ErrorType, f Finding, entities []patterns.EntityMatch) []types.Triplet {
	jobs := entitiesOfType(entities, patterns.EntityJob)
	workstations := entitiesOfType(entities, patterns.EntityWorkstation)
	errorCodes := entitiesOfType(entities, patterns.EntityErrorCode)
	commands := entitiesOfType(entities, patterns.EntityCommand)

	queryPattern := "query_pattern:" + review.Fingerprint(f.Query)
	responsePattern := "response_pattern:" + review.Fingerprint(f.ResponseText)

	var triplets []types.Triplet

	switch errType {
	case patterns.ErrorWrongRecommendation:
		for _, ec := range errorCodes {
			for _, j := range jobs {
				triplets = append(triplets, triplet(j, patterns.EntityJob, types.EdgeIncorrectSolutionFor, ec, patterns.EntityErrorCode, f.Confidence))
			}
			for _, c := range commands {
				triplets = append(triplets, triplet(c, patterns.EntityCommand, types.EdgeShouldNotUseFor, ec, patterns.EntityErrorCode, f.Confidence))
			}
		}

	case patterns.ErrorTechnicalInaccuracy:
		for _, j := range jobs {
			for _, w := range workstations {
				triplets = append(triplets, triplet(j, patterns.EntityJob, types.EdgeIncorrectAssociation, w, patterns.EntityWorkstation, f.Confidence))
			}
		}

	case patterns.ErrorIrrelevantResponse:
		for _, e := range entities {
			triplets = append(triplets, types.Triplet{
				SubjectID: e.Value, SubjectType: patterns.NodeTypeFor(e.Type),
				Predicate: types.EdgeNotRelevantTo,
				ObjectID:  queryPattern, ObjectType: types.NodeQueryPattern,
				Confidence: f.Confidence,
			})
		}

	case patterns.ErrorContradictoryInfo:
		for i := 0; i < len(entities); i++ {
			for j := i + 1; j < len(entities); j++ {
				if entities[i].Type != entities[j].Type || entities[i].Value == entities[j].Value {
					continue
				}
				triplets = append(triplets, types.Triplet{
					SubjectID: entities[i].Value, SubjectType: patterns.NodeTypeFor(entities[i].Type),
					Predicate: types.EdgeConfusionWith,
					ObjectID:  entities[j].Value, ObjectType: patterns.NodeTypeFor(entities[j].Type),
					Confidence: f.Confidence,
				})
			}
		}

	case patterns.ErrorDeprecatedInfo:
		for _, e := range entities {
			triplets = append(triplets, types.Triplet{
				SubjectID: e.Value, SubjectType: patterns.NodeTypeFor(e.Type),
				Predicate: types.EdgeDeprecatedInfo,
				ObjectID:  queryPattern, ObjectType: types.NodeQueryPattern,
				Confidence: f.Confidence,
			})
		}

	case patterns.ErrorMisleadingContext:
		for _, e := range entities {
			triplets = append(triplets, types.Triplet{
				SubjectID: e.Value, SubjectType: patterns.NodeTypeFor(e.Type),
				Predicate: types.EdgeConfusionWith,
				ObjectID:  queryPattern, ObjectType: types.NodeQueryPattern,
				Confidence: f.Confidence,
			})
		}

	case patterns.ErrorHallucination:
		for _, e := range entities {
			triplets = append(triplets, types.Triplet{
				SubjectID: e.Value, SubjectType: patterns.NodeTypeFor(e.Type),
				Predicate: types.EdgeIncorrectAssociation,
				ObjectID:  responsePattern, ObjectType: types.NodeResponsePattern,
				Confidence: f.Confidence,
			})
		}

	default: // common_error and anything unclassified
		for _, e := range entities {
			triplets = append(triplets, types.Triplet{
				SubjectID: e.Value, SubjectType: patterns.NodeTypeFor(e.Type),
				Predicate: types.EdgeNotRelevantTo,
				ObjectID:  queryPattern, ObjectType: types.NodeQueryPattern,
				Confidence: f.Confidence,
			})
		}
	}

	return triplets
}

func triplet(subjectValue string, subjectType patterns.EntityType, predicate types.EdgeType, objectValue string, objectType patterns.EntityType, confidence float64) types.Triplet {
	return types.Triplet{
		SubjectID:   subjectValue,
		SubjectType: patterns.NodeTypeFor(subjectType),
		Predicate:   predicate,
		ObjectID:    objectValue,
		ObjectType:  patterns.NodeTypeFor(objectType),
		Confidence:  confidence,
	}
}

func entitiesOfType(entities []patterns.EntityMatch, t patterns.EntityType) []string {
	var out []string
	for _, e := range entities {
		if e.Type == t {
			out = append(out, e.Value)
		}
	}
	return out
}
