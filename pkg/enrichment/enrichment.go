// Package enrichment implements the ContextEnricher: it rewrites a
// user query into a RAG-optimized query by appending context learned
// from entity statistics, knowledge-graph dependencies, and temporal
// cues, per spec.md §4.9.
//
// Entity extraction is shared with pkg/audit via pkg/patterns, so the
// same regex tables classify jobs/workstations/error codes/commands in
// both the post-hoc audit path and this pre-query enrichment path.
package enrichment

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/workloadcore/pkg/patterns"
)

// defaultCharBudget bounds how much context text is appended to a
// query before truncation, so enrichment never dominates the original
// question.
const defaultCharBudget = 400

// defaultMaxFanout bounds how many dependency/resource ids are listed
// per mentioned job.
const defaultMaxFanout = 5

// EntityStats is the learned statistics available for one entity.
type EntityStats struct {
	FailureRate        float64
	AvgDurationSeconds float64
	CommonErrors       []string
}

// StatsSource supplies learned statistics for an extracted entity. A
// false second return means no statistics are available and the
// entity contributes no fragment.
type StatsSource interface {
	StatsFor(entityType patterns.EntityType, value string) (EntityStats, bool)
}

// GraphContext is the subset of the knowledge graph the enricher
// queries for dependency and resource fragments. Satisfied directly by
// *knowledge.Graph.
type GraphContext interface {
	DependencyChain(job string, maxDepth int) []string
	GetJobsUsingResource(resource string) []string
}

// temporalWords trigger a temporal-context fragment when present in
// the query, case-insensitively.
var temporalWords = []string{"today", "yesterday", "morning", "overnight", "weekend"}

// Config configures an Enricher.
type Config struct {
	Dictionary *patterns.Dictionary
	Stats      StatsSource // optional
	Graph      GraphContext // optional
	CharBudget int          // 0 uses defaultCharBudget
	MaxFanout  int          // 0 uses defaultMaxFanout
}

// Stats reports the Enricher's cumulative activity.
type Stats struct {
	TotalQueries      int64
	EnrichedQueries   int64
	CountByEntityType map[patterns.EntityType]int64
}

// Enricher is the ContextEnricher.
type Enricher struct {
	dict       *patterns.Dictionary
	stats      StatsSource
	graph      GraphContext
	charBudget int
	maxFanout  int

	mu          sync.Mutex
	totalQueries   int64
	enrichedQueries int64
	countByType map[patterns.EntityType]int64
}

// New constructs an Enricher from cfg.
func New(cfg Config) *Enricher {
	charBudget := cfg.CharBudget
	if charBudget <= 0 {
		charBudget = defaultCharBudget
	}
	maxFanout := cfg.MaxFanout
	if maxFanout <= 0 {
		maxFanout = defaultMaxFanout
	}
	return &Enricher{
		dict:       cfg.Dictionary,
		stats:      cfg.Stats,
		graph:      cfg.Graph,
		charBudget: charBudget,
		maxFanout:  maxFanout,
		countByType: make(map[patterns.EntityType]int64),
	}
}

// Enrich rewrites query into a context-augmented query. If no
// fragments are produced, query is returned unchanged.
func (e *Enricher) Enrich(query string) string {
	e.mu.Lock()
	e.totalQueries++
	e.mu.Unlock()

	entities := e.dict.ExtractEntities(query)

	var fragments []string
	seenTypes := make(map[patterns.EntityType]bool)
	for _, ent := range entities {
		if frag, ok := e.statsFragment(ent); ok {
			fragments = append(fragments, frag)
			seenTypes[ent.Type] = true
		}
		if ent.Type == patterns.EntityJob {
			if frag, ok := e.dependencyFragment(ent.Value); ok {
				fragments = append(fragments, frag)
				seenTypes[ent.Type] = true
			}
		}
		if ent.Type == patterns.EntityResource {
			if frag, ok := e.resourceFragment(ent.Value); ok {
				fragments = append(fragments, frag)
				seenTypes[ent.Type] = true
			}
		}
	}

	if frag, ok := temporalFragment(query); ok {
		fragments = append(fragments, frag)
	}

	if len(fragments) == 0 {
		return query
	}

	e.mu.Lock()
	e.enrichedQueries++
	for t := range seenTypes {
		e.countByType[t]++
	}
	e.mu.Unlock()

	context := truncate(strings.Join(fragments, "; "), e.charBudget)
	return fmt.Sprintf("%s [context: %s]", query, context)
}

func (e *Enricher) statsFragment(ent patterns.EntityMatch) (string, bool) {
	if e.stats == nil {
		return "", false
	}
	stats, ok := e.stats.StatsFor(ent.Type, ent.Value)
	if !ok {
		return "", false
	}
	parts := []string{fmt.Sprintf("%s failure rate %.0f%%", ent.Value, stats.FailureRate*100)}
	if stats.AvgDurationSeconds > 0 {
		parts = append(parts, fmt.Sprintf("avg duration %.0fs", stats.AvgDurationSeconds))
	}
	if len(stats.CommonErrors) > 0 {
		parts = append(parts, "common errors "+strings.Join(stats.CommonErrors, ", "))
	}
	return strings.Join(parts, ", "), true
}

func (e *Enricher) dependencyFragment(job string) (string, bool) {
	if e.graph == nil {
		return "", false
	}
	deps := e.graph.DependencyChain(job, 1)
	if len(deps) == 0 {
		return "", false
	}
	sort.Strings(deps)
	if len(deps) > e.maxFanout {
		deps = deps[:e.maxFanout]
	}
	return fmt.Sprintf("%s depends on %s", job, strings.Join(deps, ", ")), true
}

func (e *Enricher) resourceFragment(resource string) (string, bool) {
	if e.graph == nil {
		return "", false
	}
	jobs := e.graph.GetJobsUsingResource(resource)
	if len(jobs) == 0 {
		return "", false
	}
	sort.Strings(jobs)
	if len(jobs) > e.maxFanout {
		jobs = jobs[:e.maxFanout]
	}
	return fmt.Sprintf("%s used by %s", resource, strings.Join(jobs, ", ")), true
}

func temporalFragment(query string) (string, bool) {
	lower := strings.ToLower(query)
	var hits []string
	for _, w := range temporalWords {
		if strings.Contains(lower, w) {
			hits = append(hits, w)
		}
	}
	if len(hits) == 0 {
		return "", false
	}
	return "temporal reference: " + strings.Join(hits, ", "), true
}

func truncate(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	return s[:budget]
}

// Stats returns a snapshot of cumulative enrichment activity.
func (e *Enricher) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	countByType := make(map[patterns.EntityType]int64, len(e.countByType))
	for k, v := range e.countByType {
		countByType[k] = v
	}
	return Stats{
		TotalQueries:      e.totalQueries,
		EnrichedQueries:   e.enrichedQueries,
		CountByEntityType: countByType,
	}
}
