// Package core wires every subsystem into a single System: the cache,
// transaction manager, feedback store and retriever, review queue,
// audit pipeline, knowledge graph, and its cache/sync managers.
//
// Grounded on cuemby-warren/pkg/manager/manager.go's Manager, which
// constructs storage, FSM, raft, and its peripheral services (DNS,
// ingress, event broker) in dependency order inside NewManager and
// tears them down in reverse inside Shutdown. System follows the same
// shape for this core's component graph, per spec.md's "Singletons"
// lifecycle: WAL/Memory/Persistence (owned internally by Cache) ->
// Cache -> FeedbackStore -> Retriever -> ReviewQueue -> KnowledgeGraph
// -> AuditPipeline -> KGCacheManager -> KGSyncManager. AuditPipeline is
// wired immediately after KnowledgeGraph rather than before it, since
// it holds a GraphWriter reference the graph must already exist to
// provide; this does not change the set or the shutdown order, only
// the two components' relative construction position.
package core

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/workloadcore/pkg/audit"
	"github.com/cuemby/workloadcore/pkg/cache"
	"github.com/cuemby/workloadcore/pkg/enrichment"
	"github.com/cuemby/workloadcore/pkg/events"
	"github.com/cuemby/workloadcore/pkg/feedback"
	"github.com/cuemby/workloadcore/pkg/health"
	"github.com/cuemby/workloadcore/pkg/knowledge"
	"github.com/cuemby/workloadcore/pkg/log"
	"github.com/cuemby/workloadcore/pkg/metrics"
	"github.com/cuemby/workloadcore/pkg/patterns"
	"github.com/cuemby/workloadcore/pkg/review"
	"github.com/cuemby/workloadcore/pkg/transaction"
	"github.com/cuemby/workloadcore/pkg/types"
)

// Config configures a System. DataDir is the parent of every
// subsystem's on-disk state (WAL segments, snapshots, the knowledge
// graph's bbolt file); it is created by the components that need it.
type Config struct {
	DataDir string

	Cache       cache.Config
	Transaction transaction.Config
	Retriever   feedback.RetrieverConfig

	// BaseRetriever is the underlying document retriever FeedbackStore
	// reranks. Nil skips constructing a Retriever: System has no
	// opinion on what backs retrieval (a vector store, a search
	// index), only on how feedback adjusts it.
	BaseRetriever feedback.BaseRetriever

	// PatternDictionaryPath, if set, overrides patterns.Default() with
	// a YAML dictionary loaded from this path.
	PatternDictionaryPath string

	// Extractor optionally augments AuditPipeline's triplet extraction
	// with an LLM call. Nil disables the LLM-assisted step entirely.
	Extractor audit.Extractor

	// Probers are the external entity sources KGSyncManager polls.
	// Typically *syncapi.Client values, one per entity kind.
	Probers []knowledge.EntityProber

	KGCacheTTL     time.Duration
	KGSyncInterval time.Duration

	// HealthCheckers are named external-dependency probes (typically
	// *syncapi.Client endpoints) polled on HealthCheck's interval. A nil
	// or empty map disables the health monitor loop entirely.
	HealthCheckers map[string]health.Checker
	HealthCheck    health.Config

	// EnrichmentStats optionally supplies learned per-entity
	// statistics to the ContextEnricher. Nil means query enrichment
	// never adds a statistics fragment.
	EnrichmentStats enrichment.StatsSource
	EnrichmentCharBudget int
	EnrichmentMaxFanout  int

	MetricsVersion string
}

func (c Config) withDefaults() Config {
	if c.KGCacheTTL <= 0 {
		c.KGCacheTTL = 5 * time.Minute
	}
	if c.KGSyncInterval <= 0 {
		c.KGSyncInterval = time.Minute
	}
	if c.HealthCheck.Interval <= 0 {
		c.HealthCheck.Interval = 30 * time.Second
	}
	if c.HealthCheck.Retries <= 0 {
		c.HealthCheck.Retries = 3
	}
	return c
}

// System owns every long-lived component and their background loops.
// It is built once by NewSystem, started with Start, and torn down
// with Shutdown. Its components are usable once NewSystem returns;
// Start only launches the background loops.
type System struct {
	cfg Config

	Cache       *cache.Cache
	Transaction *transaction.Manager
	Feedback    *feedback.Store
	Retriever   *feedback.Retriever
	Review      *review.Queue
	Dictionary  *patterns.Dictionary
	kgStore     *knowledge.Store
	Graph       *knowledge.Graph
	Audit       *audit.Pipeline
	KGCache     *knowledge.CacheManager
	KGSync      *knowledge.SyncManager
	Enricher    *enrichment.Enricher

	events    *events.Broker
	collector *metrics.Collector
	health    *healthMonitor

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewSystem constructs every component and loads the knowledge graph's
// persisted state, but starts no background loop; call Start for that.
func NewSystem(cfg Config) (*System, error) {
	cfg = cfg.withDefaults()

	c, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("core: constructing cache: %w", err)
	}

	txnMgr := transaction.New(cfg.Transaction)
	feedbackStore := feedback.NewStore()

	var retriever *feedback.Retriever
	if cfg.BaseRetriever != nil {
		retriever = feedback.NewRetriever(cfg.BaseRetriever, feedbackStore, cfg.Retriever)
	}

	reviewQueue := review.NewQueue()

	dict, err := resolveDictionary(cfg.PatternDictionaryPath)
	if err != nil {
		return nil, err
	}

	kgStore, err := knowledge.OpenStore(filepath.Join(cfg.DataDir, "knowledge"))
	if err != nil {
		return nil, fmt.Errorf("core: opening knowledge graph store: %w", err)
	}
	graph, err := knowledge.NewGraph(kgStore)
	if err != nil {
		_ = kgStore.Close()
		return nil, fmt.Errorf("core: loading knowledge graph: %w", err)
	}

	auditPipeline := audit.New(audit.Config{
		Dictionary: dict,
		Graph:      graph,
		Feedback:   feedbackStore,
		Extractor:  cfg.Extractor,
	})

	kgCache := knowledge.NewCacheManager(graph, cfg.KGCacheTTL)
	kgSync := knowledge.NewSyncManager(graph, cfg.Probers, cfg.KGSyncInterval)

	broker := events.NewBroker()
	kgCache.RegisterRefreshCallback(func() error {
		broker.Publish(&events.Event{Type: events.EventKGRefreshed, Message: "knowledge graph working copy refreshed"})
		return nil
	})
	kgSync.RegisterCallback(func(changes []types.SyncChange) error {
		broker.Publish(&events.Event{
			Type:    events.EventKGSyncCompleted,
			Message: fmt.Sprintf("%d external-scheduler change(s) applied", len(changes)),
		})
		return nil
	})

	enricher := enrichment.New(enrichment.Config{
		Dictionary: dict,
		Stats:      cfg.EnrichmentStats,
		Graph:      graph,
		CharBudget: cfg.EnrichmentCharBudget,
		MaxFanout:  cfg.EnrichmentMaxFanout,
	})

	if cfg.MetricsVersion != "" {
		metrics.SetVersion(cfg.MetricsVersion)
	}

	s := &System{
		cfg:         cfg,
		Cache:       c,
		Transaction: txnMgr,
		Feedback:    feedbackStore,
		Retriever:   retriever,
		Review:      reviewQueue,
		Dictionary:  dict,
		kgStore:     kgStore,
		Graph:       graph,
		Audit:       auditPipeline,
		KGCache:     kgCache,
		KGSync:      kgSync,
		Enricher:    enricher,
		events:      broker,
		health:      newHealthMonitor(cfg.HealthCheckers, cfg.HealthCheck),
	}
	s.collector = metrics.NewCollector(s)
	return s, nil
}

// HealthStatuses returns the last-known Status of every configured
// health checker, keyed by name. Empty if no HealthCheckers were
// configured.
func (s *System) HealthStatuses() map[string]health.Status {
	return s.health.Statuses()
}

func resolveDictionary(path string) (*patterns.Dictionary, error) {
	if path == "" {
		return patterns.Default(), nil
	}
	dict, err := patterns.Load(path)
	if err != nil {
		return nil, fmt.Errorf("core: loading pattern dictionary: %w", err)
	}
	return dict, nil
}

// Start launches every background loop: the cache's cleanup/warming
// loops, the knowledge graph's periodic refresh, its incremental sync
// loop, the metrics collector, the event broker, and the external
// health-checker monitor. Calling Start twice is a no-op.
func (s *System) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.events.Start()
	s.Cache.Start(ctx)
	s.KGCache.StartBackgroundRefresh()
	s.KGSync.Start(ctx)
	s.collector.Start()
	s.health.start(ctx)

	metrics.RegisterComponent("wal", true, "")
	metrics.RegisterComponent("cache", true, "")
	metrics.RegisterComponent("knowledge_graph", true, "")
	for name := range s.cfg.HealthCheckers {
		metrics.RegisterComponent(name, true, "awaiting first check")
	}

	log.WithComponent("core").Info().Msg("system started")
}

// Shutdown stops every background loop in reverse start order, then
// flushes the WAL and closes the knowledge graph's store. It is safe
// to call even if Start was never called.
func (s *System) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.health.stop()
		s.collector.Stop()
		s.KGSync.Stop()
		s.KGCache.StopBackgroundRefresh()
		s.events.Stop()
		s.started = false
	}

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.Cache.Close(); err != nil {
		return fmt.Errorf("core: closing cache: %w", err)
	}
	if err := s.kgStore.Close(); err != nil {
		return fmt.Errorf("core: closing knowledge graph store: %w", err)
	}

	log.WithComponent("core").Info().Msg("system shut down")
	return nil
}

// Events returns the event broker every component publishes state
// changes to.
func (s *System) Events() *events.Broker { return s.events }

// ProcessAuditFinding runs f through the audit pipeline and, on
// success, publishes EventAuditEdgeInserted so subscribers (e.g. a
// dashboard, or the review queue's own operators) learn about new
// negative knowledge without polling the graph.
func (s *System) ProcessAuditFinding(ctx context.Context, f audit.Finding) (audit.Result, error) {
	result, err := s.Audit.Process(ctx, f)
	if err != nil {
		return result, err
	}
	if result.TripletsWritten > 0 {
		s.events.Publish(&events.Event{
			Type:    events.EventAuditEdgeInserted,
			Message: fmt.Sprintf("%d error-knowledge edge(s) written", result.TripletsWritten),
		})
	}
	return result, nil
}

// EnqueueForReview enqueues a flagged query/response pair and
// publishes EventReviewEnqueued.
func (s *System) EnqueueForReview(query, proposedResponse string, reasons []types.ReviewReason, confidences map[string]float64) string {
	id := s.Review.Enqueue(query, proposedResponse, reasons, confidences)
	s.events.Publish(&events.Event{ID: id, Type: events.EventReviewEnqueued, Message: query})
	return id
}

// CacheShardSizes implements metrics.Gauges.
func (s *System) CacheShardSizes() []int { return s.Cache.CacheShardSizes() }

// TransactionsActive implements metrics.Gauges.
func (s *System) TransactionsActive() int { return s.Transaction.ActiveCount() }

// ReviewPendingCount implements metrics.Gauges.
func (s *System) ReviewPendingCount() int { return s.Review.Stats().Pending }
