// Package knowledge implements the KnowledgeGraph, KGCacheManager, and
// KGSyncManager: a typed graph over persistent nodes and edges, a
// staleness manager for its in-memory working copy, and an incremental
// synchronizer from an external scheduler.
//
// Persistence follows the teacher's bucket-per-entity BoltDB store
// (cuemby-warren/pkg/storage/boltdb.go), generalized from one bucket
// per entity kind to two buckets — nodes and edges — with an
// in-process composite index built at refresh time standing in for
// the teacher's per-field `ForEach` scans. Library: go.etcd.io/bbolt.
package knowledge

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	coreerrors "github.com/cuemby/workloadcore/pkg/errors"
	"github.com/cuemby/workloadcore/pkg/log"
	"github.com/cuemby/workloadcore/pkg/types"
)

var (
	bucketNodes = []byte("kg_nodes")
	bucketEdges = []byte("kg_edges")
)

// edgeRecord is the persisted wire shape of a GraphEdge: nodes are
// keyed by id alone, but edges need a synthetic composite key since
// bbolt buckets are single-keyed maps.
type edgeRecord struct {
	types.GraphEdge
	Key string `json:"key"`
}

func edgeKey(e types.GraphEdge) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%d", e.Source, e.Target, e.Type, e.CreatedAt.UnixNano())
}

// Store is the bbolt-backed persistence layer for nodes and edges.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if necessary) a bbolt database under dataDir.
func OpenStore(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "knowledge.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "opening knowledge graph database", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketEdges} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "creating knowledge graph buckets", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) putNode(n types.GraphNode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put([]byte(n.ID), data)
	})
}

func (s *Store) deleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

func (s *Store) putEdge(e types.GraphEdge) (string, error) {
	key := edgeKey(e)
	rec := edgeRecord{GraphEdge: e, Key: key}
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEdges).Put([]byte(key), data)
	})
	return key, err
}

func (s *Store) deleteEdge(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEdges).Delete([]byte(key))
	})
}

// loadAll reads every persisted node and edge.
func (s *Store) loadAll() ([]types.GraphNode, []edgeRecord, error) {
	var nodes []types.GraphNode
	var edges []edgeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n types.GraphNode
			if err := json.Unmarshal(v, &n); err != nil {
				log.Logger.Warn().Str("node_id", string(k)).Err(err).Msg("knowledge: skipping malformed persisted node")
				return nil
			}
			nodes = append(nodes, n)
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketEdges).ForEach(func(k, v []byte) error {
			var e edgeRecord
			if err := json.Unmarshal(v, &e); err != nil {
				log.Logger.Warn().Str("edge_key", string(k)).Err(err).Msg("knowledge: skipping malformed persisted edge")
				return nil
			}
			edges = append(edges, e)
			return nil
		})
	})
	if err != nil {
		return nil, nil, coreerrors.Wrap(coreerrors.ErrIntegrityFailure, "loading knowledge graph state", err)
	}
	return nodes, edges, nil
}

// workingEdge is an in-memory edge annotated with its persisted key so
// RemoveEdge can find it again.
type workingEdge struct {
	types.GraphEdge
	key string
}

// Graph is the KnowledgeGraph: an in-memory working copy backed by a
// Store. Per spec.md §4.10's consistency model, writes go to the Store
// first and only then update the in-memory copy; a Refresh (driven by
// a KGCacheManager) rebuilds the in-memory copy from the Store,
// discarding any divergent in-memory state.
type Graph struct {
	store *Store

	mu    sync.RWMutex
	nodes map[string]types.GraphNode
	// outEdges/inEdges index edges by source/target for neighbor and
	// BFS traversal without a full scan.
	outEdges map[string][]workingEdge
	inEdges  map[string][]workingEdge
}

// NewGraph constructs a Graph over store and loads its initial working
// copy from persisted state.
func NewGraph(store *Store) (*Graph, error) {
	g := &Graph{store: store}
	if err := g.Refresh(); err != nil {
		return nil, err
	}
	return g, nil
}

// Refresh rebuilds the in-memory working copy from the Store.
func (g *Graph) Refresh() error {
	nodes, edges, err := g.store.loadAll()
	if err != nil {
		return err
	}

	nodeMap := make(map[string]types.GraphNode, len(nodes))
	for _, n := range nodes {
		nodeMap[n.ID] = n
	}
	out := make(map[string][]workingEdge)
	in := make(map[string][]workingEdge)
	for _, e := range edges {
		we := workingEdge{GraphEdge: e.GraphEdge, key: e.Key}
		out[e.Source] = append(out[e.Source], we)
		in[e.Target] = append(in[e.Target], we)
	}

	g.mu.Lock()
	g.nodes = nodeMap
	g.outEdges = out
	g.inEdges = in
	g.mu.Unlock()
	return nil
}

// AddNode upserts a node: if id already exists with a different type,
// the new type wins and a warning is logged; properties are merged,
// with the new call's keys taking precedence on conflict.
func (g *Graph) AddNode(id string, nodeType types.NodeType, properties map[string]interface{}) error {
	merged := map[string]interface{}{}

	g.mu.Lock()
	if existing, ok := g.nodes[id]; ok {
		if existing.Type != nodeType {
			log.Logger.Warn().Str("node_id", id).Str("old_type", string(existing.Type)).Str("new_type", string(nodeType)).
				Msg("knowledge: node id reused with a different type")
		}
		for k, v := range existing.Properties {
			merged[k] = v
		}
	}
	for k, v := range properties {
		merged[k] = v
	}
	g.mu.Unlock()

	node := types.GraphNode{ID: id, Type: nodeType, Properties: merged}
	if err := g.store.putNode(node); err != nil {
		return err
	}

	g.mu.Lock()
	g.nodes[id] = node
	g.mu.Unlock()
	return nil
}

// UpsertNode implements audit.GraphWriter's node-write surface.
func (g *Graph) UpsertNode(n types.GraphNode) error {
	return g.AddNode(n.ID, n.Type, n.Properties)
}

// AddEdge inserts an edge; missing endpoints are created as bare
// concept nodes.
func (g *Graph) AddEdge(source, target string, edgeType types.EdgeType, properties map[string]interface{}) error {
	g.mu.RLock()
	_, sourceOK := g.nodes[source]
	_, targetOK := g.nodes[target]
	g.mu.RUnlock()

	if !sourceOK {
		if err := g.AddNode(source, types.NodeConcept, nil); err != nil {
			return err
		}
	}
	if !targetOK {
		if err := g.AddNode(target, types.NodeConcept, nil); err != nil {
			return err
		}
	}

	edge := types.GraphEdge{
		Source:           source,
		Target:           target,
		Type:             edgeType,
		CreatedAt:        time.Now(),
		IsErrorKnowledge: edgeType.IsNegativeKnowledge(),
		Properties:       properties,
	}
	key, err := g.store.putEdge(edge)
	if err != nil {
		return err
	}

	we := workingEdge{GraphEdge: edge, key: key}
	g.mu.Lock()
	g.outEdges[source] = append(g.outEdges[source], we)
	g.inEdges[target] = append(g.inEdges[target], we)
	g.mu.Unlock()
	return nil
}

// UpsertEdge implements audit.GraphWriter's edge-write surface.
func (g *Graph) UpsertEdge(e types.GraphEdge) error {
	return g.AddEdge(e.Source, e.Target, e.Type, e.Properties)
}

// RemoveNode deletes a node from persistence and the working copy. Its
// incident edges are left for RemoveEdge to clean up explicitly,
// matching spec.md's "straightforward" framing rather than a cascading
// delete the spec does not ask for.
func (g *Graph) RemoveNode(id string) error {
	if err := g.store.deleteNode(id); err != nil {
		return err
	}
	g.mu.Lock()
	delete(g.nodes, id)
	g.mu.Unlock()
	return nil
}

// RemoveEdge deletes the first edge matching source/target/type.
func (g *Graph) RemoveEdge(source, target string, edgeType types.EdgeType) error {
	g.mu.Lock()
	var key string
	remaining := g.outEdges[source][:0]
	for _, e := range g.outEdges[source] {
		if key == "" && e.Target == target && e.Type == edgeType {
			key = e.key
			continue
		}
		remaining = append(remaining, e)
	}
	g.outEdges[source] = remaining

	inRemaining := g.inEdges[target][:0]
	for _, e := range g.inEdges[target] {
		if e.Source == source && e.Type == edgeType && e.key == key {
			continue
		}
		inRemaining = append(inRemaining, e)
	}
	g.inEdges[target] = inRemaining
	g.mu.Unlock()

	if key == "" {
		return coreerrors.Wrap(coreerrors.ErrNotFound, "edge not found", nil)
	}
	return g.store.deleteEdge(key)
}

const defaultMaxDepth = 10

// DependencyChain performs a breadth-first traversal over DEPENDS_ON
// edges starting at job, bounded by maxDepth, ignoring error-knowledge
// edges. Returns the ordered list of node ids visited (excluding job
// itself).
func (g *Graph) DependencyChain(job string, maxDepth int) []string {
	return g.bfs(job, maxDepth, g.outEdges, types.EdgeDependsOn)
}

// DownstreamJobs is DependencyChain's dual: it follows DEPENDS_ON edges
// in reverse (who depends on job).
func (g *Graph) DownstreamJobs(job string, maxDepth int) []string {
	return g.bfs(job, maxDepth, g.inEdges, types.EdgeDependsOn)
}

func (g *Graph) bfs(start string, maxDepth int, index map[string][]workingEdge, edgeType types.EdgeType) []string {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{start: true}
	var order []string
	frontier := []string{start}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for _, e := range index[node] {
				if e.Type != edgeType || e.IsErrorKnowledge {
					continue
				}
				neighbor := neighborOf(e, index, node)
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				order = append(order, neighbor)
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return order
}

// neighborOf returns the far endpoint of e relative to node, working
// whether index is outEdges (far end is Target) or inEdges (far end is
// Source).
func neighborOf(e workingEdge, index map[string][]workingEdge, node string) string {
	if e.Source == node {
		return e.Target
	}
	return e.Source
}

// GetJobsUsingResource returns job ids with a USES_RESOURCE edge to
// resource.
func (g *Graph) GetJobsUsingResource(resource string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for _, e := range g.inEdges[resource] {
		if e.Type == types.EdgeUsesResource && !e.IsErrorKnowledge {
			out = append(out, e.Source)
		}
	}
	return out
}

// scoredNode pairs a node id with a centrality score for ranking.
type scoredNode struct {
	id    string
	score int
}

// GetCriticalJobs returns job-type nodes ranked by degree centrality
// (total incident non-error edges), highest first.
func (g *Graph) GetCriticalJobs(topN int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var candidates []scoredNode
	for id, n := range g.nodes {
		if n.Type != types.NodeJob {
			continue
		}
		score := countLiveEdges(g.outEdges[id]) + countLiveEdges(g.inEdges[id])
		candidates = append(candidates, scoredNode{id: id, score: score})
	}
	sortScoredDesc(candidates)

	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

func countLiveEdges(edges []workingEdge) int {
	n := 0
	for _, e := range edges {
		if !e.IsErrorKnowledge {
			n++
		}
	}
	return n
}

func sortScoredDesc(s []scoredNode) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].score > s[j-1].score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// Statistics summarizes the graph's current contents.
type Statistics struct {
	NodeCount       int
	EdgeCount       int
	ErrorEdgeCount  int
	NodeCountByType map[types.NodeType]int
}

// GetStatistics computes aggregate counts over the working copy.
func (g *Graph) GetStatistics() Statistics {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Statistics{NodeCountByType: make(map[types.NodeType]int)}
	stats.NodeCount = len(g.nodes)
	for _, n := range g.nodes {
		stats.NodeCountByType[n.Type]++
	}
	for _, edges := range g.outEdges {
		for _, e := range edges {
			stats.EdgeCount++
			if e.IsErrorKnowledge {
				stats.ErrorEdgeCount++
			}
		}
	}
	return stats
}

// Neighbor is one edge-qualified neighbor of a node.
type Neighbor struct {
	NodeID string
	Edge   types.EdgeType
	IsErrorKnowledge bool
}

// Neighbors returns node's outgoing and incoming neighbors.
// includeErrors controls whether error-knowledge edges are included.
func (g *Graph) Neighbors(node string, includeErrors bool) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Neighbor
	for _, e := range g.outEdges[node] {
		if e.IsErrorKnowledge && !includeErrors {
			continue
		}
		out = append(out, Neighbor{NodeID: e.Target, Edge: e.Type, IsErrorKnowledge: e.IsErrorKnowledge})
	}
	for _, e := range g.inEdges[node] {
		if e.IsErrorKnowledge && !includeErrors {
			continue
		}
		out = append(out, Neighbor{NodeID: e.Source, Edge: e.Type, IsErrorKnowledge: e.IsErrorKnowledge})
	}
	return out
}

// ShortestPath returns the shortest sequence of node ids from a to b
// over non-error edges (either direction), or nil if unreachable.
func (g *Graph) ShortestPath(a, b string) []string {
	if a == b {
		return []string{a}
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	prev := map[string]string{a: ""}
	frontier := []string{a}
	for len(frontier) > 0 {
		var next []string
		for _, node := range frontier {
			for _, e := range append(append([]workingEdge{}, g.outEdges[node]...), g.inEdges[node]...) {
				if e.IsErrorKnowledge {
					continue
				}
				neighbor := neighborOf(e, nil, node)
				if _, seen := prev[neighbor]; seen {
					continue
				}
				prev[neighbor] = node
				if neighbor == b {
					return reconstructPath(prev, b)
				}
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return nil
}

func reconstructPath(prev map[string]string, end string) []string {
	var path []string
	for node := end; node != ""; node = prev[node] {
		path = append([]string{node}, path...)
		if prev[node] == "" {
			break
		}
	}
	return path
}
