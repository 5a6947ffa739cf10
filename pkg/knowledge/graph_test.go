package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/workloadcore/pkg/types"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	g, err := NewGraph(store)
	require.NoError(t, err)
	return g
}

func TestAddNodeMergesPropertiesOnReinsertion(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.AddNode("BATCH_A", types.NodeJob, map[string]interface{}{"owner": "ops"}))
	require.NoError(t, g.AddNode("BATCH_A", types.NodeJob, map[string]interface{}{"priority": "high"}))

	g.mu.RLock()
	node := g.nodes["BATCH_A"]
	g.mu.RUnlock()

	assert.Equal(t, "ops", node.Properties["owner"])
	assert.Equal(t, "high", node.Properties["priority"])
}

func TestAddEdgeCreatesMissingEndpoints(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.AddEdge("BATCH_A", "WKS01", types.EdgeRunsOn, nil))

	g.mu.RLock()
	_, sourceOK := g.nodes["BATCH_A"]
	_, targetOK := g.nodes["WKS01"]
	g.mu.RUnlock()
	assert.True(t, sourceOK)
	assert.True(t, targetOK)

	neighbors := g.Neighbors("BATCH_A", false)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "WKS01", neighbors[0].NodeID)
}

func TestUpsertEdgeMarksNegativeKnowledgeAutomatically(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.UpsertEdge(types.GraphEdge{
		Source: "BATCH_A", Target: "AWSBIS529", Type: types.EdgeIncorrectSolutionFor,
	}))

	g.mu.RLock()
	edges := g.outEdges["BATCH_A"]
	g.mu.RUnlock()
	require.Len(t, edges, 1)
	assert.True(t, edges[0].IsErrorKnowledge)
}

func TestDependencyChainAndDownstreamJobsAreDuals(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddEdge("JOB_C", "JOB_B", types.EdgeDependsOn, nil))
	require.NoError(t, g.AddEdge("JOB_B", "JOB_A", types.EdgeDependsOn, nil))

	chain := g.DependencyChain("JOB_C", 0)
	assert.ElementsMatch(t, []string{"JOB_B", "JOB_A"}, chain)

	downstream := g.DownstreamJobs("JOB_A", 0)
	assert.ElementsMatch(t, []string{"JOB_B", "JOB_C"}, downstream)
}

func TestDependencyChainIgnoresErrorKnowledgeEdges(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddEdge("JOB_B", "JOB_A", types.EdgeDependsOn, nil))
	require.NoError(t, g.UpsertEdge(types.GraphEdge{Source: "JOB_B", Target: "JOB_A", Type: types.EdgeConfusionWith}))

	chain := g.DependencyChain("JOB_B", 0)
	assert.Equal(t, []string{"JOB_A"}, chain)
}

func TestGetJobsUsingResource(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddEdge("JOB_A", "RESDB01", types.EdgeUsesResource, nil))
	require.NoError(t, g.AddEdge("JOB_B", "RESDB01", types.EdgeUsesResource, nil))

	jobs := g.GetJobsUsingResource("RESDB01")
	assert.ElementsMatch(t, []string{"JOB_A", "JOB_B"}, jobs)
}

func TestGetCriticalJobsRanksByDegree(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddNode("JOB_LONELY", types.NodeJob, nil))
	require.NoError(t, g.AddNode("JOB_HUB", types.NodeJob, nil))
	require.NoError(t, g.AddEdge("JOB_HUB", "WKS01", types.EdgeRunsOn, nil))
	require.NoError(t, g.AddEdge("JOB_HUB", "RES01", types.EdgeUsesResource, nil))
	require.NoError(t, g.AddEdge("JOB_HUB", "JOB_LONELY", types.EdgeDependsOn, nil))

	top := g.GetCriticalJobs(1)
	require.Len(t, top, 1)
	assert.Equal(t, "JOB_HUB", top[0])
}

func TestRemoveEdgeDeletesOnlyTheMatchingEdge(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddEdge("JOB_A", "JOB_B", types.EdgeDependsOn, nil))
	require.NoError(t, g.AddEdge("JOB_A", "JOB_C", types.EdgeDependsOn, nil))

	require.NoError(t, g.RemoveEdge("JOB_A", "JOB_B", types.EdgeDependsOn))

	chain := g.DependencyChain("JOB_A", 0)
	assert.Equal(t, []string{"JOB_C"}, chain)
}

func TestRemoveEdgeOnMissingEdgeReturnsNotFound(t *testing.T) {
	g := newTestGraph(t)
	err := g.RemoveEdge("JOB_A", "JOB_B", types.EdgeDependsOn)
	assert.Error(t, err)
}

func TestShortestPathFindsDirectAndIndirectRoutes(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddEdge("JOB_A", "JOB_B", types.EdgeDependsOn, nil))
	require.NoError(t, g.AddEdge("JOB_B", "JOB_C", types.EdgeDependsOn, nil))

	path := g.ShortestPath("JOB_A", "JOB_C")
	assert.Equal(t, []string{"JOB_A", "JOB_B", "JOB_C"}, path)

	assert.Nil(t, g.ShortestPath("JOB_A", "JOB_UNKNOWN"))
}

func TestGetStatisticsCountsNodesAndEdges(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddEdge("JOB_A", "JOB_B", types.EdgeDependsOn, nil))
	require.NoError(t, g.UpsertEdge(types.GraphEdge{Source: "JOB_A", Target: "AWSBIS529", Type: types.EdgeIncorrectSolutionFor}))

	stats := g.GetStatistics()
	assert.Equal(t, 3, stats.NodeCount)
	assert.Equal(t, 2, stats.EdgeCount)
	assert.Equal(t, 1, stats.ErrorEdgeCount)
}

func TestRefreshRebuildsWorkingCopyFromPersistedState(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	g, err := NewGraph(store)
	require.NoError(t, err)
	require.NoError(t, g.AddEdge("JOB_A", "JOB_B", types.EdgeDependsOn, nil))

	g2, err := NewGraph(store)
	require.NoError(t, err)
	assert.Equal(t, []string{"JOB_B"}, g2.DependencyChain("JOB_A", 0))
}

func TestNeighborsExcludesErrorEdgesUnlessIncluded(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddEdge("JOB_A", "JOB_B", types.EdgeDependsOn, nil))
	require.NoError(t, g.UpsertEdge(types.GraphEdge{Source: "JOB_A", Target: "AWSBIS529", Type: types.EdgeIncorrectSolutionFor}))

	withoutErrors := g.Neighbors("JOB_A", false)
	assert.Len(t, withoutErrors, 1)

	withErrors := g.Neighbors("JOB_A", true)
	assert.Len(t, withErrors, 2)
}
