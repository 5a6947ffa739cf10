/*
Package types defines the data structures shared across the core's
subsystems.

# Core Types

Cache:
  - CacheEntry: a value plus creation time, TTL, and access counters

Write-ahead log and persistence:
  - WALEntry: one durable, checksummed mutation record
  - Snapshot, SnapshotMetadata, SnapshotEntry: the periodic full-state dump

Transactions:
  - Transaction, RecordedOp: a bracketed op sequence with an inverse-op
    log for rollback

Feedback and review:
  - FeedbackRecord, DocumentScore: retrieval feedback and its derived
    reranking adjustment
  - ReviewItem, ReviewReason, ReviewStatus: the active-learning review
    queue's unit of work

Knowledge graph:
  - GraphNode, GraphEdge, NodeType, EdgeType: typed nodes and edges,
    including the negative-knowledge edge types identified by
    EdgeType.IsNegativeKnowledge
  - Triplet: the subject/predicate/object input to edge insertion
  - SyncChange, SyncChangeType: one delta observed during a sync pass
    against the external scheduler

# Thread Safety

Types in this package carry no synchronization themselves; callers
(pkg/cache, pkg/knowledge, ...) own locking around any shared instance.
*/
package types
