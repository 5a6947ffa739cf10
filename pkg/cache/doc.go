// Package cache implements the ShardedTTLCache: the concurrent,
// TTL'd, write-ahead-logged key-value store at the center of the
// core. It composes pkg/wal for durability, pkg/memory for admission
// bounds and eviction, and pkg/persistence for point-in-time snapshots,
// none of which this package depends on circularly. It does not use
// pkg/transaction: Rollback undoes operations the caller recorded and
// passes in.
//
// Shard selection is deterministic (xxhash, falling back to a
// position-weighted character sum if hashing panics) so a given key
// always maps to the same shard for the lifetime of a Cache. Each
// shard is independently locked; cross-shard operations (Rollback)
// acquire shard locks in ascending shard-index order to avoid
// deadlock.
package cache
