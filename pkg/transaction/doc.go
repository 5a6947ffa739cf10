// Package transaction implements begin/commit/rollback/expire tracking
// for the multi-key atomic sequences the cache layer composes on top of
// its per-shard locks. Terminal states (committed, rolled_back, expired)
// are sticky: once set, further transitions are no-ops.
package transaction
