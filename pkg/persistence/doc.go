// Package persistence exposes snapshot create/restore/list/cleanup,
// grounded on the teacher's raft.SnapshotSink-based FSM snapshot
// envelope (see package comment in persistence.go) but operating on
// plain files instead of a SnapshotSink, since no Raft consensus runs
// over this cache's shards.
package persistence
