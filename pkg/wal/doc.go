/*
Package wal implements the write-ahead log: an append-only, checksummed,
segment-rotated record of every mutating cache operation, durable enough
to replay after a crash.

Segments are line-delimited JSON files named wal_<unix_nanos>.log under
a configured directory. Each record's checksum is a SHA-256 digest over
its own JSON encoding with the checksum field itself blanked out. Replay
walks segments in mtime order and skips any record that fails to parse
or whose checksum doesn't recompute, logging a warning for each.

All public operations serialize on a single mutex, grounded on the
observation that appends must be strictly ordered and fsync must never
race with rotation (see the concurrency model this package implements).
*/
package wal
