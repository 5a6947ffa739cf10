// Package knowledge provides the system's persistent model of the
// scheduling domain: a typed graph of jobs, workstations, resources
// and the negative knowledge accumulated from audited mistakes
// (Graph), a TTL-driven staleness manager for its in-memory working
// copy (CacheManager), and an incremental synchronizer against an
// external scheduler (SyncManager).
package knowledge
