// Package health provides the Checker interface, its TCP and HTTP
// implementations, and the streak-tracking Status used to decide when
// a flaky probe should actually flip a component unhealthy. Consumers:
// ShardedTTLCache.HealthCheck (bounds, shard balance, cleanup-loop
// liveness, synthetic round-trip) runs its own checks directly;
// core.healthMonitor runs TCPChecker/HTTPChecker instances against the
// external-scheduler endpoints dialSchedulers connects to, on a
// separate schedule from the cache's own check.
package health
