// Package events implements a lightweight, buffered pub/sub broker used to
// broadcast core subsystem occurrences (review queueing, audit edge
// insertion, KG refresh/sync) to interested external subscribers without
// creating a dependency from the core onto them. The cache eviction and
// expiry, transaction expiry, review submission and WAL rotation event
// types are defined, but nothing publishes them.
package events
