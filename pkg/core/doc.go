// Package core wires the cache, transaction manager, feedback store,
// review queue, audit pipeline, and knowledge graph into a single
// System with a dependency-ordered Start/Shutdown. See System.
package core
