// Package log provides the structured logger shared by every component of
// the core: a package-level zerolog.Logger, initialized once via Init,
// with component/shard/query/transaction/node child-logger helpers.
package log
