// Package syncapi provides the gRPC transport KGSyncManager polls for
// external-scheduler deltas. See Client.Probe and Handler.
package syncapi
