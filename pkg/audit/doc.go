// Package audit implements the AuditToKGPipeline, turning auditor
// findings into negative knowledge-graph edges and feedback-store
// penalties. See Pipeline.Process.
package audit
