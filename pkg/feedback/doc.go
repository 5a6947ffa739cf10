// Package feedback provides the FeedbackStore (an in-memory ledger of
// per-(query, document) ratings with decay-weighted aggregation) and
// the Retriever that wraps a base retrieval function with
// feedback-adjusted reranking.
package feedback
