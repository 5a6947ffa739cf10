// Package review implements the ActiveLearningQueue: a decision
// function that flags low-confidence or novel query/response pairs for
// human review, a query-pattern fingerprinter that tracks novelty over
// time, and the review queue those decisions feed into.
package review
