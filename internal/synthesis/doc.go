// Package synthesis runs the verdict pipeline for argument pairs.
//
// # Pipeline
//
// RunSynthesis takes a pair token and:
//
//  1. returns the stored result when a completed one exists (no worker runs)
//  2. resolves the support/oppose pair
//  3. loads the session's evidence
//  4. runs the quality and contradiction stages concurrently
//  5. runs the synthesis stage on their combined output
//  6. runs the explanation stage on the synthesis output
//  7. persists the result under the pair token
//  8. marks both responses synthesized and publishes a completion event
//
// Stage failures never surface: each stage falls back to fixed content and
// the result is still completed. Only resolution failures
// (resolver.PairNotFoundError) and write failures (PersistenceError) are
// returned as errors.
//
// # Concurrency
//
// Calls for the same token in one process share a single pipeline run.
// Across processes the store's uniqueness constraint decides the winner and
// the loser returns the winner's stored result.
//
// Caller cancellation does not stop a run once started; stage timeouts are
// the only cancellation mechanism.
//
// # Sweeping
//
// Sweeper periodically finds pending pairs and synthesizes them at a
// bounded rate.
package synthesis
