// Package dispatch drives a stream of payloads through a worker with a
// bounded number of concurrent callers. Each payload becomes a Job and each
// Job comes back as a rop.Result: success with the reply, failure with the
// error, or cancel when the context ended or the worker was killed.
//
// Caller count, rate limit and whether unprocessed jobs are reported on
// cancellation are read from the context (see WithWorkerOptions,
// WithRateLimit, WithProcessOptions).
package dispatch
