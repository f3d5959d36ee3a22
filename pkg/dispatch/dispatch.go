package dispatch

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ib-77/procworker/pkg/rop"
	"github.com/ib-77/procworker/pkg/worker"
)

const DefaultCallers = 4

// Runner is satisfied by *worker.Worker.
type Runner interface {
	Run(ctx context.Context, payload worker.Message) (worker.Message, error)
}

// Job is one payload travelling through a dispatch. Reply is set once the
// runner answered.
type Job struct {
	Index   int
	Payload worker.Message
	Reply   worker.Message
}

// Jobs numbers payloads in order.
func Jobs(payloads []worker.Message) []Job {
	jobs := make([]Job, len(payloads))
	for i, p := range payloads {
		jobs[i] = Job{Index: i, Payload: p}
	}
	return jobs
}

// IsCancel classifies context cancellation and a killed worker as cancels.
func IsCancel(err error) bool {
	return rop.IsCancellationError(err, worker.ErrKilled)
}

// Call builds the engine running one job on r, waiting on limiter first
// when it is not nil.
func Call(r Runner, limiter *rate.Limiter) func(ctx context.Context, job Job) rop.Result[Job] {
	return func(ctx context.Context, job Job) rop.Result[Job] {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return rop.CancelWithResult(err, job)
			}
		}

		reply, err := r.Run(ctx, job.Payload)
		job.Reply = reply
		return rop.From(job, err, IsCancel)
	}
}

// Run feeds inputCh through r with the caller count and rate limit found in
// ctx. The returned channel is closed once every caller stopped; it must be
// drained.
func Run(ctx context.Context, r Runner, inputCh <-chan Job,
	handlers CancellationHandlers, onSuccess func(ctx context.Context, res rop.Result[Job])) <-chan rop.Result[Job] {

	out := make(chan rop.Result[Job])
	wg := &sync.WaitGroup{}
	engine := Call(r, GetLimiter(ctx))

	for range GetWorkerMaxCount(ctx, DefaultCallers) {
		wg.Add(1)
		go Locomotive(ctx, inputCh, out, engine, handlers, onSuccess, wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// RunAll dispatches payloads and returns one result per payload, ordered by
// index. Payloads never handed to a caller because ctx ended are reported as
// cancels.
func RunAll(ctx context.Context, r Runner, payloads []worker.Message) []rop.Result[Job] {
	jobs := Jobs(payloads)
	out := Run(ctx, r, ToChanMany(ctx, jobs), DefaultHandlers(), nil)

	results := FromChanMany(context.Background(), out)

	seen := make(map[int]bool, len(results))
	for _, res := range results {
		seen[res.Result().Index] = true
	}
	for _, job := range jobs {
		if !seen[job.Index] {
			results = append(results, rop.CancelWithResult(ctx.Err(), job))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Result().Index < results[j].Result().Index
	})
	return results
}

// Failures returns the error of every result that did not succeed, in
// result order.
func Failures(results []rop.Result[Job]) []error {
	return rop.GetErrors(rop.JoinFailures(results))
}
