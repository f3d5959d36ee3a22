package dispatch

import (
	"context"

	"github.com/ib-77/procworker/pkg/rop"
)

// DefaultHandlers reports every job exactly once: jobs never started come
// back as cancels carrying ctx.Err(), finished ones are delivered as they
// are. Reporting unstarted jobs can be switched off with WithProcessOptions.
func DefaultHandlers() CancellationHandlers {
	return CancellationHandlers{
		OnCancel:            CancelRemaining,
		OnCancelUnprocessed: CancelUnprocessed,
		OnCancelProcessed:   DeliverProcessed,
	}
}

func CancelRemaining(ctx context.Context, inputCh <-chan Job, outCh chan<- rop.Result[Job]) {
	if !IsProcessRemainingEnabled(ctx, true) {
		return
	}
	for job := range inputCh {
		outCh <- rop.CancelWithResult(ctx.Err(), job)
	}
}

func CancelUnprocessed(ctx context.Context, job Job, outCh chan<- rop.Result[Job]) {
	if !IsProcessRemainingEnabled(ctx, true) {
		return
	}
	outCh <- rop.CancelWithResult(ctx.Err(), job)
}

func DeliverProcessed(_ context.Context, processed rop.Result[Job], outCh chan<- rop.Result[Job]) {
	outCh <- processed
}
