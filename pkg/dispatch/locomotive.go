package dispatch

import (
	"context"
	"sync"

	"github.com/ib-77/procworker/pkg/rop"
)

type CancellationHandlers struct {
	OnCancel            func(ctx context.Context, inputCh <-chan Job, outCh chan<- rop.Result[Job])
	OnCancelUnprocessed func(ctx context.Context, unprocessed Job, outCh chan<- rop.Result[Job])
	OnCancelProcessed   func(ctx context.Context, processed rop.Result[Job], outCh chan<- rop.Result[Job])
}

// Locomotive pulls jobs from inputCh, runs each through engine and pushes
// the result to outCh until inputCh closes or ctx ends.
func Locomotive(ctx context.Context, inputCh <-chan Job, outCh chan<- rop.Result[Job],
	engine func(ctx context.Context, job Job) rop.Result[Job],
	handlers CancellationHandlers,
	onSuccess func(ctx context.Context, res rop.Result[Job]), wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			if handlers.OnCancel != nil {
				handlers.OnCancel(ctx, inputCh, outCh)
			}
			return
		case job, ok := <-inputCh:
			if !ok {
				return
			}

			if ctx.Err() != nil {
				if handlers.OnCancelUnprocessed != nil {
					handlers.OnCancelUnprocessed(ctx, job, outCh)
				}
				if handlers.OnCancel != nil {
					handlers.OnCancel(ctx, inputCh, outCh)
				}
				return
			}

			res := engine(ctx, job)

			select {
			case outCh <- res:
				if onSuccess != nil && res.IsSuccess() {
					onSuccess(ctx, res)
				}
			case <-ctx.Done():
				if handlers.OnCancelProcessed != nil {
					handlers.OnCancelProcessed(ctx, res, outCh)
				}
				if handlers.OnCancel != nil {
					handlers.OnCancel(ctx, inputCh, outCh)
				}
				return
			}
		}
	}
}
