package dispatch

import (
	"context"

	"golang.org/x/time/rate"
)

type OptionKey string

const (
	ProcessOptionKey OptionKey = "process_options"
	WorkerOptionKey  OptionKey = "worker_options"
	RateOptionKey    OptionKey = "rate_options"
)

type MaxLimitOption struct {
	Value int
}

type WorkerOptions struct {
	MaxCount MaxLimitOption
}

type ProcessOptions struct {
	ProcessRemaining bool
}

type RateOptions struct {
	Limiter *rate.Limiter
}

func WithProcessOptions(ctx context.Context, processRemaining bool) context.Context {
	return context.WithValue(ctx, ProcessOptionKey, ProcessOptions{ProcessRemaining: processRemaining})
}

// WithWorkerOptions sets how many Run calls may be in flight at once.
func WithWorkerOptions(ctx context.Context, maxCallers int) context.Context {
	return context.WithValue(ctx, WorkerOptionKey, WorkerOptions{MaxLimitOption{Value: maxCallers}})
}

// WithRateLimit caps submissions at rps with the given burst. The limiter
// is shared by every dispatch using the returned context. Non-positive
// arguments disable limiting.
func WithRateLimit(ctx context.Context, rps float64, burst int) context.Context {
	if rps <= 0 || burst <= 0 {
		return context.WithValue(ctx, RateOptionKey, RateOptions{})
	}
	return context.WithValue(ctx, RateOptionKey, RateOptions{Limiter: rate.NewLimiter(rate.Limit(rps), burst)})
}

func GetWorkerMaxCount(ctx context.Context, defaultMaxCallers int) int {
	options, ok := ctx.Value(WorkerOptionKey).(WorkerOptions)
	if ok && options.MaxCount.Value > 0 {
		return options.MaxCount.Value
	}
	return defaultMaxCallers
}

func IsProcessRemainingEnabled(ctx context.Context, defaultProcessRemaining bool) bool {
	options, ok := ctx.Value(ProcessOptionKey).(ProcessOptions)
	if ok {
		return options.ProcessRemaining
	}
	return defaultProcessRemaining
}

// GetLimiter returns nil when no rate limit is configured.
func GetLimiter(ctx context.Context) *rate.Limiter {
	options, ok := ctx.Value(RateOptionKey).(RateOptions)
	if ok {
		return options.Limiter
	}
	return nil
}
