package worker

import "log/slog"

type Option func(*Worker)

// WithName sets the name reported to the Observer and in logs.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithClock replaces the clock used to derive request identifiers.
func WithClock(clock Clock) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(w *Worker) {
		if observer != nil {
			w.observer = observer
		}
	}
}

// WithFailPendingOnKill makes Kill fail every waiting Run with ErrKilled.
// Without it, waiting calls finish only when the channel reports an error.
func WithFailPendingOnKill() Option {
	return func(w *Worker) {
		w.failPendingOnKill = true
	}
}
