package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Worker correlates requests and responses over a single Channel.
type Worker struct {
	id                string
	name              string
	ch                Channel
	clock             Clock
	logger            *slog.Logger
	observer          Observer
	failPendingOnKill bool

	mu      sync.Mutex
	pending map[string]*call
	killed  bool
	lastErr error
}

// New wraps ch. The caller keeps ownership of ch; the Worker only
// terminates it through Kill.
func New(ch Channel, opts ...Option) *Worker {
	w := &Worker{
		id:       uuid.NewString(),
		name:     "worker",
		ch:       ch,
		clock:    MonotonicClock,
		logger:   slog.New(slog.DiscardHandler),
		observer: nopObserver{},
		pending:  make(map[string]*call),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker", w.name, "worker_id", w.id)
	return w
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Name() string {
	return w.name
}

// Pending returns the number of Run calls waiting for an outcome.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// LastError returns the most recent error event seen on the channel.
func (w *Worker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Worker) Killed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

// Run sends payload with a fresh request identifier and waits for the
// inbound message carrying the same identifier, which is returned as
// received. An error event on the channel is returned unchanged. A failed
// send is returned as *RequestError. If ctx ends first, ctx.Err() is
// returned and the call's listeners are released.
func (w *Worker) Run(ctx context.Context, payload Message) (Message, error) {
	if w.ch == nil {
		return nil, ErrNilChannel
	}

	c, err := w.begin()
	if err != nil {
		return nil, err
	}
	w.observer.RequestStarted(w.name)

	out := payload.With(RequestIDField, c.id)

	c.attachMessage(w.ch.OnMessage(func(msg Message) {
		if id, ok := msg.RequestID(); !ok || id != c.id {
			return
		}
		w.settle(c, result{msg: msg, outcome: OutcomeSuccess})
	}))
	c.attachError(w.ch.OnError(func(err error) {
		w.recordFault(c, err)
		w.settle(c, result{err: err, outcome: OutcomeChannelError})
	}))

	if c.isSettled() {
		r := <-c.done
		return r.msg, r.err
	}

	// Send runs apart from the wait so a channel that blocks on write
	// cannot outlive ctx.
	w.logger.Debug("sending request", "request_id", c.id)
	sent := make(chan error, 1)
	go func() {
		sent <- w.ch.Send(out)
	}()

	for {
		select {
		case err := <-sent:
			sent = nil
			if err != nil {
				w.settle(c, result{
					err:     &RequestError{RequestID: c.id, Err: err},
					outcome: OutcomeRequestError,
				})
			}
		case r := <-c.done:
			return r.msg, r.err
		case <-ctx.Done():
			w.settle(c, result{err: ctx.Err(), outcome: OutcomeCanceled})
			r := <-c.done
			return r.msg, r.err
		}
	}
}

// Kill terminates the channel. Waiting calls are failed with ErrKilled only
// when the Worker was built WithFailPendingOnKill; otherwise they finish
// when the channel reports an error. Later Run calls fail with ErrKilled.
func (w *Worker) Kill() error {
	if w.ch == nil {
		return ErrNilChannel
	}

	w.mu.Lock()
	w.killed = true
	var abandoned []*call
	if w.failPendingOnKill {
		for _, c := range w.pending {
			abandoned = append(abandoned, c)
		}
	}
	inFlight := len(w.pending)
	w.mu.Unlock()

	err := w.ch.Kill()
	w.observer.Killed(w.name)
	if err != nil {
		w.logger.Warn("kill failed", "error", err, "pending", inFlight)
	} else {
		w.logger.Info("worker killed", "pending", inFlight)
	}

	for _, c := range abandoned {
		w.settle(c, result{err: ErrKilled, outcome: OutcomeKilled})
	}
	return err
}

func (w *Worker) begin() (*call, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.killed {
		return nil, ErrKilled
	}

	id := uniqueID(FormatRequestID(w.clock()), func(id string) bool {
		_, taken := w.pending[id]
		return taken
	})
	c := &call{
		id:      id,
		started: time.Now(),
		done:    make(chan result, 1),
	}
	w.pending[id] = c
	return c, nil
}

// settle completes c at most once: the message listener is released first,
// then the error listener, then the outcome is delivered.
func (w *Worker) settle(c *call, r result) {
	msgSub, errSub, ok := c.settle()
	if !ok {
		return
	}
	if msgSub != nil {
		msgSub.Unsubscribe()
	}
	if errSub != nil {
		errSub.Unsubscribe()
	}

	w.mu.Lock()
	delete(w.pending, c.id)
	w.mu.Unlock()

	elapsed := time.Since(c.started)
	w.observer.RequestFinished(w.name, r.outcome, elapsed)
	if r.err != nil {
		w.logger.Debug("request failed", "request_id", c.id, "outcome", r.outcome.String(), "error", r.err)
	} else {
		w.logger.Debug("request settled", "request_id", c.id, "elapsed", elapsed)
	}

	c.done <- r
}

func (w *Worker) recordFault(c *call, err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()

	w.logger.Warn("channel error", "request_id", c.id, "error", err)
}

type result struct {
	msg     Message
	err     error
	outcome Outcome
}

type call struct {
	id      string
	started time.Time
	done    chan result

	mu      sync.Mutex
	settled bool
	msgSub  Subscription
	errSub  Subscription
}

// attachMessage stores the message subscription, releasing it at once if
// the call already settled while it was being registered.
func (c *call) attachMessage(sub Subscription) {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	c.msgSub = sub
	c.mu.Unlock()
}

func (c *call) attachError(sub Subscription) {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	c.errSub = sub
	c.mu.Unlock()
}

func (c *call) settle() (msgSub, errSub Subscription, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.settled {
		return nil, nil, false
	}
	c.settled = true
	return c.msgSub, c.errSub, true
}

func (c *call) isSettled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}
