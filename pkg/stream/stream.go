// Package stream implements worker.Channel over a pair of byte streams,
// typically the stdout and stdin pipes of a child process, framing each
// message as one line of JSON.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ib-77/procworker/pkg/event"
	"github.com/ib-77/procworker/pkg/worker"
)

const DefaultMaxMessageSize = 1 << 20

var (
	// ErrClosed is emitted as an error event when the inbound stream ends,
	// and returned from Send once that happened or after Kill.
	ErrClosed = errors.New("stream: channel closed")
)

// DecodeError is emitted for an inbound line that is not a JSON object.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("stream: decode %q: %v", truncate(e.Line, 64), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type Option func(*Channel)

// WithKill sets the function Kill uses to terminate the remote side,
// for example the Kill method of an os.Process.
func WithKill(kill func() error) Option {
	return func(c *Channel) {
		c.kill = kill
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxMessageSize bounds the length of one inbound line.
func WithMaxMessageSize(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// Channel reads messages from r and writes messages to w.
// Inbound events are delivered on a single reader goroutine in arrival order.
// Outbound messages are queued and written in order by a writer goroutine,
// so Send never blocks on a peer that stopped reading. A failed write is
// emitted as an error event and returned by every later Send.
type Channel struct {
	r       io.Reader
	w       io.Writer
	kill    func() error
	logger  *slog.Logger
	maxSize int

	messages *event.Hub[worker.Message]
	errors   *event.Hub[error]

	qmu      sync.Mutex
	queue    [][]byte
	writeErr error
	killed   bool
	wake     chan struct{}
	stop     chan struct{}

	killOnce sync.Once
	killErr  error
	done     chan struct{}
}

// New starts reading r immediately. Events arriving before any listener
// is registered are dropped.
func New(r io.Reader, w io.Writer, opts ...Option) *Channel {
	c := &Channel{
		r:        r,
		w:        w,
		logger:   slog.New(slog.DiscardHandler),
		maxSize:  DefaultMaxMessageSize,
		messages: event.NewHub[worker.Message](),
		errors:   event.NewHub[error](),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *Channel) Send(msg worker.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("stream: encode: %w", err)
	}
	data = append(data, '\n')

	c.qmu.Lock()
	switch {
	case c.killed:
		c.qmu.Unlock()
		return ErrClosed
	case c.writeErr != nil:
		err := c.writeErr
		c.qmu.Unlock()
		return err
	}
	select {
	case <-c.done:
		c.qmu.Unlock()
		return ErrClosed
	default:
	}
	c.queue = append(c.queue, data)
	c.qmu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Channel) OnMessage(fn func(worker.Message)) worker.Subscription {
	return c.messages.Subscribe(fn)
}

func (c *Channel) OnError(fn func(error)) worker.Subscription {
	return c.errors.Subscribe(fn)
}

// Kill terminates the remote side once and closes the outbound stream if
// it is closable. The inbound stream is expected to end as a consequence,
// which surfaces as an ErrClosed error event.
func (c *Channel) Kill() error {
	c.killOnce.Do(func() {
		c.qmu.Lock()
		c.killed = true
		c.queue = nil
		c.qmu.Unlock()
		close(c.stop)

		var errs []error
		if c.kill != nil {
			if err := c.kill(); err != nil {
				errs = append(errs, fmt.Errorf("stream: kill: %w", err))
			}
		}
		if closer, ok := c.w.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("stream: close: %w", err))
			}
		}
		c.killErr = errors.Join(errs...)
	})
	return c.killErr
}

// Done is closed once the inbound stream has ended.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) readLoop() {
	defer close(c.done)

	scanner := bufio.NewScanner(c.r)
	scanner.Buffer(make([]byte, 0, 64*1024), c.maxSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg worker.Message
		if err := json.Unmarshal(line, &msg); err != nil || msg == nil {
			if err == nil {
				err = errors.New("not a JSON object")
			}
			raw := make([]byte, len(line))
			copy(raw, line)
			c.logger.Warn("dropping malformed message", "error", err)
			c.errors.Emit(&DecodeError{Line: raw, Err: err})
			continue
		}
		c.messages.Emit(msg)
	}

	err := scanner.Err()
	if err == nil {
		err = ErrClosed
	} else {
		err = fmt.Errorf("stream: read: %w", err)
	}
	c.logger.Debug("inbound stream ended", "error", err)
	c.errors.Emit(err)
}

func (c *Channel) writeLoop() {
	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
		}

		c.qmu.Lock()
		batch := c.queue
		c.queue = nil
		c.qmu.Unlock()

		for _, data := range batch {
			if _, err := c.w.Write(data); err != nil {
				c.failWrite(err)
				return
			}
		}
	}
}

func (c *Channel) failWrite(err error) {
	err = fmt.Errorf("stream: write: %w", err)

	c.qmu.Lock()
	c.writeErr = err
	c.queue = nil
	killed := c.killed
	c.qmu.Unlock()

	if killed {
		return
	}
	c.logger.Warn("outbound stream failed", "error", err)
	c.errors.Emit(err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
