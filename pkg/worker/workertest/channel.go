// Package workertest provides an in-memory worker.Channel that records
// every interaction, for tests of code built on worker.Worker.
package workertest

import (
	"sync"

	"github.com/ib-77/procworker/pkg/event"
	"github.com/ib-77/procworker/pkg/worker"
)

// Recorded interactions, in the order they reach the channel.
const (
	CallOnMessage          = "on:message"
	CallOnError            = "on:error"
	CallSend               = "send"
	CallUnsubscribeMessage = "unsubscribe:message"
	CallUnsubscribeError   = "unsubscribe:error"
	CallKill               = "kill"
)

// Channel is a scriptable worker.Channel.
// Set the exported fields before handing the channel to a Worker.
type Channel struct {
	// OnSend runs after a message has been recorded, on the sending
	// goroutine. Use it to reply or fail.
	OnSend func(ch *Channel, msg worker.Message)

	// SendErr is returned from every Send when set.
	SendErr error

	// OnKill runs inside Kill, e.g. to emit a terminal error.
	OnKill  func(ch *Channel)
	KillErr error

	mu    sync.Mutex
	calls []string
	sent  []worker.Message
	kills int

	messages *event.Hub[worker.Message]
	errors   *event.Hub[error]
}

func NewChannel() *Channel {
	return &Channel{
		messages: event.NewHub[worker.Message](),
		errors:   event.NewHub[error](),
	}
}

func (c *Channel) Send(msg worker.Message) error {
	c.record(CallSend)
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	onSend := c.OnSend
	c.mu.Unlock()

	if c.SendErr != nil {
		return c.SendErr
	}
	if onSend != nil {
		onSend(c, msg)
	}
	return nil
}

func (c *Channel) OnMessage(fn func(worker.Message)) worker.Subscription {
	c.record(CallOnMessage)
	return &recordingSub{inner: c.messages.Subscribe(fn), ch: c, call: CallUnsubscribeMessage}
}

func (c *Channel) OnError(fn func(error)) worker.Subscription {
	c.record(CallOnError)
	return &recordingSub{inner: c.errors.Subscribe(fn), ch: c, call: CallUnsubscribeError}
}

func (c *Channel) Kill() error {
	c.record(CallKill)
	c.mu.Lock()
	c.kills++
	onKill := c.OnKill
	c.mu.Unlock()

	if onKill != nil {
		onKill(c)
	}
	return c.KillErr
}

// EmitMessage delivers msg to the registered message listeners and returns
// how many received it.
func (c *Channel) EmitMessage(msg worker.Message) int {
	return c.messages.Emit(msg)
}

// EmitError delivers err to the registered error listeners.
func (c *Channel) EmitError(err error) int {
	return c.errors.Emit(err)
}

// Calls returns a copy of the interaction log.
func (c *Channel) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// Sent returns the messages passed to Send.
func (c *Channel) Sent() []worker.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]worker.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Channel) Kills() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kills
}

// Listeners returns the live message and error registrations.
func (c *Channel) Listeners() (messages, errors int) {
	return c.messages.Len(), c.errors.Len()
}

func (c *Channel) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

type recordingSub struct {
	inner event.Subscription
	ch    *Channel
	call  string
	once  sync.Once
}

func (s *recordingSub) Unsubscribe() {
	s.once.Do(func() {
		s.ch.record(s.call)
		s.inner.Unsubscribe()
	})
}

// Echo is an OnSend hook replying with the sent message plus reply fields.
func Echo(reply worker.Message) func(ch *Channel, msg worker.Message) {
	return func(ch *Channel, msg worker.Message) {
		out := make(worker.Message, len(msg)+len(reply))
		for k, v := range msg {
			out[k] = v
		}
		for k, v := range reply {
			out[k] = v
		}
		ch.EmitMessage(out)
	}
}
