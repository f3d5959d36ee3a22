package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ib-77/procworker/pkg/worker"
	"github.com/ib-77/procworker/pkg/worker/workertest"
)

const (
	seconds     = 20
	nanoseconds = 1
	requestID   = "201"
)

func fixedClock() (int64, int64) {
	return seconds, nanoseconds
}

type outcome struct {
	msg worker.Message
	err error
}

func runAsync(ctx context.Context, w *worker.Worker, payload worker.Message) <-chan outcome {
	out := make(chan outcome, 1)
	go func() {
		msg, err := w.Run(ctx, payload)
		out <- outcome{msg: msg, err: err}
	}()
	return out
}

func captureSends(ch *workertest.Channel, n int) <-chan worker.Message {
	sent := make(chan worker.Message, n)
	ch.OnSend = func(_ *workertest.Channel, msg worker.Message) {
		sent <- msg
	}
	return sent
}

func waitSent(t *testing.T, sent <-chan worker.Message) worker.Message {
	t.Helper()
	select {
	case msg := <-sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send")
		return nil
	}
}

func assertStillPending(t *testing.T, res <-chan outcome) {
	t.Helper()
	select {
	case o := <-res:
		t.Fatalf("expected call to stay pending, got msg=%v err=%v", o.msg, o.err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestKill_KillsUnderlyingChannel(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	w := worker.New(ch)

	require.NoError(t, w.Kill())

	assert.Equal(t, 1, ch.Kills())
	assert.Equal(t, []string{workertest.CallKill}, ch.Calls())
	assert.True(t, w.Killed())
}

func TestRun_InjectsRequestIDAndProxiesResult(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	expected := worker.Message{"bar": "baz", worker.RequestIDField: requestID}
	ch.OnSend = func(c *workertest.Channel, msg worker.Message) {
		c.EmitMessage(expected)
	}
	w := worker.New(ch, worker.WithClock(fixedClock))
	payload := worker.Message{"foo": "bar"}

	actual, err := w.Run(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, expected, actual)
	assert.Equal(t, []worker.Message{{"foo": "bar", worker.RequestIDField: requestID}}, ch.Sent())
	assert.Equal(t, worker.Message{"foo": "bar"}, payload, "payload must not be mutated")
}

func TestRun_RemovesListenersWhenMessageReceived(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	ch.OnSend = workertest.Echo(nil)
	w := worker.New(ch, worker.WithClock(fixedClock))

	msg, err := w.Run(context.Background(), worker.Message{})

	require.NoError(t, err)
	assert.Equal(t, worker.Message{worker.RequestIDField: requestID}, msg)
	assert.Equal(t, []string{
		workertest.CallOnMessage,
		workertest.CallOnError,
		workertest.CallSend,
		workertest.CallUnsubscribeMessage,
		workertest.CallUnsubscribeError,
	}, ch.Calls())

	// late events reach nobody
	assert.Equal(t, 0, ch.EmitMessage(worker.Message{worker.RequestIDField: requestID}))
	assert.Equal(t, 0, ch.EmitError(errors.New("late")))
	assert.Equal(t, 0, w.Pending())
}

func TestRun_RemovesListenersWhenErrorEncountered(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	boom := errors.New("boom")
	ch.OnSend = func(c *workertest.Channel, _ worker.Message) {
		c.EmitError(boom)
	}
	w := worker.New(ch, worker.WithClock(fixedClock))

	msg, err := w.Run(context.Background(), worker.Message{})

	assert.Nil(t, msg)
	assert.Same(t, boom, err)
	assert.False(t, worker.IsRequestError(err))
	assert.Equal(t, []string{
		workertest.CallOnMessage,
		workertest.CallOnError,
		workertest.CallSend,
		workertest.CallUnsubscribeMessage,
		workertest.CallUnsubscribeError,
	}, ch.Calls())
	assert.Equal(t, []worker.Message{{worker.RequestIDField: requestID}}, ch.Sent())
	assert.Same(t, boom, w.LastError())

	messages, errs := ch.Listeners()
	assert.Zero(t, messages)
	assert.Zero(t, errs)
}

func TestRun_IgnoresMismatchedRequestID(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	sent := captureSends(ch, 1)
	w := worker.New(ch, worker.WithClock(fixedClock))

	res := runAsync(context.Background(), w, worker.Message{"foo": "bar"})
	waitSent(t, sent)

	assert.Equal(t, 1, ch.EmitMessage(worker.Message{worker.RequestIDField: "999"}))
	assert.Equal(t, 1, ch.EmitMessage(worker.Message{"noise": true}))
	assertStillPending(t, res)

	messages, errs := ch.Listeners()
	assert.Equal(t, 1, messages)
	assert.Equal(t, 1, errs)
	assert.NotContains(t, ch.Calls(), workertest.CallUnsubscribeMessage)

	reply := worker.Message{"ok": true, worker.RequestIDField: requestID}
	ch.EmitMessage(reply)

	o := <-res
	require.NoError(t, o.err)
	assert.Equal(t, reply, o.msg)
}

func TestKill_DoesNotSettlePendingRun(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	sent := captureSends(ch, 1)
	w := worker.New(ch)

	res := runAsync(context.Background(), w, worker.Message{})
	waitSent(t, sent)

	require.NoError(t, w.Kill())
	assert.Equal(t, 1, ch.Kills())
	assertStillPending(t, res)
	assert.Equal(t, 1, w.Pending())

	// the channel reports the termination and releases the call
	exited := errors.New("exited")
	ch.EmitError(exited)

	o := <-res
	assert.Same(t, exited, o.err)
	assert.Equal(t, 0, w.Pending())
}

func TestKill_TerminalErrorFromChannelSettlesRun(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	sent := captureSends(ch, 1)
	terminated := errors.New("terminated")
	ch.OnKill = func(c *workertest.Channel) { c.EmitError(terminated) }
	w := worker.New(ch)

	res := runAsync(context.Background(), w, worker.Message{})
	waitSent(t, sent)

	require.NoError(t, w.Kill())

	o := <-res
	assert.Same(t, terminated, o.err)
	assert.Equal(t, []string{
		workertest.CallOnMessage,
		workertest.CallOnError,
		workertest.CallSend,
		workertest.CallKill,
		workertest.CallUnsubscribeMessage,
		workertest.CallUnsubscribeError,
	}, ch.Calls())
}

func TestKill_FailPendingOnKill(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	sent := captureSends(ch, 2)
	w := worker.New(ch, worker.WithFailPendingOnKill())

	first := runAsync(context.Background(), w, worker.Message{"n": 1})
	second := runAsync(context.Background(), w, worker.Message{"n": 2})
	waitSent(t, sent)
	waitSent(t, sent)

	require.NoError(t, w.Kill())

	for _, res := range []<-chan outcome{first, second} {
		o := <-res
		assert.ErrorIs(t, o.err, worker.ErrKilled)
	}
	messages, errs := ch.Listeners()
	assert.Zero(t, messages)
	assert.Zero(t, errs)
}

func TestRun_AfterKillFailsWithoutSending(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	ch.KillErr = errors.New("already gone")
	w := worker.New(ch)

	assert.ErrorIs(t, w.Kill(), ch.KillErr)

	_, err := w.Run(context.Background(), worker.Message{})
	assert.ErrorIs(t, err, worker.ErrKilled)
	assert.Empty(t, ch.Sent())
}

func TestRun_SendFailureIsRequestError(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	ch.SendErr = errors.New("broken pipe")
	w := worker.New(ch, worker.WithClock(fixedClock))

	_, err := w.Run(context.Background(), worker.Message{})

	require.Error(t, err)
	assert.True(t, worker.IsRequestError(err))
	assert.ErrorIs(t, err, ch.SendErr)

	var re *worker.RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, requestID, re.RequestID)
	assert.Equal(t, 0, w.Pending())
}

func TestRun_ContextCancelReleasesListeners(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	sent := captureSends(ch, 1)
	w := worker.New(ch)

	ctx, cancel := context.WithCancel(context.Background())
	res := runAsync(ctx, w, worker.Message{})
	waitSent(t, sent)

	cancel()

	o := <-res
	assert.ErrorIs(t, o.err, context.Canceled)
	assert.Equal(t, []string{
		workertest.CallOnMessage,
		workertest.CallOnError,
		workertest.CallSend,
		workertest.CallUnsubscribeMessage,
		workertest.CallUnsubscribeError,
	}, ch.Calls())
}

func TestRun_ConcurrentCallsAreCorrelated(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	sent := captureSends(ch, 2)
	w := worker.New(ch, worker.WithClock(fixedClock))

	first := runAsync(context.Background(), w, worker.Message{"n": 1})
	firstSent := waitSent(t, sent)
	second := runAsync(context.Background(), w, worker.Message{"n": 2})
	secondSent := waitSent(t, sent)

	firstID, _ := firstSent.RequestID()
	secondID, _ := secondSent.RequestID()
	assert.Equal(t, requestID, firstID)
	assert.Equal(t, requestID+"-1", secondID)
	assert.Equal(t, 2, w.Pending())

	// reply out of order
	ch.EmitMessage(worker.Message{"n": 2, worker.RequestIDField: secondID})
	ch.EmitMessage(worker.Message{"n": 1, worker.RequestIDField: firstID})

	o1, o2 := <-first, <-second
	require.NoError(t, o1.err)
	require.NoError(t, o2.err)
	assert.Equal(t, 1, o1.msg["n"])
	assert.Equal(t, 2, o2.msg["n"])
}

func TestRun_ChannelErrorFailsAllPending(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	sent := captureSends(ch, 3)
	w := worker.New(ch)

	var results []<-chan outcome
	for i := 0; i < 3; i++ {
		results = append(results, runAsync(context.Background(), w, worker.Message{"n": i}))
		waitSent(t, sent)
	}

	crash := errors.New("child crashed")
	assert.Equal(t, 3, ch.EmitError(crash))

	for _, res := range results {
		o := <-res
		assert.Same(t, crash, o.err)
	}
	assert.Equal(t, 0, w.Pending())
}

func TestNilChannel(t *testing.T) {
	t.Parallel()

	w := worker.New(nil)

	_, err := w.Run(context.Background(), worker.Message{})
	assert.ErrorIs(t, err, worker.ErrNilChannel)
	assert.ErrorIs(t, w.Kill(), worker.ErrNilChannel)
}

type countingObserver struct {
	started  chan string
	finished chan worker.Outcome
	killed   chan string
}

func (o *countingObserver) RequestStarted(name string) { o.started <- name }
func (o *countingObserver) RequestFinished(_ string, outcome worker.Outcome, _ time.Duration) {
	o.finished <- outcome
}
func (o *countingObserver) Killed(name string) { o.killed <- name }

func TestObserver_ReceivesOutcomes(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{
		started:  make(chan string, 4),
		finished: make(chan worker.Outcome, 4),
		killed:   make(chan string, 1),
	}
	ch := workertest.NewChannel()
	ch.OnSend = workertest.Echo(worker.Message{"ok": true})
	w := worker.New(ch, worker.WithName("resizer"), worker.WithObserver(obs))

	_, err := w.Run(context.Background(), worker.Message{})
	require.NoError(t, err)
	require.NoError(t, w.Kill())

	assert.Equal(t, "resizer", <-obs.started)
	assert.Equal(t, worker.OutcomeSuccess, <-obs.finished)
	assert.Equal(t, "resizer", <-obs.killed)
	assert.Equal(t, "resizer", w.Name())
	assert.NotEmpty(t, w.ID())
}

// blockSends makes every Send hang until the returned release func runs.
func blockSends(ch *workertest.Channel) (entered <-chan struct{}, release func()) {
	in := make(chan struct{}, 8)
	gate := make(chan struct{})
	ch.OnSend = func(*workertest.Channel, worker.Message) {
		in <- struct{}{}
		<-gate
	}
	return in, func() { close(gate) }
}

func TestRun_BlockedSendHonoursContext(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	entered, release := blockSends(ch)
	defer release()
	w := worker.New(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := w.Run(ctx, worker.Message{"x": 1})

	<-entered
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, w.Pending())
	messages, errs := ch.Listeners()
	assert.Zero(t, messages)
	assert.Zero(t, errs)
}

func TestKill_FailPendingOnKillWhileSendBlocked(t *testing.T) {
	t.Parallel()

	ch := workertest.NewChannel()
	entered, release := blockSends(ch)
	defer release()
	w := worker.New(ch, worker.WithFailPendingOnKill())

	res := runAsync(context.Background(), w, worker.Message{})
	<-entered

	require.NoError(t, w.Kill())

	select {
	case o := <-res:
		assert.ErrorIs(t, o.err, worker.ErrKilled)
	case <-time.After(2 * time.Second):
		t.Fatal("kill did not release a call stuck in send")
	}
	assert.Equal(t, 0, w.Pending())
}

type reentrantObserver struct {
	w       *worker.Worker
	pending chan int
}

func (o *reentrantObserver) RequestStarted(string) { o.pending <- o.w.Pending() }
func (o *reentrantObserver) RequestFinished(string, worker.Outcome, time.Duration) {
	o.pending <- o.w.Pending()
}
func (o *reentrantObserver) Killed(string) {}

func TestObserver_MayCallBackIntoWorker(t *testing.T) {
	t.Parallel()

	obs := &reentrantObserver{pending: make(chan int, 2)}
	ch := workertest.NewChannel()
	ch.OnSend = workertest.Echo(nil)
	w := worker.New(ch, worker.WithObserver(obs))
	obs.w = w

	done := make(chan error, 1)
	go func() {
		_, err := w.Run(context.Background(), worker.Message{})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("observer calling Pending deadlocked Run")
	}
	assert.Equal(t, 1, <-obs.pending)
	assert.Equal(t, 0, <-obs.pending)
}
