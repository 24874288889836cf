package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// pipeChannel reads from one end of a pipe and records what happened.
type pipeChannel struct {
	name      string
	r, w      int
	log       *[]string
	polls     int
	reads     int
	destroyed int
	onRead    func()
	failRead  bool
}

func newPipeChannel(t *testing.T, name string, log *[]string) *pipeChannel {
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	return &pipeChannel{name: name, r: p[0], w: p[1], log: log}
}

func (c *pipeChannel) Name() string { return c.name }

func (c *pipeChannel) BeforePoll(pfd *PollFd) error {
	c.polls++
	pfd.Fd = c.r
	pfd.Events = PollIn
	return nil
}

func (c *pipeChannel) AfterPoll(pfd *PollFd) error {
	var buf [16]byte
	unix.Read(c.r, buf[:])
	c.reads++
	*c.log = append(*c.log, "read:"+c.name)
	if c.onRead != nil {
		c.onRead()
	}
	if c.failRead {
		return ErrRemove
	}
	return nil
}

func (c *pipeChannel) Destroy() {
	c.destroyed++
	*c.log = append(*c.log, "destroy:"+c.name)
	unix.Close(c.r)
	unix.Close(c.w)
}

func (c *pipeChannel) poke() {
	unix.Write(c.w, []byte{'x'})
}

func newLoop(t *testing.T, persistent bool) *Loop {
	l, err := New(Options{PollTimeout: 50 * time.Millisecond, Persistent: persistent})
	require.NoError(t, err)
	return l
}

func TestDispatchOrderAndDeferredRemoval(t *testing.T) {
	assert := require.New(t)
	var events []string

	l := newLoop(t, false)
	a := newPipeChannel(t, "a", &events)
	b := newPipeChannel(t, "b", &events)
	c := newPipeChannel(t, "c", &events)

	// a removes b while the ready set is still being serviced: b is
	// skipped and destroyed only after c was dispatched
	a.onRead = func() { l.Remove(b) }
	c.onRead = func() { l.Stop() }

	assert.NoError(l.Add(a))
	assert.NoError(l.Add(b))
	assert.NoError(l.Add(c))
	a.poke()
	b.poke()
	c.poke()

	assert.NoError(l.Run(context.Background()))

	assert.Equal([]string{
		"read:a", "read:c",
		"destroy:b",
		"destroy:a", "destroy:c",
	}, events)
	assert.Equal(1, a.destroyed)
	assert.Equal(1, b.destroyed)
	assert.Equal(1, c.destroyed)
	assert.Equal(1, a.polls)
	assert.Equal(0, b.reads)
}

func TestAfterPollErrorRemovesChannel(t *testing.T) {
	assert := require.New(t)
	var events []string

	l := newLoop(t, false)
	a := newPipeChannel(t, "a", &events)
	a.failRead = true
	assert.NoError(l.Add(a))
	a.poke()

	// the loop is not persistent, so it returns once a is gone
	assert.NoError(l.Run(context.Background()))
	assert.Equal([]string{"read:a", "destroy:a"}, events)
	assert.True(l.Stopped())
}

func TestAddAfterShutdown(t *testing.T) {
	assert := require.New(t)
	var events []string

	l := newLoop(t, false)
	assert.NoError(l.Run(context.Background()))

	ch := newPipeChannel(t, "late", &events)
	defer ch.Destroy()
	assert.ErrorIs(l.Add(ch), ErrLoopClosed)
	assert.ErrorIs(l.Post(func() {}), ErrLoopClosed)
}

func TestAddAfterStopRequested(t *testing.T) {
	assert := require.New(t)
	var events []string

	l := newLoop(t, true)
	l.Stop()

	ch := newPipeChannel(t, "late", &events)
	defer ch.Destroy()
	assert.ErrorIs(l.Add(ch), ErrLoopClosed)
}

func TestExecRunsOnLoop(t *testing.T) {
	assert := require.New(t)

	l := newLoop(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var events []string
	var n int
	err := l.Exec(context.Background(), func() {
		ch := newPipeChannel(t, "posted", &events)
		l.Add(ch)
		n = l.Len()
	})
	assert.NoError(err)
	assert.Equal(1, n)

	cancel()
	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal([]string{"destroy:posted"}, events)
	assert.ErrorIs(l.Exec(context.Background(), func() {}), ErrLoopClosed)
}

func TestExecTimeoutSkipsFn(t *testing.T) {
	assert := require.New(t)

	l := newLoop(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	release := make(chan struct{})
	busy := make(chan error, 1)
	go func() {
		busy <- l.Exec(context.Background(), func() { <-release })
	}()

	ran := false
	short, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	assert.ErrorIs(l.Exec(short, func() { ran = true }), context.DeadlineExceeded)

	close(release)
	assert.NoError(<-busy)
	assert.NoError(l.Exec(context.Background(), func() {}))
	assert.False(ran)
}

func TestSkippedFdIsNotDispatched(t *testing.T) {
	assert := require.New(t)

	l := newLoop(t, false)
	idle := &idleChannel{}
	assert.NoError(l.Add(idle))

	var events []string
	stopper := newPipeChannel(t, "stopper", &events)
	stopper.onRead = func() { l.Stop() }
	assert.NoError(l.Add(stopper))
	stopper.poke()

	assert.NoError(l.Run(context.Background()))
	assert.Equal(0, idle.after)
	assert.Equal(1, idle.destroyed)
}

type idleChannel struct {
	after     int
	destroyed int
}

func (c *idleChannel) Name() string { return "idle" }

func (c *idleChannel) BeforePoll(pfd *PollFd) error {
	pfd.Fd = -1
	return nil
}

func (c *idleChannel) AfterPoll(pfd *PollFd) error {
	c.after++
	return nil
}

func (c *idleChannel) Destroy() { c.destroyed++ }
