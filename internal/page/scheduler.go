package page

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler runs callbacks on the page's single logical thread. Every
// timer the engine uses (debounce, replay, cooldown) goes through one.
type Scheduler interface {
	// AfterFunc runs fn once after d. The returned stop func cancels it
	// and reports whether it was still pending.
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// Post queues fn to run on s as soon as possible.
func Post(s Scheduler, fn func()) {
	s.AfterFunc(0, fn)
}

// EventLoop is a Scheduler backed by one goroutine. Callbacks never run
// concurrently with each other.
type EventLoop struct {
	tasks   chan func()
	done    chan struct{}
	once    sync.Once
	OnPanic func(recovered any)
}

func NewEventLoop() *EventLoop {
	l := &EventLoop{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *EventLoop) run() {
	for {
		select {
		case fn := <-l.tasks:
			l.invoke(fn)
		case <-l.done:
			return
		}
	}
}

func (l *EventLoop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.OnPanic != nil {
			l.OnPanic(r)
		}
	}()
	fn()
}

// Post queues fn. It is a no-op once the loop is closed.
func (l *EventLoop) Post(fn func()) {
	select {
	case <-l.done:
	case l.tasks <- fn:
	}
}

// Do runs fn on the loop and waits for it to return. It reports false if
// the loop closed first.
func (l *EventLoop) Do(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

func (l *EventLoop) AfterFunc(d time.Duration, fn func()) func() bool {
	if d <= 0 {
		var mu sync.Mutex
		cancelled := false
		l.Post(func() {
			mu.Lock()
			c := cancelled
			mu.Unlock()
			if !c {
				fn()
			}
		})
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			if cancelled {
				return false
			}
			cancelled = true
			return true
		}
	}
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return t.Stop
}

// Close stops the loop. Pending tasks are discarded.
func (l *EventLoop) Close() {
	l.once.Do(func() { close(l.done) })
}

// ManualClock is a deterministic Scheduler for tests and for offline
// runs. Nothing happens until Advance or Flush is called.
type ManualClock struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	queue taskQueue
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	c.seq++
	t := &task{at: c.now.Add(d), seq: c.seq, fn: fn}
	heap.Push(&c.queue, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.done {
			return false
		}
		t.done = true
		return true
	}
}

// Advance moves time forward by d, running every task that falls due in
// order, including tasks scheduled by those tasks.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if c.queue.Len() == 0 || c.queue[0].at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := heap.Pop(&c.queue).(*task)
		if t.at.After(c.now) {
			c.now = t.at
		}
		skip := t.done
		t.done = true
		c.mu.Unlock()

		if !skip {
			t.fn()
		}
	}
}

// Flush runs everything that is already due.
func (c *ManualClock) Flush() { c.Advance(0) }

// Pending counts scheduled tasks that have not run or been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.queue {
		if !t.done {
			n++
		}
	}
	return n
}

type task struct {
	at   time.Time
	seq  int
	fn   func()
	done bool
}

type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x any)   { *q = append(*q, x.(*task)) }
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	*q = old[:n-1]
	return t
}
