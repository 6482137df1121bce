package session

import (
	"log/slog"
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"
)

type (
	// taskRunner executes queued tasks sequentially on one goroutine
	taskRunner struct {
		queue    topic.Topic[task]
		prod     topic.Producer[task]
		cons     topic.Consumer[task]
		stop     chan struct{}
		flushed  chan struct{}
		stopOnce sync.Once
		started  sync.Once
		runWG    sync.WaitGroup

		mu     sync.RWMutex
		closed bool
	}

	task func()
)

func newTaskRunner() *taskRunner {
	queue := caravan.NewTopic[task]()
	return &taskRunner{
		queue:   queue,
		prod:    queue.NewProducer(),
		cons:    queue.NewConsumer(),
		stop:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
}

func (t *taskRunner) start() {
	t.started.Do(func() {
		t.runWG.Go(func() {
			for {
				select {
				case <-t.stop:
					return
				case fn, ok := <-t.cons.Receive():
					if !ok {
						return
					}
					t.runTask(fn)
				}
			}
		})
	})
}

// post queues a task without waiting for it. Returns false once the runner
// has been flushed
func (t *taskRunner) post(fn task) bool {
	if fn == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	message.Send(t.prod, fn)
	return true
}

// do queues a task and waits for it to run. Returns ErrSessionClosed if the
// runner is flushed before the task gets a chance to run
func (t *taskRunner) do(fn task) error {
	done := make(chan struct{})
	if !t.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-t.flushed:
		select {
		case <-done:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// flush refuses further tasks, runs what is already queued, and stops
func (t *taskRunner) flush() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.stopOnce.Do(func() {
		close(t.stop)
	})
	t.runWG.Wait()
	defer close(t.flushed)
	for {
		select {
		case fn, ok := <-t.cons.Receive():
			if !ok {
				t.prod.Close()
				t.cons.Close()
				return
			}
			t.runTask(fn)
		default:
			t.prod.Close()
			t.cons.Close()
			return
		}
	}
}

func (t *taskRunner) runTask(fn task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Session task panic",
				slog.Any("panic", r))
		}
	}()
	fn()
}
