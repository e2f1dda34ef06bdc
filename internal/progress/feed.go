package progress

import (
	"context"
	"sync"
)

// DefaultFeedSize bounds the hooks buffered between the engine callback and
// the pipeline.
const DefaultFeedSize = 64

type hookMsg struct {
	jobID string
	raw   RawHook
}

// Feed decouples the engine's callback rate from store writes. The engine
// side calls Push; a single goroutine drains hooks into the pipeline in
// order. When the buffer is full the engine blocks, so hooks are never lost
// or reordered while the download runs.
type Feed struct {
	pipeline *Pipeline
	ch       chan hookMsg
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewFeed starts the consumer goroutine. ctx is passed to the pipeline for
// every hook; canceling it does not stop the drain.
func NewFeed(ctx context.Context, pipeline *Pipeline, size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	f := &Feed{
		pipeline: pipeline,
		ch:       make(chan hookMsg, size),
		done:     make(chan struct{}),
	}
	go f.run(context.WithoutCancel(ctx))
	return f
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	for msg := range f.ch {
		f.pipeline.Handle(ctx, msg.jobID, msg.raw)
	}
}

// Push queues a hook. Pushes after Close are dropped.
func (f *Feed) Push(jobID string, raw RawHook) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	f.ch <- hookMsg{jobID: jobID, raw: raw}
}

// Close stops accepting hooks and waits until every queued hook has been
// handled.
func (f *Feed) Close() {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.ch)
		f.mu.Unlock()
	})
	<-f.done
}
