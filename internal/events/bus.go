// Package events fans live job progress out to in-process subscribers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

// DefaultMailboxSize is the per-subscriber buffer used when none is configured.
const DefaultMailboxSize = 200

// Publisher delivers events for a job to whoever is listening.
type Publisher interface {
	Publish(ctx context.Context, jobID string, ev model.ProgressEvent) error
}

// Subscriber opens a live feed of a job's events.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string) *Subscription
}

// Bus is a single-process publish/subscribe fan-out keyed by job id.
// Publishing never blocks: an event is dropped for any subscriber whose
// mailbox is full. A terminal event is always delivered and closes every
// mailbox of the job.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]map[*mailbox]struct{}
	size    int
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewBus returns a bus whose mailboxes hold size events.
func NewBus(size int, logger *slog.Logger) *Bus {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string]map[*mailbox]struct{}),
		size:   size,
		logger: logger,
	}
}

type mailbox struct {
	mu     sync.Mutex
	ch     chan model.ProgressEvent
	closed bool
}

// offer enqueues ev without blocking. When force is set the oldest queued
// event is discarded to make room.
func (m *mailbox) offer(ev model.ProgressEvent, force bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- ev:
		return true
	default:
	}
	if !force {
		return false
	}
	select {
	case <-m.ch:
	default:
	}
	m.ch <- ev
	return true
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}

// Subscription is a live feed for one job.
type Subscription struct {
	JobID  string
	events <-chan model.ProgressEvent
	stop   func() bool
	cancel func()
}

// Events returns the feed. It is closed after the job's terminal event or
// once the subscription is canceled.
func (s *Subscription) Events() <-chan model.ProgressEvent {
	return s.events
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.stop()
	s.cancel()
}

// Subscribe registers a mailbox for jobID. The mailbox is released when ctx
// is done or Close is called, whichever comes first.
func (b *Bus) Subscribe(ctx context.Context, jobID string) *Subscription {
	mb := &mailbox{ch: make(chan model.ProgressEvent, b.size)}

	b.mu.Lock()
	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[*mailbox]struct{})
		b.subs[jobID] = set
	}
	set[mb] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.remove(jobID, mb) })
	}
	stop := context.AfterFunc(ctx, cancel)

	return &Subscription{JobID: jobID, events: mb.ch, stop: stop, cancel: cancel}
}

func (b *Bus) remove(jobID string, mb *mailbox) {
	b.mu.Lock()
	if set, ok := b.subs[jobID]; ok {
		delete(set, mb)
		if len(set) == 0 {
			delete(b.subs, jobID)
		}
	}
	b.mu.Unlock()
	mb.close()
}

// Publish delivers ev to every current subscriber of jobID.
func (b *Bus) Publish(_ context.Context, jobID string, ev model.ProgressEvent) error {
	terminal := ev.Terminal()

	b.mu.Lock()
	set := b.subs[jobID]
	targets := make([]*mailbox, 0, len(set))
	for mb := range set {
		targets = append(targets, mb)
	}
	if terminal {
		delete(b.subs, jobID)
	}
	b.mu.Unlock()

	for _, mb := range targets {
		if !mb.offer(ev, terminal) {
			b.dropped.Add(1)
			b.logger.Debug("event dropped for slow subscriber", "job_id", jobID, "status", ev.Status)
		}
		if terminal {
			mb.close()
		}
	}
	return nil
}

// Subscribers returns the number of live mailboxes for jobID.
func (b *Bus) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// Jobs returns the number of job ids with at least one subscriber.
func (b *Bus) Jobs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a mailbox was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
