package scan

import (
	"sync"
)

// Subscription is one observer's view of a task's progress stream. The
// channel is closed after the terminal snapshot has been delivered, or
// when the subscriber calls Close.
type Subscription struct {
	pub    *Publisher
	taskID string
	ch     chan ProgressSnapshot
	closed bool // guarded by pub.mu
}

// Updates returns the snapshot channel. Receives block until the next
// snapshot; the channel closes after the terminal one.
func (s *Subscription) Updates() <-chan ProgressSnapshot {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once and
// safe to call after the publisher has already closed the channel.
func (s *Subscription) Close() {
	s.pub.unsubscribe(s)
}

// trimStale discards buffered non-terminal snapshots below the floor.
// A subscriber seeded from the task row may have older snapshots
// buffered from the window between subscribing and reading the row;
// dropping them keeps the delivered processedCount non-decreasing.
// Must be called before the first receive on Updates.
func (s *Subscription) trimStale(floor int) {
	s.pub.mu.Lock()
	defer s.pub.mu.Unlock()
	if s.closed {
		return
	}

	fresh := make(chan ProgressSnapshot, cap(s.ch))
	for {
		var snap ProgressSnapshot
		ok := false
		select {
		case snap, ok = <-s.ch:
		default:
		}
		if !ok {
			break
		}
		if snap.Terminal() || snap.ProcessedCount >= floor {
			fresh <- snap
		}
	}
	// Publishers only touch the channel under mu, so the swap is safe.
	s.ch = fresh
}

// Publisher fans task progress snapshots out to any number of
// subscribers. Each subscriber gets a bounded buffer; when a slow
// subscriber falls behind, the oldest buffered snapshot is dropped so
// the newest state always gets through. Terminal snapshots are never
// dropped: they are the last value on the channel before it closes.
type Publisher struct {
	mu      sync.Mutex
	bufSize int
	subs    map[string]map[*Subscription]struct{}
}

func NewPublisher(bufSize int) *Publisher {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Publisher{
		bufSize: bufSize,
		subs:    make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a new observer for the given task. The caller
// must Close the subscription when done with it.
func (p *Publisher) Subscribe(taskID string) *Subscription {
	sub := &Subscription{
		pub:    p,
		taskID: taskID,
		ch:     make(chan ProgressSnapshot, p.bufSize),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.subs[taskID]
	if !ok {
		set = make(map[*Subscription]struct{})
		p.subs[taskID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish delivers a snapshot to every subscriber of the task. A
// terminal snapshot also closes every subscriber channel and drops the
// task's subscriber set.
func (p *Publisher) Publish(snap ProgressSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.subs[snap.TaskID]
	for sub := range set {
		p.send(sub, snap)
	}
	if snap.Terminal() {
		for sub := range set {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
		delete(p.subs, snap.TaskID)
	}
}

// SubscriberCount reports how many observers a task currently has.
func (p *Publisher) SubscriberCount(taskID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[taskID])
}

// send enqueues a snapshot without blocking, evicting the oldest
// buffered snapshot if the subscriber is full. Called with mu held.
func (p *Publisher) send(sub *Subscription, snap ProgressSnapshot) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- snap:
		return
	default:
	}
	// Buffer full: drop the oldest and retry. The subscriber may have
	// drained concurrently, so the retry is best-effort too.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snap:
	default:
	}
}

func (p *Publisher) unsubscribe(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.subs[sub.taskID]
	if ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(p.subs, sub.taskID)
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
