package broker

import (
	"sync"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// Publisher fans out domain.Event values (trades and order updates) to any
// number of subscribers over bounded channels, matching spec.md §5's "one
// broadcast publisher ... with a bounded buffer (nominally 32)". The Engine
// is the authoritative subscriber; slow subscribers may lag, and a dropped
// send is counted by the caller (see StreamClient), not replayed — broker
// state reconciliation covers the gap.
type Publisher struct {
	mu   sync.RWMutex
	subs map[chan domain.Event]struct{}
}

// publisherBufferSize is the bounded buffer per subscriber channel.
const publisherBufferSize = 32

// NewPublisher returns an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[chan domain.Event]struct{})}
}

// Subscribe returns a new bounded channel that receives every event
// published after this call. Call Unsubscribe when done to release it.
func (p *Publisher) Subscribe() chan domain.Event {
	ch := make(chan domain.Event, publisherBufferSize)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel previously returned by Subscribe.
func (p *Publisher) Unsubscribe(ch chan domain.Event) {
	p.mu.Lock()
	if _, ok := p.subs[ch]; ok {
		delete(p.subs, ch)
		close(ch)
	}
	p.mu.Unlock()
}

// Publish fans ev out to every subscriber via a non-blocking send. It
// returns false if at least one subscriber's buffer was full and the event
// was dropped for it; the caller (the stream task owning a socket) uses this
// to track its consecutive-failure budget per spec.md §4.2/§5.
func (p *Publisher) Publish(ev domain.Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.subs) == 0 {
		return true
	}

	ok := true
	for ch := range p.subs {
		select {
		case ch <- ev:
		default:
			ok = false
		}
	}
	return ok
}
