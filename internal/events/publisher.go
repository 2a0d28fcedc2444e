// ABOUTME: Non-blocking event publisher with per-subscription bounded queues
// ABOUTME: Delivers in order per subscriber and drops the oldest event when a queue fills

package events

import (
	"sync"

	"github.com/weftwork/weft/pkg/types"
)

// DefaultQueueSize bounds each subscription's buffer
const DefaultQueueSize = 256

// subscription is one consumer's bounded event queue. executionID is empty
// for the visualization group, which receives every event.
type subscription struct {
	id          int
	executionID string
	ch          chan types.Event
}

// Publisher fans engine events out to subscribers. Emit never blocks the
// orchestrator: a full subscriber queue sheds its oldest event first.
type Publisher struct {
	mu        sync.RWMutex
	nextID    int
	queueSize int
	subs      map[int]*subscription
	logger    types.Logger
	closed    bool
}

// NewPublisher creates a publisher with the given per-subscription queue
// size; zero or negative uses the default.
func NewPublisher(queueSize int, logger types.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Publisher{
		queueSize: queueSize,
		subs:      make(map[int]*subscription),
		logger:    logger,
	}
}

// Subscribe registers a consumer for one execution's events. The returned
// cancel func must be called to release the queue.
func (p *Publisher) Subscribe(executionID string) (<-chan types.Event, func()) {
	return p.subscribe(executionID)
}

// SubscribeAll registers a visualization consumer receiving every event
func (p *Publisher) SubscribeAll() (<-chan types.Event, func()) {
	return p.subscribe("")
}

func (p *Publisher) subscribe(executionID string) (<-chan types.Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	sub := &subscription{
		id:          p.nextID,
		executionID: executionID,
		ch:          make(chan types.Event, p.queueSize),
	}
	if p.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	p.subs[sub.id] = sub

	id := sub.id
	return sub.ch, func() { p.unsubscribe(id) }
}

func (p *Publisher) unsubscribe(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(sub.ch)
	}
}

// Emit delivers an event to every matching subscription and returns
// immediately
func (p *Publisher) Emit(event types.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	for _, sub := range p.subs {
		if sub.executionID != "" && sub.executionID != event.ExecutionID {
			continue
		}
		for {
			select {
			case sub.ch <- event:
			default:
				// Queue full: shed the oldest and retry once.
				select {
				case dropped := <-sub.ch:
					if p.logger != nil {
						p.logger.Warn().
							Str("executionId", dropped.ExecutionID).
							Str("kind", string(dropped.Kind)).
							Msg("Dropped event for slow subscriber")
					}
					continue
				default:
				}
			}
			break
		}
	}
}

// Close terminates every subscription. Further emits are no-ops.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, sub := range p.subs {
		delete(p.subs, id)
		close(sub.ch)
	}
}

// SubscriberCount reports the number of live subscriptions
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
