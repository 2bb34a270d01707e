package engine

import "sync"

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// maxClosedTopics bounds how many ended topics are remembered. A subscriber
// that arrives after its job's topic was forgotten waits for its own context
// instead of getting a closed channel.
const maxClosedTopics = 1024

// EventBroker fans out per-job events to subscribers. It is safe for
// concurrent use.
//
// A topic exists only while it has subscribers. Ended topics are remembered
// in a bounded FIFO so that subscribing after a workflow has ended yields a
// closed channel instead of blocking.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic

	closed      map[string]struct{}
	closedOrder []string
}

type eventTopic struct {
	subs   map[int]chan []byte
	nextID int
}

// NewEventBroker creates an empty broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
		closed: make(map[string]struct{}),
	}
}

// Subscribe returns a channel receiving events for jobID and a function that
// cancels the subscription.
func (b *EventBroker) Subscribe(jobID string) (<-chan []byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, subscriberBufferSize)
	if _, ok := b.closed[jobID]; ok {
		close(ch)
		return ch, func() {}
	}

	t, ok := b.topics[jobID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan []byte)}
		b.topics[jobID] = t
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		if len(t.subs) == 0 && b.topics[jobID] == t {
			delete(b.topics, jobID)
		}
	}
}

// Publish delivers event to every subscriber of jobID without blocking.
func (b *EventBroker) Publish(jobID string, event []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close ends the topic for jobID. Subscriber channels are closed and later
// Subscribe calls return a closed channel while the id is remembered.
func (b *EventBroker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[jobID]; ok {
		for _, ch := range t.subs {
			close(ch)
		}
		delete(b.topics, jobID)
	}

	if _, ok := b.closed[jobID]; ok {
		return
	}
	b.closed[jobID] = struct{}{}
	b.closedOrder = append(b.closedOrder, jobID)
	if len(b.closedOrder) > maxClosedTopics {
		delete(b.closed, b.closedOrder[0])
		b.closedOrder = b.closedOrder[1:]
	}
}
