// Package subscription tracks topic to handler bindings on the shared push connection.
package subscription

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Message is one payload delivered on a topic.
type Message struct {
	Topic      string
	Body       []byte
	ReceivedAt time.Time
}

// Handler receives messages for a topic. Handlers run on the connection's
// read goroutine and must not block.
type Handler func(Message)

// Subscription identifies a registered topic.
type Subscription struct {
	ID    string // Stable wire subscription id, reused on replay
	Topic string
}

type entry struct {
	sub     Subscription
	seq     int64
	handler Handler
}

// Registry maps topics to handlers. A topic holds at most one handler;
// registering again replaces it.
type Registry struct {
	mu      sync.RWMutex
	byTopic map[string]*entry
	byID    map[string]*entry
	nextSeq int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byTopic: make(map[string]*entry),
		byID:    make(map[string]*entry),
	}
}

// Add binds handler to topic. created is false when the topic was already
// registered, in which case only the handler changes.
func (r *Registry) Add(topic string, handler Handler) (sub Subscription, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byTopic[topic]; ok {
		e.handler = handler
		return e.sub, false
	}

	r.nextSeq++
	e := &entry{
		sub: Subscription{
			ID:    "sub-" + strconv.FormatInt(r.nextSeq, 10),
			Topic: topic,
		},
		seq:     r.nextSeq,
		handler: handler,
	}
	r.byTopic[topic] = e
	r.byID[e.sub.ID] = e
	return e.sub, true
}

// Remove drops topic. Unknown topics report ok=false.
func (r *Registry) Remove(topic string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byTopic[topic]
	if !ok {
		return Subscription{}, false
	}
	delete(r.byTopic, topic)
	delete(r.byID, e.sub.ID)
	return e.sub, true
}

// Get returns the subscription for topic.
func (r *Registry) Get(topic string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byTopic[topic]
	if !ok {
		return Subscription{}, false
	}
	return e.sub, true
}

// Deliver hands msg to the handler bound to msg.Topic, falling back to the
// subscription id when the server reports an id but not the topic.
// Returns false if nothing is registered.
func (r *Registry) Deliver(msg Message, subID string) bool {
	r.mu.RLock()
	e, ok := r.byTopic[msg.Topic]
	if !ok && subID != "" {
		e, ok = r.byID[subID]
		if ok {
			msg.Topic = e.sub.Topic
		}
	}
	var h Handler
	if ok {
		h = e.handler
	}
	r.mu.RUnlock()

	if !ok || h == nil {
		return false
	}
	h(msg)
	return true
}

// Replay calls fn for every registered subscription in registration order,
// stopping at the first error.
func (r *Registry) Replay(fn func(Subscription) error) error {
	for _, sub := range r.snapshot() {
		if err := fn(sub); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every subscription and returns what was removed.
func (r *Registry) Clear() []Subscription {
	subs := r.snapshot()

	r.mu.Lock()
	r.byTopic = make(map[string]*entry)
	r.byID = make(map[string]*entry)
	r.mu.Unlock()

	return subs
}

// Len returns the number of registered topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTopic)
}

// Topics returns registered topics in registration order.
func (r *Registry) Topics() []string {
	subs := r.snapshot()
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.Topic
	}
	return out
}

func (r *Registry) snapshot() []Subscription {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byTopic))
	for _, e := range r.byTopic {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Subscription, len(entries))
	for i, e := range entries {
		out[i] = e.sub
	}
	return out
}
