// Package broadcast implements the process-wide topic pub/sub registry
// used for "presence:<projectId>" and "sessions:<projectId>" notifications.
package broadcast

import "sync"

// Handler is invoked synchronously on every Notify call for its topic.
type Handler func()

// Unsubscribe removes a previously registered handler. Calling it more
// than once is a no-op.
type Unsubscribe func()

// Registry is a process-wide topic -> observer-set map, guarded by a
// single mutex around its own internal map.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	topics map[string]map[uint64]Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{topics: make(map[string]map[uint64]Handler)}
}

// Subscribe registers handler for topic and returns an Unsubscribe handle.
// A Subscribe that happens-before a Notify call is guaranteed to receive
// that notification: the handler is installed under the registry lock
// before Subscribe returns.
func (r *Registry) Subscribe(topic string, handler Handler) Unsubscribe {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[uint64]Handler)
	}
	r.topics[topic][id] = handler
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if subs, ok := r.topics[topic]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(r.topics, topic)
				}
			}
		})
	}
}

// Notify invokes every handler currently subscribed to topic. Registration
// order is not guaranteed, but delivery order across calls to Notify for
// the same topic is: subscribers receive broadcasts in the order Notify
// was called. Handlers run outside the registry lock so a slow or failing
// subscriber cannot stall fan-out to others, and a panicking handler does
// not prevent the rest from running.
func (r *Registry) Notify(topic string) {
	r.mu.Lock()
	subs := r.topics[topic]
	handlers := make([]Handler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		invokeSafely(h)
	}
}

func invokeSafely(h Handler) {
	defer func() { _ = recover() }()
	h()
}
