package channel

import amqp "github.com/rabbitmq/amqp091-go"

// entry is a declared queue with its consumers.
type entry struct {
	key       string
	requested string
	props     QueueProperties
	queue     amqp.Queue
	consumers []*consumer
}

type consumer struct {
	tag       string
	processor Processor
	props     ConsumeProperties
}

// registry is an insertion ordered record of declared queues.
type registry struct {
	order   []string
	entries map[string]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

// put records declaration. Existing entry keeps its position and consumers.
func (r *registry) put(key, requested string, props QueueProperties, queue amqp.Queue) *entry {
	if e, ok := r.entries[key]; ok {
		e.props = props
		e.queue = queue

		return e
	}

	e := &entry{
		key:       key,
		requested: requested,
		props:     props,
		queue:     queue,
	}
	r.entries[key] = e
	r.order = append(r.order, key)

	return e
}

// get returns entry by key.
func (r *registry) get(key string) (*entry, bool) {
	e, ok := r.entries[key]
	return e, ok
}

// find returns entry by key or by currently resolved queue name.
func (r *registry) find(name string) (*entry, bool) {
	if name == "" {
		return nil, false
	}

	if e, ok := r.entries[name]; ok {
		return e, true
	}

	for _, key := range r.order {
		if e := r.entries[key]; e.queue.Name == name {
			return e, true
		}
	}

	return nil, false
}

// list returns entries in declaration order.
func (r *registry) list() []*entry {
	entries := make([]*entry, 0, len(r.order))
	for _, key := range r.order {
		entries = append(entries, r.entries[key])
	}

	return entries
}

// removeConsumer forgets consumer registration, reports whether it existed.
func (r *registry) removeConsumer(tag string) bool {
	for _, key := range r.order {
		e := r.entries[key]
		for i, c := range e.consumers {
			if c.tag == tag {
				e.consumers = append(e.consumers[:i], e.consumers[i+1:]...)
				return true
			}
		}
	}

	return false
}

// hasConsumer reports whether tag is registered.
func (r *registry) hasConsumer(tag string) bool {
	for _, key := range r.order {
		for _, c := range r.entries[key].consumers {
			if c.tag == tag {
				return true
			}
		}
	}

	return false
}
