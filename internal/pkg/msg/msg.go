package msg

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic categorizes a message.
type Topic int

const (
	// Status carries a network's per-tick power.Status.
	Status Topic = iota
	// Transition carries a power.Status whose mode differs from the previous tick.
	Transition
	// Config carries a change of network membership.
	Config
)

func (t Topic) String() string {
	switch t {
	case Status:
		return "status"
	case Transition:
		return "transition"
	case Config:
		return "config"
	}
	return "unknown"
}

// ErrDuplicateSubscriber is returned when a pid subscribes twice to the same topic.
var ErrDuplicateSubscriber = errors.New("msg: subscriber already registered for topic")

// Publisher is an interface for objects that allow subscription to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is an envelope for a payload published on a topic
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the message topic
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

// PubSub fans published messages out to subscribers. Sends never block the
// publisher: a subscriber whose buffer is full misses the message.
type PubSub struct {
	mux         *sync.Mutex
	pid         uuid.UUID
	buffer      int
	subscribers map[Topic]map[uuid.UUID]chan Msg
}

// NewPublisher returns a PubSub that stamps messages with pid.
func NewPublisher(pid uuid.UUID, buffer int) *PubSub {
	return &PubSub{
		mux:         &sync.Mutex{},
		pid:         pid,
		buffer:      buffer,
		subscribers: make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// PID is the publisher's identity.
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe returns a channel on which the specified topic is broadcast
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	subs, ok := p.subscribers[topic]
	if !ok {
		subs = make(map[uuid.UUID]chan Msg)
		p.subscribers[topic] = subs
	}
	if _, exists := subs[pid]; exists {
		return nil, ErrDuplicateSubscriber
	}
	ch := make(chan Msg, p.buffer)
	subs[pid] = ch
	return ch, nil
}

// Unsubscribe closes every channel held by pid.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subscribers {
		if ch, ok := subs[pid]; ok {
			delete(subs, pid)
			close(ch)
		}
	}
}

// Publish wraps payload in a Msg from this publisher and broadcasts it.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.Forward(New(p.pid, topic, payload))
}

// Forward broadcasts an existing message, preserving its sender.
func (p *PubSub) Forward(m Msg) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, ch := range p.subscribers[m.topic] {
		select {
		case ch <- m:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (p *PubSub) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()
	for topic, subs := range p.subscribers {
		for pid, ch := range subs {
			close(ch)
			delete(subs, pid)
		}
		delete(p.subscribers, topic)
	}
}
