package natshandler

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/ohowland/colony_grid/internal/pkg/msg"
	"github.com/ohowland/colony_grid/internal/pkg/power"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mux  sync.Mutex
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject, data})
	return nil
}

func (c *fakeConn) sent() []published {
	c.mux.Lock()
	defer c.mux.Unlock()
	return append([]published(nil), c.msgs...)
}

func TestSubject(t *testing.T) {
	network := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	status := power.Status{PID: network, Mode: power.Nominal}

	subject, ok := Subject("colony.power", msg.New(uuid.Nil, msg.Status, status))
	assert.Assert(t, ok)
	assert.Equal(t, subject, "colony.power.6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	subject, ok = Subject("colony.power", msg.New(uuid.Nil, msg.Transition, status))
	assert.Assert(t, ok)
	assert.Equal(t, subject, "colony.power.6ba7b810-9dad-11d1-80b4-00c04fd430c8.transition")

	_, ok = Subject("colony.power", msg.New(uuid.Nil, msg.Config, network))
	assert.Assert(t, !ok)
}

func TestProcessPublishesStatus(t *testing.T) {
	conn := &fakeConn{}
	pub := msg.NewPublisher(uuid.New(), 8)
	h, err := New("colony.power", conn, pub)
	assert.NilError(t, err)
	go h.Process()
	defer h.Stop()

	network := uuid.New()
	pub.Publish(msg.Status, power.Status{PID: network, Tick: 4, Mode: power.BatteryDrain, Load: 12.5})

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if len(conn.sent()) == 0 {
			return poll.Continue("nothing published")
		}
		return poll.Success()
	}, poll.WithTimeout(2*time.Second), poll.WithDelay(5*time.Millisecond))

	got := conn.sent()[0]
	assert.Equal(t, got.subject, "colony.power."+network.String())

	decoded := power.Status{}
	assert.NilError(t, json.Unmarshal(got.data, &decoded))
	assert.Equal(t, decoded.Mode, power.BatteryDrain)
	assert.Equal(t, decoded.Tick, uint64(4))
	assert.Equal(t, decoded.Load, 12.5)
}

func TestPublishErrorsDoNotStopProcess(t *testing.T) {
	conn := &fakeConn{err: errors.New("no servers available")}
	pub := msg.NewPublisher(uuid.New(), 8)
	h, err := New("colony.power", conn, pub)
	assert.NilError(t, err)
	go h.Process()

	pub.Publish(msg.Status, power.Status{PID: uuid.New()})
	h.Stop()
	h.Stop()
	assert.Equal(t, len(conn.sent()), 0)
}

func TestProcessEndsWhenSystemCloses(t *testing.T) {
	pub := msg.NewPublisher(uuid.New(), 8)
	h, err := New("colony.power", &fakeConn{}, pub)
	assert.NilError(t, err)
	go h.Process()
	pub.Close()
	h.Stop()
}

// blockingConn holds every publish until release is closed.
type blockingConn struct {
	release chan struct{}
}

func (c *blockingConn) Publish(string, []byte) error {
	<-c.release
	return nil
}

func TestStopReleasesForwardersOnFullInbox(t *testing.T) {
	conn := &blockingConn{release: make(chan struct{})}
	pub := msg.NewPublisher(uuid.New(), 8)
	h, err := New("colony.power", conn, pub)
	assert.NilError(t, err)
	go h.Process()

	network := uuid.New()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if len(h.inbox) == cap(h.inbox) {
			return poll.Success()
		}
		pub.Publish(msg.Status, power.Status{PID: network})
		pub.Publish(msg.Transition, power.Status{PID: network, Mode: power.Brownout})
		return poll.Continue("inbox holds %d", len(h.inbox))
	}, poll.WithTimeout(2*time.Second), poll.WithDelay(time.Millisecond))

	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()
	close(conn.release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	select {
	case <-h.drained:
	default:
		t.Fatal("forwarders still running after Stop")
	}
}

func TestDuplicateSubscriberFails(t *testing.T) {
	pub := &duplicatePublisher{PubSub: msg.NewPublisher(uuid.New(), 1)}
	_, err := New("colony.power", &fakeConn{}, pub)
	assert.ErrorIs(t, err, msg.ErrDuplicateSubscriber)
}

// duplicatePublisher refuses the second subscription.
type duplicatePublisher struct {
	*msg.PubSub
	calls int
}

func (d *duplicatePublisher) Subscribe(pid uuid.UUID, topic msg.Topic) (<-chan msg.Msg, error) {
	d.calls++
	if d.calls > 1 {
		return nil, msg.ErrDuplicateSubscriber
	}
	return d.PubSub.Subscribe(pid, topic)
}
