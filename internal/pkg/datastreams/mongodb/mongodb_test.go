package mongodb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/ohowland/colony_grid/internal/pkg/msg"
	"github.com/ohowland/colony_grid/internal/pkg/power"
)

type update struct {
	filter interface{}
	update interface{}
	upsert bool
}

type fakeCollection struct {
	mux     sync.Mutex
	updates []update
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter interface{}, u interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	upsert := false
	for _, o := range opts {
		if o.Upsert != nil {
			upsert = *o.Upsert
		}
	}
	c.updates = append(c.updates, update{filter, u, upsert})
	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func (c *fakeCollection) seen() []update {
	c.mux.Lock()
	defer c.mux.Unlock()
	return append([]update(nil), c.updates...)
}

func TestStatusToBSON(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := power.Status{
		Tick:     9,
		Mode:     power.Brownout,
		Previous: power.Nominal,
		Capacity: 40,
		Load:     100,
		Shed:     1,
	}
	doc := statusToBSON(status, at)

	assert.Equal(t, len(doc), 1)
	assert.Equal(t, doc[0].Key, "$set")
	set := doc[0].Value.(bson.M)
	assert.Equal(t, set["mode"], "Brownout")
	assert.Equal(t, set["previous"], "Nominal")
	assert.Equal(t, set["tick"], int64(9))
	assert.Equal(t, set["load"], 100.0)
	assert.Equal(t, set["shed"], 1)
	assert.Equal(t, set["updated"], at)

	_, err := bson.Marshal(doc)
	assert.NilError(t, err)
}

func TestProcessUpsertsByNetwork(t *testing.T) {
	coll := &fakeCollection{}
	pub := msg.NewPublisher(uuid.New(), 8)
	h, err := New(coll, pub)
	assert.NilError(t, err)
	go h.Process()

	network := uuid.New()
	pub.Publish(msg.Status, power.Status{PID: network, Mode: power.Nominal})
	pub.Publish(msg.Status, 17)

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if len(coll.seen()) == 0 {
			return poll.Continue("no upsert yet")
		}
		return poll.Success()
	}, poll.WithTimeout(2*time.Second), poll.WithDelay(5*time.Millisecond))
	h.Stop()

	got := coll.seen()
	assert.Equal(t, len(got), 1)
	assert.DeepEqual(t, got[0].filter, bson.M{"_id": network.String()})
	assert.Assert(t, got[0].upsert)
}

func TestProcessEndsWhenSystemCloses(t *testing.T) {
	pub := msg.NewPublisher(uuid.New(), 8)
	h, err := New(&fakeCollection{}, pub)
	assert.NilError(t, err)
	go h.Process()
	pub.Close()
	h.Stop()
}
