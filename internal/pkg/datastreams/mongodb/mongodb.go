// Package mongodb keeps the latest status of every network in a MongoDB collection.
package mongodb

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ohowland/colony_grid/internal/pkg/config"
	"github.com/ohowland/colony_grid/internal/pkg/msg"
	"github.com/ohowland/colony_grid/internal/pkg/power"
)

const writeTimeout = 2 * time.Second

// Collection is the part of a mongo collection the handler writes through.
type Collection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Connect dials the server named by cfg and returns the status collection.
func Connect(ctx context.Context, cfg config.Mongo) (*mongo.Client, *mongo.Collection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, err
	}
	return client, client.Database(cfg.Database).Collection(cfg.Collection), nil
}

// Handler upserts one document per network on every status message.
type Handler struct {
	mux    *sync.Mutex
	pid    uuid.UUID
	inbox  <-chan msg.Msg
	system msg.Publisher
	coll   Collection
	clock  func() time.Time
	stop   chan struct{}
	done   chan struct{}
}

// New subscribes to the system's status topic.
func New(coll Collection, system msg.Publisher) (*Handler, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	inbox, err := system.Subscribe(pid, msg.Status)
	if err != nil {
		return nil, err
	}
	return &Handler{
		mux:    &sync.Mutex{},
		pid:    pid,
		inbox:  inbox,
		system: system,
		coll:   coll,
		clock:  time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// PID is the handler's subscriber identity.
func (h *Handler) PID() uuid.UUID {
	return h.pid
}

func filter(status power.Status) bson.M {
	return bson.M{"_id": status.PID.String()}
}

// statusToBSON builds the $set update for a network document.
func statusToBSON(status power.Status, at time.Time) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.M{
			"tick":      int64(status.Tick),
			"mode":      status.Mode.String(),
			"previous":  status.Previous.String(),
			"capacity":  status.Capacity,
			"load":      status.Load,
			"reserve":   status.Reserve,
			"headroom":  status.Headroom,
			"supplies":  status.Supplies,
			"consumers": status.Consumers,
			"batteries": status.Batteries,
			"shed":      status.Shed,
			"updated":   at,
		}},
	}
}

// Process writes statuses until Stop is called or the system closes the inbox.
func (h *Handler) Process() {
	defer close(h.done)
	log.Info("[Mongo] Process Started")
	opts := options.Update().SetUpsert(true)
loop:
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				break loop
			}
			status, ok := m.Payload().(power.Status)
			if !ok {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			_, err := h.coll.UpdateOne(ctx, filter(status), statusToBSON(status, h.clock()), opts)
			cancel()
			if err != nil {
				log.WithField("network", status.PID).Errorf("[Mongo] upsert: %v", err)
			}
		case <-h.stop:
			h.system.Unsubscribe(h.pid)
			break loop
		}
	}
	log.Info("[Mongo] Process Shutdown")
}

// Stop ends Process and waits for it to return.
func (h *Handler) Stop() {
	h.mux.Lock()
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	h.mux.Unlock()
	<-h.done
}
