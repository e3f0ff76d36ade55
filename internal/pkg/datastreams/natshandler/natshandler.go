// Package natshandler republishes network status on a NATS subject.
package natshandler

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/ohowland/colony_grid/internal/pkg/config"
	"github.com/ohowland/colony_grid/internal/pkg/msg"
	"github.com/ohowland/colony_grid/internal/pkg/power"
)

// Conn is the part of a NATS connection the handler publishes through.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Handler forwards the system's status and transition messages to NATS.
type Handler struct {
	mux     *sync.Mutex
	pid     uuid.UUID
	subject string
	conn    Conn
	inbox   chan msg.Msg
	system  msg.Publisher
	stop    chan struct{}
	done    chan struct{}
	drained chan struct{}
}

// Dial connects to the server named in cfg.
func Dial(cfg config.NATS) (*nats.Conn, error) {
	return nats.Connect(cfg.URL,
		nats.Name("colonygrid"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnf("[NATS client] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("[NATS client] reconnected to %v", nc.ConnectedUrl())
		}),
	)
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case m, ok := <-chIn:
			if !ok {
				return
			}
			select {
			case chOut <- m:
			case <-stop:
				return
			}
		case <-stop:
			return
		}
	}
}

// New subscribes to the system's status and transition topics.
func New(subject string, conn Conn, system msg.Publisher) (*Handler, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	inbox := make(chan msg.Msg, 50)
	stop := make(chan struct{})
	drained := make(chan struct{})
	wg := &sync.WaitGroup{}
	for _, topic := range []msg.Topic{msg.Status, msg.Transition} {
		ch, err := system.Subscribe(pid, topic)
		if err != nil {
			system.Unsubscribe(pid)
			return nil, err
		}
		wg.Add(1)
		go redirectMsg(ch, inbox, stop, wg)
	}
	go func() {
		wg.Wait()
		close(inbox)
		close(drained)
	}()

	return &Handler{
		mux:     &sync.Mutex{},
		pid:     pid,
		subject: subject,
		conn:    conn,
		inbox:   inbox,
		system:  system,
		stop:    stop,
		done:    make(chan struct{}),
		drained: drained,
	}, nil
}

// PID is the handler's subscriber identity.
func (h *Handler) PID() uuid.UUID {
	return h.pid
}

// Subject is the NATS subject a message is published on:
// <prefix>.<network> for status and <prefix>.<network>.transition for mode changes.
func Subject(prefix string, m msg.Msg) (string, bool) {
	status, ok := m.Payload().(power.Status)
	if !ok {
		return "", false
	}
	switch m.Topic() {
	case msg.Status:
		return fmt.Sprintf("%v.%v", prefix, status.PID), true
	case msg.Transition:
		return fmt.Sprintf("%v.%v.transition", prefix, status.PID), true
	}
	return "", false
}

// Process publishes until Stop is called or the system closes its channels.
func (h *Handler) Process() {
	defer close(h.done)
	log.Info("[NATS client] Process Started")
loop:
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				break loop
			}
			subject, ok := Subject(h.subject, m)
			if !ok {
				continue
			}
			data, err := json.Marshal(m.Payload())
			if err != nil {
				log.Errorf("[NATS client] encode: %v", err)
				continue
			}
			if err := h.conn.Publish(subject, data); err != nil {
				log.Warnf("[NATS client] unable to publish to nats server: %v", err)
			}
		case <-h.stop:
			h.system.Unsubscribe(h.pid)
			break loop
		}
	}
	log.Info("[NATS client] Process Shutdown")
}

// Stop ends Process and waits for it and the subscription forwarders to return.
func (h *Handler) Stop() {
	h.mux.Lock()
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	h.mux.Unlock()
	<-h.done
	<-h.drained
}
