// Package root owns the colony: the power registry, every device, and the loop
// that ticks the networks and applies wiring commands between ticks.
package root

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/ohowland/colony_grid/internal/pkg/asset"
	"github.com/ohowland/colony_grid/internal/pkg/asset/ess"
	"github.com/ohowland/colony_grid/internal/pkg/asset/feeder"
	"github.com/ohowland/colony_grid/internal/pkg/asset/meter"
	"github.com/ohowland/colony_grid/internal/pkg/asset/pv"
	"github.com/ohowland/colony_grid/internal/pkg/asset/rtg"
	"github.com/ohowland/colony_grid/internal/pkg/config"
	"github.com/ohowland/colony_grid/internal/pkg/msg"
	"github.com/ohowland/colony_grid/internal/pkg/power"
)

var (
	// ErrUnknownKind is returned when asked to build a device of an unknown kind.
	ErrUnknownKind = errors.New("root: unknown device kind")
	// ErrUnknownDevice is returned when a command names a device the system does not own.
	ErrUnknownDevice = errors.New("root: unknown device")
	// ErrDuplicateDevice is returned when a new device reuses a name.
	ErrDuplicateDevice = errors.New("root: duplicate device name")
	// ErrNotSwitchable is returned when switching a device that does not consume power.
	ErrNotSwitchable = errors.New("root: device cannot be switched")
)

const publisherBuffer = 64

// System is the root node of the colony
type System struct {
	mux       *sync.RWMutex
	pid       uuid.UUID
	registry  *power.Registry
	publisher *msg.PubSub
	interval  time.Duration
	clock     func() time.Time
	readers   func(meter.Config) meter.Reader
	requests  chan request

	// owned by the loop
	devices map[string]asset.Device
	order   []string
	meters  []*meter.Asset
	ticks   uint64
	last    map[uuid.UUID]power.Status

	// guarded by mux
	snapshot Snapshot
}

type request struct {
	fn   func() error
	done chan error
}

// Snapshot is a read-only view of the colony after the last tick or command.
type Snapshot struct {
	Tick     uint64         `json:"Tick"`
	Time     time.Time      `json:"Time"`
	Networks []Network      `json:"Networks"`
	Devices  []asset.Status `json:"Devices"`
}

// Network is a network's last status and the names of its members.
type Network struct {
	power.Status
	Members []string `json:"Members"`
}

// Option configures a System.
type Option func(*System)

// WithClock sets the clock read by solar arrays.
func WithClock(clock func() time.Time) Option {
	return func(s *System) {
		s.clock = clock
	}
}

// WithMeterReaders replaces the Modbus poller that meters dial by default.
func WithMeterReaders(f func(meter.Config) meter.Reader) Option {
	return func(s *System) {
		s.readers = f
	}
}

// NewSystem builds every configured device and applies the configured links.
func NewSystem(cfg *config.Config, opts ...Option) (*System, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	s := &System{
		mux:       &sync.RWMutex{},
		pid:       pid,
		publisher: msg.NewPublisher(pid, publisherBuffer),
		interval:  cfg.Interval,
		clock:     time.Now,
		readers:   func(meter.Config) meter.Reader { return nil },
		requests:  make(chan request),
		devices:   make(map[string]asset.Device),
		last:      make(map[uuid.UUID]power.Status),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry, err = power.NewRegistry(cfg.Step.Seconds(),
		power.WithShedPolicy(shedPolicy(cfg.Shed)),
		power.WithPublisher(s.publisher))
	if err != nil {
		return nil, err
	}

	var errs error
	for _, d := range cfg.Devices {
		if _, err := s.addDevice(d.Kind, d.Decode); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("device %q: %w", d.Name, err))
		}
	}
	if errs != nil {
		return nil, errs
	}
	for _, link := range cfg.Links {
		if len(link) != 2 {
			return nil, fmt.Errorf("%w: link %v", config.ErrInvalid, link)
		}
		if err := s.link(link[0], link[1]); err != nil {
			return nil, fmt.Errorf("link %v-%v: %w", link[0], link[1], err)
		}
	}

	s.refresh()
	log.WithFields(log.Fields{
		"devices":  len(s.devices),
		"networks": s.registry.Len(),
	}).Info("[System] colony built")
	return s, nil
}

func shedPolicy(name string) power.ShedPolicy {
	switch name {
	case config.ShedLargestFirst:
		return power.LargestFirst
	case config.ShedSmallestFirst:
		return power.SmallestFirst
	}
	return power.MembershipOrder
}

// PID is the system identifier and the sender of every published message.
func (s *System) PID() uuid.UUID {
	return s.pid
}

// Subscribe returns a channel on which the specified topic is broadcast
func (s *System) Subscribe(pid uuid.UUID, topic msg.Topic) (<-chan msg.Msg, error) {
	return s.publisher.Subscribe(pid, topic)
}

// Unsubscribe pid from all topic broadcasts
func (s *System) Unsubscribe(pid uuid.UUID) {
	s.publisher.Unsubscribe(pid)
}

// Snapshot returns the latest view of the colony.
func (s *System) Snapshot() Snapshot {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.snapshot
}

// Run ticks every interval until ctx is done, serving commands between ticks.
// Subscriber channels are closed on return.
func (s *System) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.publisher.Close()

	log.WithField("interval", s.interval).Info("[System] running")
	for {
		select {
		case <-ctx.Done():
			log.Info("[System] stopped")
			return ctx.Err()
		case req := <-s.requests:
			req.done <- req.fn()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// do runs fn on the loop, between ticks.
func (s *System) do(ctx context.Context, fn func() error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.done
}

// Step runs one tick immediately and returns the network statuses.
func (s *System) Step(ctx context.Context) ([]power.Status, error) {
	var statuses []power.Status
	err := s.do(ctx, func() error {
		statuses = s.tick(ctx)
		return nil
	})
	return statuses, err
}

// Link declares two devices electrically connected.
func (s *System) Link(ctx context.Context, a, b string) error {
	return s.do(ctx, func() error {
		if err := s.link(a, b); err != nil {
			return err
		}
		s.refresh()
		return nil
	})
}

// Unlink detaches a device from its network. The rest of the network stays together.
func (s *System) Unlink(ctx context.Context, name string) error {
	return s.do(ctx, func() error {
		d, ok := s.devices[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDevice, name)
		}
		if err := s.registry.Remove(d); err != nil {
			return err
		}
		s.refresh()
		return nil
	})
}

// Switch is a user-initiated power switch. A consumer switched on is
// energized the next time its network changes mode.
func (s *System) Switch(ctx context.Context, name string, on bool) error {
	return s.do(ctx, func() error {
		d, ok := s.devices[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDevice, name)
		}
		c, ok := d.(power.Consumer)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotSwitchable, name)
		}
		c.SetOn(on)
		log.WithField("device", name).Infof("[System] switched on: %v", on)
		s.refresh()
		return nil
	})
}

// AddDevice builds a device of kind from its JSON configuration.
func (s *System) AddDevice(ctx context.Context, kind string, jsonConfig []byte) (asset.Status, error) {
	var status asset.Status
	err := s.do(ctx, func() error {
		d, err := s.addDevice(kind, func(v interface{}) error {
			return json.Unmarshal(jsonConfig, v)
		})
		if err != nil {
			return err
		}
		status = d.Status()
		s.refresh()
		return nil
	})
	return status, err
}

// RemoveDevice detaches a device and forgets it.
func (s *System) RemoveDevice(ctx context.Context, name string) error {
	return s.do(ctx, func() error {
		d, ok := s.devices[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDevice, name)
		}
		if err := s.registry.Remove(d); err != nil {
			return err
		}
		delete(s.devices, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		if m, ok := d.(*meter.Asset); ok {
			for i, other := range s.meters {
				if other == m {
					s.meters = append(s.meters[:i], s.meters[i+1:]...)
					break
				}
			}
		}
		s.refresh()
		return nil
	})
}

func (s *System) link(a, b string) error {
	da, ok := s.devices[a]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, a)
	}
	db, ok := s.devices[b]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, b)
	}
	return s.registry.Attach(da, db)
}

func (s *System) addDevice(kind string, decode func(interface{}) error) (asset.Device, error) {
	d, err := s.build(kind, decode)
	if err != nil {
		return nil, err
	}
	if _, dup := s.devices[d.Name()]; dup {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateDevice, d.Name())
	}
	if m, ok := d.(*meter.Asset); ok {
		s.meters = append(s.meters, m)
	}
	s.devices[d.Name()] = d
	s.order = append(s.order, d.Name())
	log.WithFields(log.Fields{"device": d.Name(), "kind": kind}).Debug("[System] device added")
	return d, nil
}

func (s *System) build(kind string, decode func(interface{}) error) (asset.Device, error) {
	switch kind {
	case rtg.Kind:
		cfg := rtg.Config{}
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		a, err := rtg.New(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case pv.Kind:
		cfg := pv.Config{}
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		a, err := pv.New(cfg, s.clock)
		if err != nil {
			return nil, err
		}
		return a, nil
	case ess.BatteryKind:
		cfg := ess.Config{}
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		a, err := ess.New(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case ess.ChargerKind:
		cfg := ess.ChargerConfig{}
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		a, err := ess.NewCharger(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case feeder.Kind:
		cfg := feeder.Config{}
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		a, err := feeder.New(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case meter.Kind:
		cfg := meter.Config{}
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		a, err := meter.New(cfg, s.readers(cfg))
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// tick polls the meters, advances every network and refreshes the snapshot.
func (s *System) tick(ctx context.Context) []power.Status {
	for _, m := range s.meters {
		pctx, cancel := context.WithTimeout(ctx, s.interval)
		_ = m.Poll(pctx)
		cancel()
	}

	statuses := s.registry.Tick()
	s.ticks++
	for _, status := range statuses {
		s.last[status.PID] = status
	}
	s.refresh()
	return statuses
}

// refresh rebuilds the snapshot from loop-owned state.
func (s *System) refresh() {
	members := make(map[uuid.UUID][]string)
	devices := make([]asset.Status, 0, len(s.order))
	for _, name := range s.order {
		status := s.devices[name].Status()
		devices = append(devices, status)
		if status.Network != uuid.Nil {
			members[status.Network] = append(members[status.Network], name)
		}
	}

	networks := make([]Network, 0, s.registry.Len())
	for _, n := range s.registry.Networks() {
		status, ok := s.last[n.PID()]
		if !ok {
			status = power.Status{PID: n.PID(), Mode: n.Mode(), Previous: n.Mode()}
		}
		names := members[n.PID()]
		if names == nil {
			names = []string{}
		}
		sort.Strings(names)
		networks = append(networks, Network{Status: status, Members: names})
	}
	for pid := range s.last {
		if _, ok := s.registry.Network(pid); !ok {
			delete(s.last, pid)
		}
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	s.snapshot = Snapshot{
		Tick:     s.ticks,
		Time:     s.clock(),
		Networks: networks,
		Devices:  devices,
	}
}
