package power

import (
	"github.com/google/uuid"

	"github.com/ohowland/colony_grid/internal/pkg/energy"
)

type node struct {
	name string
	pid  uuid.UUID
}

func (n *node) NetworkID() uuid.UUID { return n.pid }
func (n *node) SetNetworkID(pid uuid.UUID) { n.pid = pid }

type fakeSupply struct {
	node
	rate float64
}

func newSupply(name string, rate float64) *fakeSupply {
	return &fakeSupply{node: node{name: name}, rate: rate}
}

func (s *fakeSupply) GenerationRate() float64 { return s.rate }

type fakeConsumer struct {
	node
	draw       float64
	on         bool
	powered    bool
	changed    int
	shutdowns  int
	onShutdown func()
}

func newConsumer(name string, draw float64, on bool) *fakeConsumer {
	return &fakeConsumer{node: node{name: name}, draw: draw, on: on}
}

func (c *fakeConsumer) DrawRate() float64 { return c.draw }
func (c *fakeConsumer) IsOn() bool { return c.on }
func (c *fakeConsumer) SetOn(on bool) { c.on = on }
func (c *fakeConsumer) HasPower() bool { return c.powered }
func (c *fakeConsumer) SetHasPower(p bool) { c.powered = p }
func (c *fakeConsumer) OnPowerChanged() { c.changed++ }
func (c *fakeConsumer) OnEmergencyShutdown() {
	c.shutdowns++
	if c.onShutdown != nil {
		c.onShutdown()
	}
}

type fakeBattery struct {
	node
	store *energy.Container
}

func newBattery(name string, capacity, stored float64) *fakeBattery {
	store, err := energy.New(capacity, stored)
	if err != nil {
		panic(err)
	}
	return &fakeBattery{node: node{name: name}, store: store}
}

func (b *fakeBattery) Store() Store { return b.store }

// fakeCharger both consumes and stores.
type fakeCharger struct {
	fakeConsumer
	store *energy.Container
}

func newCharger(name string, draw, capacity float64) *fakeCharger {
	store, err := energy.New(capacity, 0)
	if err != nil {
		panic(err)
	}
	return &fakeCharger{
		fakeConsumer: fakeConsumer{node: node{name: name}, draw: draw, on: true},
		store:        store,
	}
}

func (c *fakeCharger) Store() Store { return c.store }

// fakeHybrid claims both supply and consumer roles.
type fakeHybrid struct {
	fakeConsumer
	rate float64
}

func (h *fakeHybrid) GenerationRate() float64 { return h.rate }

// inert implements only Powerable.
type inert struct{ node }

func names(nodes ...Powerable) map[string]bool {
	set := make(map[string]bool)
	for _, n := range nodes {
		switch v := n.(type) {
		case *fakeSupply:
			set[v.name] = true
		case *fakeConsumer:
			set[v.name] = true
		case *fakeBattery:
			set[v.name] = true
		case *fakeCharger:
			set[v.name] = true
		case *fakeHybrid:
			set[v.name] = true
		}
	}
	return set
}

func memberNames(n *Network) map[string]bool {
	return names(n.Members()...)
}
