/*
Package power models electrical networks of generators, consumers and batteries.

Devices take part by implementing one or more capability contracts. A Registry
owns every Network; callers declare wiring with Registry.Attach and advance the
simulation with Registry.Tick.
*/
package power

import (
	"github.com/google/uuid"
)

// Powerable is the network membership contract shared by every device.
// uuid.Nil means the device belongs to no network. Implementations must be
// comparable, in practice pointers, since networks index members by identity.
type Powerable interface {
	NetworkID() uuid.UUID
	SetNetworkID(uuid.UUID)
}

// Supply generates power every step.
type Supply interface {
	Powerable
	GenerationRate() float64
}

// Consumer draws power and can be switched on and off.
type Consumer interface {
	Powerable
	DrawRate() float64
	IsOn() bool
	SetOn(bool)
	HasPower() bool
	SetHasPower(bool)
	// OnPowerChanged is called whenever HasPower flips.
	OnPowerChanged()
	// OnEmergencyShutdown is called when the network forces a running consumer off.
	OnEmergencyShutdown()
}

// Store is a bounded energy reservoir.
type Store interface {
	// Push offers n units and returns what could not be absorbed.
	Push(n float64) float64
	// Pull requests n units and returns what was supplied.
	Pull(n float64) float64
	Amount() float64
	Headroom() float64
}

// Battery exposes a chargeable store.
type Battery interface {
	Powerable
	Store() Store
}

type role uint8

const (
	roleSupply role = 1 << iota
	roleConsumer
	roleBattery
)

func (r role) has(o role) bool { return r&o != 0 }

// resolveRoles inspects a node once, at registration. Supply takes precedence
// over Consumer; Battery is additive.
func resolveRoles(n Powerable) (r role, conflict bool) {
	_, isSupply := n.(Supply)
	_, isConsumer := n.(Consumer)
	if _, ok := n.(Battery); ok {
		r |= roleBattery
	}
	switch {
	case isSupply:
		r |= roleSupply
		conflict = isConsumer
	case isConsumer:
		r |= roleConsumer
	}
	return r, conflict
}

// HasNetwork reports whether the node belongs to a network.
func HasNetwork(n Powerable) bool {
	return n.NetworkID() != uuid.Nil
}

// TurnOnPower energizes every consumer that is not currently powered.
func TurnOnPower(consumers []Consumer) {
	for _, c := range consumers {
		if !c.HasPower() {
			c.SetHasPower(true)
			c.OnPowerChanged()
		}
	}
}

// EmergencyShutdown de-energizes c and switches it off, notifying it of each change.
func EmergencyShutdown(c Consumer) {
	if c.HasPower() {
		c.SetHasPower(false)
		c.OnPowerChanged()
	}
	if c.IsOn() {
		c.SetOn(false)
		c.OnEmergencyShutdown()
	}
}
