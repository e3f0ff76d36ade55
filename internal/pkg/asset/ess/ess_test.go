package ess

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/ohowland/colony_grid/internal/pkg/asset"
	"github.com/ohowland/colony_grid/internal/pkg/energy"
	"github.com/ohowland/colony_grid/internal/pkg/power"
)

func TestNewBattery(t *testing.T) {
	a, err := New(Config{Name: "bank-1", Capacity: 5000, Stored: 2500})
	assert.NilError(t, err)
	assert.Equal(t, a.Kind(), BatteryKind)
	assert.Equal(t, a.SOC(), 0.5)

	status := a.Status()
	assert.Equal(t, status.Stored, 2500.0)
	assert.Equal(t, status.Capacity, 5000.0)
}

func TestNewBatteryRejectsOverfill(t *testing.T) {
	_, err := New(Config{Name: "bank-1", Capacity: 10, Stored: 20})
	assert.ErrorIs(t, err, energy.ErrInvalidCapacity)
}

func TestBatteryStoreIsBounded(t *testing.T) {
	a, err := New(Config{Name: "bank-1", Capacity: 100, Stored: 90})
	assert.NilError(t, err)

	assert.Equal(t, a.Store().Push(30), 20.0)
	assert.Equal(t, a.Store().Amount(), 100.0)
	assert.Equal(t, a.Store().Pull(150), 100.0)
	assert.Equal(t, a.Store().Amount(), 0.0)
}

func TestChargerHasConsumerAndBatteryRoles(t *testing.T) {
	c, err := NewCharger(ChargerConfig{Name: "dock-1", Draw: 20, Capacity: 800, On: true})
	assert.NilError(t, err)

	var node power.Powerable = c
	_, isSupply := node.(power.Supply)
	_, isConsumer := node.(power.Consumer)
	_, isBattery := node.(power.Battery)
	assert.Assert(t, !isSupply)
	assert.Assert(t, isConsumer)
	assert.Assert(t, isBattery)
}

func TestNewChargerRejectsNegativeDraw(t *testing.T) {
	_, err := NewCharger(ChargerConfig{Name: "dock-1", Draw: -1, Capacity: 1})
	assert.ErrorIs(t, err, asset.ErrNegativeDraw)
}

func TestChargerFillsFromSurplus(t *testing.T) {
	c, err := NewCharger(ChargerConfig{Name: "dock-1", Draw: 20, Capacity: 800, On: true})
	assert.NilError(t, err)
	bank, err := New(Config{Name: "bank-1", Capacity: 100})
	assert.NilError(t, err)
	gen := &supply{rate: 100}

	r, err := power.NewRegistry(1)
	assert.NilError(t, err)
	assert.NilError(t, r.Attach(gen, c))
	assert.NilError(t, r.Attach(c, bank))

	status := r.Tick()[0]
	assert.Equal(t, status.Mode, power.BatteryRecharge)
	assert.Equal(t, status.Load, 20.0)
	assert.Assert(t, c.HasPower())
	// the charger joined first, so it is offered the surplus first.
	assert.Equal(t, c.Store().Amount(), 80.0)
	assert.Equal(t, bank.Store().Amount(), 0.0)
}

func TestChargerShutdownKeepsCharge(t *testing.T) {
	c, err := NewCharger(ChargerConfig{Name: "dock-1", Draw: 20, Capacity: 800, Stored: 10, On: true})
	assert.NilError(t, err)

	r, err := power.NewRegistry(1)
	assert.NilError(t, err)
	assert.NilError(t, r.Attach(c, c))

	// reserve 10 cannot cover a deficit of 20.
	status := r.Tick()[0]
	assert.Equal(t, status.Mode, power.Brownout)
	assert.Assert(t, !c.IsOn())
	assert.Equal(t, c.Shutdowns(), 1)
	assert.Equal(t, c.Store().Amount(), 10.0)
}

type supply struct {
	asset.Node
	rate float64
}

func (s *supply) GenerationRate() float64 { return s.rate }
