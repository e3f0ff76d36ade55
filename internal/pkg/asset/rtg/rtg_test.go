package rtg

import (
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"github.com/ohowland/colony_grid/internal/pkg/asset"
	"github.com/ohowland/colony_grid/internal/pkg/power"
)

func TestNewDefaultsGeneration(t *testing.T) {
	a, err := New(Config{Name: "rtg-1"})
	assert.NilError(t, err)
	assert.Equal(t, a.GenerationRate(), 130.0)
	assert.Assert(t, a.PID() != uuid.Nil)
	assert.Equal(t, a.NetworkID(), uuid.Nil)
}

func TestNewExplicitGeneration(t *testing.T) {
	zero := 0.0
	a, err := New(Config{Name: "rtg-cold", Generation: &zero})
	assert.NilError(t, err)
	assert.Equal(t, a.GenerationRate(), 0.0)
}

func TestNewRejectsBadConfig(t *testing.T) {
	neg := -1.0
	_, err := New(Config{Name: "rtg-1", Generation: &neg})
	assert.ErrorIs(t, err, ErrNegativeGeneration)

	_, err = New(Config{})
	assert.ErrorIs(t, err, asset.ErrEmptyName)
}

func TestRTGIsOnlyASupply(t *testing.T) {
	a, err := New(Config{Name: "rtg-1"})
	assert.NilError(t, err)

	var node power.Powerable = a
	_, isSupply := node.(power.Supply)
	_, isConsumer := node.(power.Consumer)
	_, isBattery := node.(power.Battery)
	assert.Assert(t, isSupply)
	assert.Assert(t, !isConsumer)
	assert.Assert(t, !isBattery)
}

func TestRTGPowersAHabitat(t *testing.T) {
	a, err := New(Config{Name: "rtg-1"})
	assert.NilError(t, err)
	hab := &habitat{Load: asset.NewLoad("hab", true), draw: 100}

	r, err := power.NewRegistry(1)
	assert.NilError(t, err)
	assert.NilError(t, r.Attach(a, hab))

	statuses := r.Tick()
	assert.Equal(t, statuses[0].Mode, power.Nominal)
	assert.Assert(t, hab.HasPower())
	assert.Equal(t, a.Status().Network, statuses[0].PID)
}

type habitat struct {
	asset.Node
	asset.Load
	draw float64
}

func (h *habitat) DrawRate() float64 { return h.draw }
