// Package rtg is a radioisotope thermoelectric generator: a supply with
// constant output and no moving parts.
package rtg

import (
	"errors"

	"github.com/ohowland/colony_grid/internal/pkg/asset"
)

// Kind is the configuration name of the device.
const Kind = "rtg"

// DefaultGeneration is the output of a stock generator, per unit of step.
const DefaultGeneration = 130

// ErrNegativeGeneration is returned for a generator configured below zero.
var ErrNegativeGeneration = errors.New("rtg: generation must not be negative")

// Config holds the RTG configuration parameters
type Config struct {
	Name       string   `json:"Name" yaml:"name"`
	Generation *float64 `json:"Generation,omitempty" yaml:"generation,omitempty"`
}

// Asset is a constant-output supply.
type Asset struct {
	asset.Node
	generation float64
}

// New returns a configured Asset. A missing Generation means DefaultGeneration.
func New(cfg Config) (*Asset, error) {
	node, err := asset.NewNode(cfg.Name)
	if err != nil {
		return nil, err
	}
	generation := float64(DefaultGeneration)
	if cfg.Generation != nil {
		generation = *cfg.Generation
	}
	if generation < 0 {
		return nil, ErrNegativeGeneration
	}
	return &Asset{Node: node, generation: generation}, nil
}

// Kind is the device kind.
func (a *Asset) Kind() string {
	return Kind
}

// GenerationRate never varies.
func (a *Asset) GenerationRate() float64 {
	return a.generation
}

// Status returns the device reading.
func (a *Asset) Status() asset.Status {
	return asset.Status{
		PID:        a.PID(),
		Name:       a.Name(),
		Kind:       Kind,
		Network:    a.NetworkID(),
		Generation: a.generation,
		On:         true,
		Powered:    true,
	}
}
