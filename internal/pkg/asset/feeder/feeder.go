// Package feeder is a switchable load: a habitat module, lamp, pump or any
// other device that only draws power.
package feeder

import (
	"github.com/ohowland/colony_grid/internal/pkg/asset"
)

// Kind is the configuration name of the device.
const Kind = "load"

// Config holds the feeder configuration parameters
type Config struct {
	Name string  `json:"Name" yaml:"name"`
	Draw float64 `json:"Draw" yaml:"draw"`
	On   bool    `json:"On" yaml:"on"`
}

// Asset is a data structure for a Feeder Asset
type Asset struct {
	asset.Node
	asset.Load
	config Config
}

// New returns a configured Asset
func New(cfg Config) (*Asset, error) {
	node, err := asset.NewNode(cfg.Name)
	if err != nil {
		return nil, err
	}
	if cfg.Draw < 0 {
		return nil, asset.ErrNegativeDraw
	}
	return &Asset{
		Node:   node,
		Load:   asset.NewLoad(cfg.Name, cfg.On),
		config: cfg,
	}, nil
}

// Kind is the device kind.
func (a *Asset) Kind() string {
	return Kind
}

// Config returns the feeder configuration.
func (a *Asset) Config() Config {
	return a.config
}

// DrawRate is the load while running.
func (a *Asset) DrawRate() float64 {
	return a.config.Draw
}

// Status returns the device reading.
func (a *Asset) Status() asset.Status {
	return asset.Status{
		PID:     a.PID(),
		Name:    a.Name(),
		Kind:    Kind,
		Network: a.NetworkID(),
		Draw:    a.config.Draw,
		On:      a.IsOn(),
		Powered: a.HasPower(),
	}
}
