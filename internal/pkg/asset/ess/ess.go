// Package ess provides energy storage devices: a battery bank, and a charger
// dock that draws power and stores it.
package ess

import (
	"github.com/ohowland/colony_grid/internal/pkg/asset"
	"github.com/ohowland/colony_grid/internal/pkg/energy"
	"github.com/ohowland/colony_grid/internal/pkg/power"
)

// Device kinds.
const (
	BatteryKind = "battery"
	ChargerKind = "charger"
)

// Config holds the battery configuration parameters
type Config struct {
	Name     string  `json:"Name" yaml:"name"`
	Capacity float64 `json:"Capacity" yaml:"capacity"`
	Stored   float64 `json:"Stored" yaml:"stored"`
}

// Asset is a battery bank.
type Asset struct {
	asset.Node
	store *energy.Container
}

// New returns a configured Asset
func New(cfg Config) (*Asset, error) {
	node, err := asset.NewNode(cfg.Name)
	if err != nil {
		return nil, err
	}
	store, err := energy.New(cfg.Capacity, cfg.Stored)
	if err != nil {
		return nil, err
	}
	return &Asset{Node: node, store: store}, nil
}

// Kind is the device kind.
func (a *Asset) Kind() string {
	return BatteryKind
}

// Store is the bank's energy reservoir.
func (a *Asset) Store() power.Store {
	return a.store
}

// SOC is the state of charge, 0 to 1.
func (a *Asset) SOC() float64 {
	return a.store.SOC()
}

// Status returns the device reading.
func (a *Asset) Status() asset.Status {
	return asset.Status{
		PID:      a.PID(),
		Name:     a.Name(),
		Kind:     BatteryKind,
		Network:  a.NetworkID(),
		On:       true,
		Powered:  true,
		Stored:   a.store.Amount(),
		Capacity: a.store.Capacity(),
	}
}

// ChargerConfig holds the charger configuration parameters
type ChargerConfig struct {
	Name     string  `json:"Name" yaml:"name"`
	Draw     float64 `json:"Draw" yaml:"draw"`
	Capacity float64 `json:"Capacity" yaml:"capacity"`
	Stored   float64 `json:"Stored" yaml:"stored"`
	On       bool    `json:"On" yaml:"on"`
}

// Charger is a dock that consumes power to run and holds its own reservoir.
// The network counts it once as a consumer and once as a battery.
type Charger struct {
	asset.Node
	asset.Load
	draw  float64
	store *energy.Container
}

// NewCharger returns a configured Charger
func NewCharger(cfg ChargerConfig) (*Charger, error) {
	node, err := asset.NewNode(cfg.Name)
	if err != nil {
		return nil, err
	}
	if cfg.Draw < 0 {
		return nil, asset.ErrNegativeDraw
	}
	store, err := energy.New(cfg.Capacity, cfg.Stored)
	if err != nil {
		return nil, err
	}
	return &Charger{
		Node:  node,
		Load:  asset.NewLoad(cfg.Name, cfg.On),
		draw:  cfg.Draw,
		store: store,
	}, nil
}

// Kind is the device kind.
func (c *Charger) Kind() string {
	return ChargerKind
}

// DrawRate is the dock's running draw.
func (c *Charger) DrawRate() float64 {
	return c.draw
}

// Store is the dock's energy reservoir.
func (c *Charger) Store() power.Store {
	return c.store
}

// Status returns the device reading.
func (c *Charger) Status() asset.Status {
	return asset.Status{
		PID:      c.PID(),
		Name:     c.Name(),
		Kind:     ChargerKind,
		Network:  c.NetworkID(),
		Draw:     c.draw,
		On:       c.IsOn(),
		Powered:  c.HasPower(),
		Stored:   c.store.Amount(),
		Capacity: c.store.Capacity(),
	}
}
