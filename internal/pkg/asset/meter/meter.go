// Package meter is an external supply, such as a wind turbine on its own
// controller, whose output is read over Modbus between ticks.
package meter

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ohowland/colony_grid/internal/pkg/asset"
	"github.com/ohowland/colony_grid/internal/pkg/comm/modbuscomm"
)

// Kind is the configuration name of the device.
const Kind = "meter"

// Reader reads registers from the metered device.
type Reader interface {
	Read(context.Context, []modbuscomm.Register) (map[string]float64, error)
}

// Config holds the meter configuration parameters
type Config struct {
	Name     string                  `json:"Name" yaml:"name"`
	Register modbuscomm.Register     `json:"Register" yaml:"register"`
	Modbus   modbuscomm.PollerConfig `json:"Modbus" yaml:"modbus"`
}

// Asset is a supply whose generation is the last value polled from its register.
type Asset struct {
	asset.Node
	mux        *sync.Mutex
	reader     Reader
	register   modbuscomm.Register
	generation float64
	polled     time.Time
	err        error
}

// New returns a configured Asset. A nil reader dials the configured Modbus target.
func New(cfg Config, reader Reader) (*Asset, error) {
	node, err := asset.NewNode(cfg.Name)
	if err != nil {
		return nil, err
	}
	if reader == nil {
		reader = modbuscomm.NewPoller(cfg.Modbus)
	}
	return &Asset{
		Node:     node,
		mux:      &sync.Mutex{},
		reader:   reader,
		register: cfg.Register,
	}, nil
}

// Kind is the device kind.
func (a *Asset) Kind() string {
	return Kind
}

// Poll refreshes the reading. A failed read zeroes the generation until the
// next good one.
func (a *Asset) Poll(ctx context.Context) error {
	values, err := a.reader.Read(ctx, []modbuscomm.Register{a.register})
	v, ok := values[a.register.Name]

	a.mux.Lock()
	defer a.mux.Unlock()
	a.polled = time.Now()
	if err != nil || !ok {
		if err == nil {
			err = modbuscomm.ErrUnknownRegister
		}
		log.WithField("meter", a.Name()).Warnf("[Meter] comm error: %v", err)
		a.generation = 0
		a.err = err
		return err
	}
	if v < 0 {
		v = 0
	}
	a.generation = v
	a.err = nil
	return nil
}

// GenerationRate is the last polled output.
func (a *Asset) GenerationRate() float64 {
	a.mux.Lock()
	defer a.mux.Unlock()
	return a.generation
}

// LastPoll returns when the meter was last polled and the error it produced.
func (a *Asset) LastPoll() (time.Time, error) {
	a.mux.Lock()
	defer a.mux.Unlock()
	return a.polled, a.err
}

// Status returns the device reading.
func (a *Asset) Status() asset.Status {
	generation := a.GenerationRate()
	_, err := a.LastPoll()
	return asset.Status{
		PID:        a.PID(),
		Name:       a.Name(),
		Kind:       Kind,
		Network:    a.NetworkID(),
		Generation: generation,
		On:         true,
		Powered:    err == nil,
	}
}
