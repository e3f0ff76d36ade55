// Package energy provides a bounded energy reservoir used by battery devices.
package energy

import (
	"errors"
	"sync"
)

// ErrInvalidCapacity is returned when a container is configured with a negative capacity
// or an initial amount outside [0, capacity].
var ErrInvalidCapacity = errors.New("energy: invalid capacity")

// Container is a bounded store of energy. Push and Pull never observe or
// produce negative quantities.
type Container struct {
	mux      *sync.Mutex
	capacity float64
	amount   float64
}

// New returns a Container holding amount units out of capacity.
func New(capacity, amount float64) (*Container, error) {
	if capacity < 0 || amount < 0 || amount > capacity {
		return nil, ErrInvalidCapacity
	}
	return &Container{
		mux:      &sync.Mutex{},
		capacity: capacity,
		amount:   amount,
	}, nil
}

// Push offers n units to the container. It returns the part of the offer that
// could not be absorbed.
func (c *Container) Push(n float64) float64 {
	if n <= 0 {
		return 0
	}
	c.mux.Lock()
	defer c.mux.Unlock()

	room := c.capacity - c.amount
	if n <= room {
		c.amount += n
		return 0
	}
	c.amount = c.capacity
	return n - room
}

// Pull requests n units from the container. It returns the amount actually supplied.
func (c *Container) Pull(n float64) float64 {
	if n <= 0 {
		return 0
	}
	c.mux.Lock()
	defer c.mux.Unlock()

	if n <= c.amount {
		c.amount -= n
		return n
	}
	supplied := c.amount
	c.amount = 0
	return supplied
}

// Amount is the energy currently stored.
func (c *Container) Amount() float64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.amount
}

// Capacity is the upper bound of the store.
func (c *Container) Capacity() float64 {
	return c.capacity
}

// Headroom is the energy the container can still absorb.
func (c *Container) Headroom() float64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.capacity - c.amount
}

// SOC is the state of charge in [0, 1]. An empty-capacity container reports 0.
func (c *Container) SOC() float64 {
	if c.capacity == 0 {
		return 0
	}
	return c.Amount() / c.capacity
}
