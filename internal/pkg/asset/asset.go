// Package asset holds the identity, network back-reference and switch state
// shared by every colony device.
package asset

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ohowland/colony_grid/internal/pkg/power"
)

var (
	// ErrEmptyName is returned when a device is configured without a name.
	ErrEmptyName = errors.New("asset: device name is empty")
	// ErrNegativeDraw is returned for a consumer configured with a negative draw.
	ErrNegativeDraw = errors.New("asset: draw must not be negative")
)

// Identifier names a device.
type Identifier interface {
	PID() uuid.UUID
	Name() string
}

// Device is a colony device owned by the host.
type Device interface {
	Identifier
	power.Powerable
	Kind() string
	Status() Status
}

// Status is an observer's view of a device.
type Status struct {
	PID        uuid.UUID `json:"PID"`
	Name       string    `json:"Name"`
	Kind       string    `json:"Kind"`
	Network    uuid.UUID `json:"Network"`
	Generation float64   `json:"Generation"`
	Draw       float64   `json:"Draw"`
	On         bool      `json:"On"`
	Powered    bool      `json:"Powered"`
	Stored     float64   `json:"Stored"`
	Capacity   float64   `json:"Capacity"`
	// Sunrise and Sunset are set for solar devices.
	Sunrise *time.Time `json:"Sunrise,omitempty"`
	Sunset  *time.Time `json:"Sunset,omitempty"`
}

// Node carries a device's identity and its network back-reference.
type Node struct {
	pid     uuid.UUID
	name    string
	network uuid.UUID
}

// NewNode returns a Node with a fresh PID.
func NewNode(name string) (Node, error) {
	if name == "" {
		return Node{}, ErrEmptyName
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return Node{}, err
	}
	return Node{pid: pid, name: name}, nil
}

// PID is a getter for the device PID
func (n *Node) PID() uuid.UUID {
	return n.pid
}

// Name is a getter for the device name
func (n *Node) Name() string {
	return n.name
}

// NetworkID is the network the device belongs to, or uuid.Nil.
func (n *Node) NetworkID() uuid.UUID {
	return n.network
}

// SetNetworkID is called by the registry when membership changes.
func (n *Node) SetNetworkID(pid uuid.UUID) {
	n.network = pid
}

// Load is the switch and power state of a consuming device. It implements
// every power.Consumer method except DrawRate.
type Load struct {
	mux       *sync.Mutex
	name      string
	on        bool
	powered   bool
	changes   int
	shutdowns int
}

// NewLoad returns a Load that starts unpowered.
func NewLoad(name string, on bool) Load {
	return Load{mux: &sync.Mutex{}, name: name, on: on}
}

// IsOn reports the user's intent to run the device.
func (l *Load) IsOn() bool {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.on
}

// SetOn is a user-initiated switch; it leaves HasPower alone.
func (l *Load) SetOn(on bool) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.on = on
}

// HasPower reports whether the device is energized.
func (l *Load) HasPower() bool {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.powered
}

// SetHasPower is driven by the network.
func (l *Load) SetHasPower(p bool) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.powered = p
}

// OnPowerChanged counts power flips.
func (l *Load) OnPowerChanged() {
	l.mux.Lock()
	l.changes++
	powered := l.powered
	l.mux.Unlock()
	log.Debugf("[%v] powered: %v", l.name, powered)
}

// OnEmergencyShutdown counts forced shutdowns.
func (l *Load) OnEmergencyShutdown() {
	l.mux.Lock()
	l.shutdowns++
	l.mux.Unlock()
	log.Infof("[%v] emergency shutdown", l.name)
}

// PowerChanges is the number of times the device was energized or de-energized.
func (l *Load) PowerChanges() int {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.changes
}

// Shutdowns is the number of emergency shutdowns the device has seen.
func (l *Load) Shutdowns() int {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.shutdowns
}
