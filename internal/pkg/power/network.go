package power

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Mode is the operating state of a network. Lower values are more severe.
//
// BatteryRecharge is reported only while some battery can take charge. A
// network with no batteries, or with every battery full, reports Nominal on a
// surplus and never BatteryRecharge.
type Mode int

// Operating modes.
const (
	Unknown         Mode = -99
	Blackout        Mode = -3
	Brownout        Mode = -2
	BatteryDrain    Mode = -1
	Nominal         Mode = 0
	BatteryRecharge Mode = 1
)

var modeNames = map[Mode]string{
	Unknown:         "Unknown",
	Blackout:        "Blackout",
	Brownout:        "Brownout",
	BatteryDrain:    "BatteryDrain",
	Nominal:         "Nominal",
	BatteryRecharge: "BatteryRecharge",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMode returns the Mode named s.
func ParseMode(s string) (Mode, error) {
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	return Unknown, fmt.Errorf("power: unknown mode %q", s)
}

// ShedPolicy orders consumers for brownout load shedding. It receives a copy of
// the membership list and must return a permutation (or subset) of it.
type ShedPolicy func([]Consumer) []Consumer

// MembershipOrder sheds consumers in the order they joined the network.
func MembershipOrder(consumers []Consumer) []Consumer {
	return consumers
}

// LargestFirst sheds the heaviest consumers first. Ties keep membership order.
func LargestFirst(consumers []Consumer) []Consumer {
	sort.SliceStable(consumers, func(i, j int) bool {
		return consumers[i].DrawRate() > consumers[j].DrawRate()
	})
	return consumers
}

// SmallestFirst sheds the lightest consumers first. Ties keep membership order.
func SmallestFirst(consumers []Consumer) []Consumer {
	sort.SliceStable(consumers, func(i, j int) bool {
		return consumers[i].DrawRate() < consumers[j].DrawRate()
	})
	return consumers
}

// Status is the result of one network tick. Energy quantities are per step.
// A Nominal status with a positive Surplus is generation that no battery
// could store.
type Status struct {
	PID       uuid.UUID `json:"PID"`
	Tick      uint64    `json:"Tick"`
	Mode      Mode      `json:"Mode"`
	Previous  Mode      `json:"Previous"`
	Capacity  float64   `json:"Capacity"`
	Load      float64   `json:"Load"`
	Reserve   float64   `json:"Reserve"`
	Surplus   float64   `json:"Surplus"`
	Deficit   float64   `json:"Deficit"`
	Headroom  float64   `json:"Headroom"`
	Supplies  int       `json:"Supplies"`
	Consumers int       `json:"Consumers"`
	Batteries int       `json:"Batteries"`
	Shed      int       `json:"Shed"`
}

// Changed reports whether the tick moved the network into a new mode.
func (s Status) Changed() bool {
	return s.Mode != s.Previous
}

// Network is one electrically connected group of devices.
type Network struct {
	pid       uuid.UUID
	mode      Mode
	ticks     uint64
	supplies  []Supply
	consumers []Consumer
	batteries []Battery
	roles     map[Powerable]role
	shed      ShedPolicy
}

func newNetwork(shed ShedPolicy) (*Network, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	if shed == nil {
		shed = MembershipOrder
	}
	return &Network{
		pid:   pid,
		mode:  Unknown,
		roles: make(map[Powerable]role),
		shed:  shed,
	}, nil
}

// PID is the network's unique identifier.
func (n *Network) PID() uuid.UUID {
	return n.pid
}

// Mode is the mode selected by the most recent tick.
func (n *Network) Mode() Mode {
	return n.mode
}

// Len is the number of distinct member nodes.
func (n *Network) Len() int {
	return len(n.roles)
}

// Supplies returns a copy of the supply membership list.
func (n *Network) Supplies() []Supply {
	return append([]Supply(nil), n.supplies...)
}

// Consumers returns a copy of the consumer membership list.
func (n *Network) Consumers() []Consumer {
	return append([]Consumer(nil), n.consumers...)
}

// Batteries returns a copy of the battery membership list.
func (n *Network) Batteries() []Battery {
	return append([]Battery(nil), n.batteries...)
}

// Members returns every distinct member: supplies, then consumers, then
// batteries that are not also consumers.
func (n *Network) Members() []Powerable {
	members := make([]Powerable, 0, len(n.roles))
	for _, s := range n.supplies {
		members = append(members, s)
	}
	for _, c := range n.consumers {
		members = append(members, c)
	}
	for _, b := range n.batteries {
		if n.roles[b].has(roleConsumer) {
			continue
		}
		members = append(members, b)
	}
	return members
}

// Contains reports whether node is a member of this network.
func (n *Network) Contains(node Powerable) bool {
	_, ok := n.roles[node]
	return ok
}

func (n *Network) add(node Powerable) error {
	if n.Contains(node) {
		return nil
	}
	r, conflict := resolveRoles(node)
	if r == 0 {
		return ErrNoCapability
	}
	if conflict {
		log.WithField("network", n.pid).Warnf("[Network] node %p is both supply and consumer; registering as supply", node)
	}

	if r.has(roleSupply) {
		n.supplies = append(n.supplies, node.(Supply))
	}
	if r.has(roleConsumer) {
		n.consumers = append(n.consumers, node.(Consumer))
	}
	if r.has(roleBattery) {
		n.batteries = append(n.batteries, node.(Battery))
	}
	n.roles[node] = r
	node.SetNetworkID(n.pid)
	return nil
}

func (n *Network) remove(node Powerable) {
	r, ok := n.roles[node]
	if !ok {
		return
	}
	if r.has(roleSupply) {
		n.supplies = removeNode(n.supplies, node)
	}
	if r.has(roleConsumer) {
		n.consumers = removeNode(n.consumers, node)
	}
	if r.has(roleBattery) {
		n.batteries = removeNode(n.batteries, node)
	}
	delete(n.roles, node)
	node.SetNetworkID(uuid.Nil)
}

func removeNode[T Powerable](list []T, node Powerable) []T {
	for i, member := range list {
		if Powerable(member) == node {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// absorb moves every member of donor into n. Back-references are rewritten
// before the membership lists are appended; donor is left empty.
func (n *Network) absorb(donor *Network) {
	for node := range donor.roles {
		node.SetNetworkID(n.pid)
	}

	n.supplies = append(n.supplies, donor.supplies...)
	n.consumers = append(n.consumers, donor.consumers...)
	n.batteries = append(n.batteries, donor.batteries...)
	for node, r := range donor.roles {
		n.roles[node] = r
	}

	donor.supplies = nil
	donor.consumers = nil
	donor.batteries = nil
	donor.roles = make(map[Powerable]role)
}

// selectMode picks the operating mode for one step. Comparisons are exact.
// When capacity exceeds load but no battery can absorb the surplus the network
// is Nominal rather than recharging.
func selectMode(capacity, load, reserve, headroom float64) Mode {
	surplus := capacity - load
	deficit := load - capacity
	switch {
	case capacity+reserve == 0:
		return Blackout
	case capacity > load:
		if surplus == 0 || headroom == 0 {
			return Nominal
		}
		return BatteryRecharge
	case capacity+reserve > deficit:
		return BatteryDrain
	default:
		return Brownout
	}
}

// Tick advances the network by one step of length dt.
func (n *Network) Tick(dt float64) Status {
	n.ticks++

	var capacity, load, reserve, headroom float64
	for _, s := range n.supplies {
		capacity += math.Max(0, s.GenerationRate())
	}
	capacity *= dt
	for _, c := range n.consumers {
		if c.IsOn() {
			load += math.Max(0, c.DrawRate())
		}
	}
	load *= dt
	for _, b := range n.batteries {
		store := b.Store()
		reserve += store.Amount()
		headroom += store.Headroom()
	}

	surplus := capacity - load
	deficit := load - capacity

	previous := n.mode
	next := selectMode(capacity, load, reserve, headroom)
	shed := 0

	if next != previous {
		n.mode = next
		log.WithFields(log.Fields{
			"network":  n.pid,
			"from":     previous,
			"capacity": capacity,
			"load":     load,
			"reserve":  reserve,
		}).Infof("[Network] power is now: %v", next)

		switch next {
		case Blackout:
			for _, c := range n.consumers {
				EmergencyShutdown(c)
			}
			load = 0
			surplus = 0
		case Brownout:
			shed, deficit = n.brownout(capacity, reserve, deficit, dt)
		case BatteryDrain, Nominal, BatteryRecharge:
			TurnOnPower(n.consumers)
		}
	}

	switch n.mode {
	case BatteryRecharge:
		n.recharge(surplus)
	case BatteryDrain:
		n.drain(deficit)
	}

	return Status{
		PID:       n.pid,
		Tick:      n.ticks,
		Mode:      n.mode,
		Previous:  previous,
		Capacity:  capacity,
		Load:      load,
		Reserve:   reserve,
		Surplus:   surplus,
		Deficit:   deficit,
		Headroom:  headroom,
		Supplies:  len(n.supplies),
		Consumers: len(n.consumers),
		Batteries: len(n.batteries),
		Shed:      shed,
	}
}

// brownout sheds running consumers until capacity plus reserve exceeds the
// remaining deficit. Consumers left running may be shed on a later tick.
func (n *Network) brownout(capacity, reserve, deficit, dt float64) (int, float64) {
	shed := 0
	order := n.shed(append([]Consumer(nil), n.consumers...))
	for _, c := range order {
		if !c.IsOn() {
			continue
		}
		draw := math.Max(0, c.DrawRate()) * dt
		EmergencyShutdown(c)
		shed++
		deficit -= draw
		log.WithField("network", n.pid).Debugf("[Network] shed consumer %p (%v)", c, draw)

		if capacity+reserve > deficit {
			break
		}
	}
	return shed, deficit
}

func (n *Network) recharge(surplus float64) {
	remaining := surplus
	for _, b := range n.batteries {
		remaining = b.Store().Push(remaining)
		if remaining <= 0 {
			break
		}
	}
}

func (n *Network) drain(deficit float64) {
	remaining := deficit
	for _, b := range n.batteries {
		remaining -= b.Store().Pull(remaining)
		if remaining <= 0 {
			break
		}
	}
}
