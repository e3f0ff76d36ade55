package power

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/ohowland/colony_grid/internal/pkg/msg"
)

var (
	// ErrNilNode is returned when a nil node is passed to the registry.
	ErrNilNode = errors.New("power: nil node")
	// ErrNoCapability is returned for nodes that are neither supply, consumer nor battery.
	ErrNoCapability = errors.New("power: node implements no power capability")
	// ErrUnknownNetwork is returned when a node references a network the registry does not hold.
	ErrUnknownNetwork = errors.New("power: node references unknown network")
	// ErrNotMember is returned when a node references a network that does not contain it.
	ErrNotMember = errors.New("power: node is not a member of its referenced network")
	// ErrTickInProgress is returned when wiring changes are requested from inside a tick.
	ErrTickInProgress = errors.New("power: membership change during tick")
	// ErrInvalidStep is returned for a non-positive step duration.
	ErrInvalidStep = errors.New("power: step must be positive")
)

// Registry owns every network, keyed by network id. It is not safe for
// concurrent use: Attach, Remove and Tick must be serialized by the caller.
type Registry struct {
	pid       uuid.UUID
	step      float64
	networks  map[uuid.UUID]*Network
	shed      ShedPolicy
	publisher *msg.PubSub
	ticking   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithShedPolicy sets the brownout shedding order for networks created by the registry.
func WithShedPolicy(p ShedPolicy) Option {
	return func(r *Registry) {
		r.shed = p
	}
}

// WithPublisher publishes tick results and membership changes on p.
func WithPublisher(p *msg.PubSub) Option {
	return func(r *Registry) {
		r.publisher = p
	}
}

// NewRegistry returns an empty registry whose networks advance by step per tick.
func NewRegistry(step float64, opts ...Option) (*Registry, error) {
	if step <= 0 {
		return nil, ErrInvalidStep
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		pid:      pid,
		step:     step,
		networks: make(map[uuid.UUID]*Network),
		shed:     MembershipOrder,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// PID is the registry's identifier, used as the sender of published messages.
func (r *Registry) PID() uuid.UUID {
	return r.pid
}

// Step is the fixed step duration passed to every network tick.
func (r *Registry) Step() float64 {
	return r.step
}

// Len is the number of registered networks.
func (r *Registry) Len() int {
	return len(r.networks)
}

// Network returns the network with the given id.
func (r *Registry) Network(pid uuid.UUID) (*Network, bool) {
	n, ok := r.networks[pid]
	return n, ok
}

// Networks returns every network ordered by id.
func (r *Registry) Networks() []*Network {
	list := make([]*Network, 0, len(r.networks))
	for _, n := range r.networks {
		list = append(list, n)
	}
	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i].pid[:], list[j].pid[:]) < 0
	})
	return list
}

// NetworkOf returns the network node belongs to, or nil if it is unattached.
func (r *Registry) NetworkOf(node Powerable) (*Network, error) {
	if node == nil {
		return nil, ErrNilNode
	}
	pid := node.NetworkID()
	if pid == uuid.Nil {
		return nil, nil
	}
	n, ok := r.networks[pid]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownNetwork, pid)
	}
	if !n.Contains(node) {
		return nil, fmt.Errorf("%w: %v", ErrNotMember, pid)
	}
	return n, nil
}

// Attach declares that a and b are electrically connected. Unattached nodes
// join the other node's network; two networks are merged into a's.
func (r *Registry) Attach(a, b Powerable) error {
	if r.ticking {
		return ErrTickInProgress
	}
	if a == nil || b == nil {
		return ErrNilNode
	}
	for _, node := range []Powerable{a, b} {
		if rl, _ := resolveRoles(node); rl == 0 {
			return ErrNoCapability
		}
	}

	netA, err := r.NetworkOf(a)
	if err != nil {
		return err
	}
	netB, err := r.NetworkOf(b)
	if err != nil {
		return err
	}

	switch {
	case netA != nil && netB != nil:
		if netA == netB {
			return nil
		}
		r.merge(netA, netB)
		return nil
	case netA != nil:
		return r.join(netA, b)
	case netB != nil:
		return r.join(netB, a)
	}

	n, err := newNetwork(r.shed)
	if err != nil {
		return err
	}
	if err := n.add(a); err != nil {
		return err
	}
	if err := n.add(b); err != nil {
		n.remove(a)
		return err
	}
	r.networks[n.pid] = n
	log.WithField("network", n.pid).Debug("[Registry] network created")
	r.publish(msg.Config, n.pid)
	return nil
}

func (r *Registry) join(n *Network, node Powerable) error {
	if err := n.add(node); err != nil {
		return err
	}
	r.publish(msg.Config, n.pid)
	return nil
}

// merge moves every member of donor into survivor and drops donor.
func (r *Registry) merge(survivor, donor *Network) {
	survivor.absorb(donor)
	delete(r.networks, donor.pid)
	log.WithFields(log.Fields{
		"survivor": survivor.pid,
		"donor":    donor.pid,
		"members":  survivor.Len(),
	}).Debug("[Registry] networks merged")
	r.publish(msg.Config, survivor.pid)
}

// Remove detaches node from its network and clears its back-reference. The
// remaining members stay together even if node was their only link.
func (r *Registry) Remove(node Powerable) error {
	if r.ticking {
		return ErrTickInProgress
	}
	n, err := r.NetworkOf(node)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}
	n.remove(node)
	r.publish(msg.Config, n.pid)
	return nil
}

// Tick advances every network by one step and returns their statuses ordered
// by network id. Networks are independent, so visiting order does not matter.
// A Tick started from inside a member callback does nothing and returns nil.
func (r *Registry) Tick() []Status {
	if r.ticking {
		log.Warn("[Registry] tick requested during tick")
		return nil
	}
	r.ticking = true
	defer func() { r.ticking = false }()

	statuses := make([]Status, 0, len(r.networks))
	for _, n := range r.Networks() {
		status := n.Tick(r.step)
		statuses = append(statuses, status)
		r.publish(msg.Status, status)
		if status.Changed() {
			r.publish(msg.Transition, status)
		}
	}
	return statuses
}

// Validate checks that every member's back-reference names the network that
// holds it and that no node belongs to two networks.
func (r *Registry) Validate() error {
	var err error
	seen := make(map[Powerable]uuid.UUID)
	for pid, n := range r.networks {
		if n.pid != pid {
			err = multierr.Append(err, fmt.Errorf("network %v registered under %v", n.pid, pid))
		}
		for node := range n.roles {
			if node.NetworkID() != pid {
				err = multierr.Append(err, fmt.Errorf("node %p in %v references %v", node, pid, node.NetworkID()))
			}
			if other, dup := seen[node]; dup {
				err = multierr.Append(err, fmt.Errorf("node %p in both %v and %v", node, other, pid))
			}
			seen[node] = pid
		}
	}
	return err
}

func (r *Registry) publish(topic msg.Topic, payload interface{}) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(topic, payload)
}
