package protocol

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/gcslink/errors"
)

// Factory creates an empty packet ready for UnmarshalBinary.
type Factory func() Packet

// Registry maps packet ids to factories. Populate it before traffic flows;
// lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[uint8]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[uint8]Factory)}
}

// DefaultRegistry returns a new registry holding the packet types gcslink
// understands.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(TelemetryPacketID, func() Packet { return &TelemetryPacket{} })
	return r
}

// Register adds a factory for id. Registering an id twice is an error.
func (r *Registry) Register(id uint8, factory Factory) error {
	if factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register",
			fmt.Sprintf("nil factory for packet 0x%02x", id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[id]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: packet 0x%02x already registered", errors.ErrInvalidConfig, id),
			"Registry", "Register", "duplicate packet registration")
	}
	r.factories[id] = factory
	return nil
}

// New returns a fresh packet for id.
func (r *Registry) New(id uint8) (Packet, bool) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint8, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
