package cardkit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry errors.
var (
	// ErrNameTaken is returned by Register when the name already resolves
	// to a different slot.
	ErrNameTaken = errors.New("cardkit: card name already registered")

	// ErrUnknownKind is returned by NewWidget for an unregistered kind.
	ErrUnknownKind = errors.New("cardkit: unknown widget kind")
)

// Register binds a user-assigned card name to its metadata slot index.
// External addressing (escape sequences, IPC) carries names; everything
// internal carries slot indices. Registering the same (name, slot) pair
// again is a no-op.
func (rc *ResourceCoordinator) Register(name string, slot uint32) error {
	if prev, ok := rc.names[name]; ok {
		if prev == slot {
			return nil
		}
		return fmt.Errorf("%w: %q -> slot %d", ErrNameTaken, name, prev)
	}
	rc.names[name] = slot
	rc.log.Debug("card registered", "name", name, "slot", slot)
	return nil
}

// Resolve looks up the metadata slot index for a card name.
func (rc *ResourceCoordinator) Resolve(name string) (uint32, bool) {
	slot, ok := rc.names[name]
	return slot, ok
}

// Deregister removes a name binding. Unknown names are ignored.
func (rc *ResourceCoordinator) Deregister(name string) {
	delete(rc.names, name)
}

// Names returns the number of registered card names.
func (rc *ResourceCoordinator) Names() int { return len(rc.names) }

// Factory constructs a widget of one card kind. Args carry the
// kind-specific parameters from the creating escape sequence or command.
type Factory func(rc *ResourceCoordinator, args map[string]string) (Widget, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterFactory binds a card kind ("plot", "image", ...) to its widget
// constructor. Later registrations of the same kind replace earlier ones,
// so hosts can override built-ins.
func RegisterFactory(kind string, f Factory) {
	factoryMu.Lock()
	factories[kind] = f
	factoryMu.Unlock()
}

// NewWidget constructs a widget through the factory registered for kind.
func NewWidget(kind string, rc *ResourceCoordinator, args map[string]string) (Widget, error) {
	factoryMu.RLock()
	f, ok := factories[kind]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f(rc, args)
}

// Kinds returns the registered card kinds in sorted order.
func Kinds() []string {
	factoryMu.RLock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	factoryMu.RUnlock()
	sort.Strings(out)
	return out
}
