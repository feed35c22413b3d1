package enumext

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
)

var (
	// ErrUnknownVariant is returned by Parse for text that names nothing.
	ErrUnknownVariant = errors.New("unknown variant")

	// ErrVariantCollision is returned by Add when the id or display name is
	// already in use.
	ErrVariantCollision = errors.New("variant collision")
)

// HostEnum is the host's closed enumeration as seen through its adapter.
type HostEnum interface {
	// Reserved is the host's own range, count sentinel included.
	Reserved() Range
	// Values lists the host-native variants.
	Values() []int64
	// Name renders a host-native variant.
	Name(v int64) (string, bool)
	// Parse maps a host-native name back to its variant.
	Parse(name string) (int64, bool)
}

// Enum is the host enumeration plus extension variants. Every host
// boundary that lists, renders or parses variants goes through it.
type Enum struct {
	host HostEnum

	mu     sync.RWMutex
	names  map[int64]string
	byName map[string]int64
}

// Wrap creates an Enum over host with no extension variants.
func Wrap(host HostEnum) *Enum {
	return &Enum{
		host:   host,
		names:  make(map[int64]string),
		byName: make(map[string]int64),
	}
}

// Host returns the wrapped host enumeration.
func (e *Enum) Host() HostEnum {
	return e.host
}

// Variants returns the host values followed by extension ids in
// ascending order.
func (e *Enum) Variants() []int64 {
	out := slices.Clone(e.host.Values())
	e.mu.RLock()
	ext := slices.Sorted(maps.Keys(e.names))
	e.mu.RUnlock()
	return append(out, ext...)
}

// String renders v. Unknown values render as their number, like the host.
func (e *Enum) String(v int64) string {
	e.mu.RLock()
	name, ok := e.names[v]
	e.mu.RUnlock()
	if ok {
		return name
	}
	if name, ok := e.host.Name(v); ok {
		return name
	}
	return strconv.FormatInt(v, 10)
}

// Parse maps text to a variant: extension names, then host names, then
// decimal numbers.
func (e *Enum) Parse(s string) (int64, error) {
	e.mu.RLock()
	id, ok := e.byName[s]
	e.mu.RUnlock()
	if ok {
		return id, nil
	}
	if v, ok := e.host.Parse(s); ok {
		return v, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// Add registers an extension variant.
func (e *Enum) Add(id int64, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name for %d", ErrVariantCollision, id)
	}
	if e.host.Reserved().Reserved(id) || slices.Contains(e.host.Values(), id) {
		return fmt.Errorf("%w: %d is a host variant", ErrVariantCollision, id)
	}
	if _, ok := e.host.Parse(name); ok {
		return fmt.Errorf("%w: %q is a host variant name", ErrVariantCollision, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.names[id]; ok {
		if old == name {
			return nil
		}
		return fmt.Errorf("%w: %d already registered as %q", ErrVariantCollision, id, old)
	}
	if other, ok := e.byName[name]; ok {
		return fmt.Errorf("%w: %q already registered as %d", ErrVariantCollision, name, other)
	}
	e.names[id] = name
	e.byName[name] = id
	return nil
}

// Remove drops an extension variant and reports whether it existed.
func (e *Enum) Remove(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	name, ok := e.names[id]
	if !ok {
		return false
	}
	delete(e.names, id)
	delete(e.byName, name)
	return true
}

// IsExtension reports whether v is an extension variant.
func (e *Enum) IsExtension(v int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.names[v]
	return ok
}

// Known returns every value an allocator must avoid: host values plus
// current extension ids.
func (e *Enum) Known() []int64 {
	return e.Variants()
}
