// Package host defines the boundary between graft and the program it
// extends. A host exposes exactly the routines, symbols and enumeration an
// extension needs through a versioned Adapter; nothing else is reachable.
package host

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/graft/pkg/enumext"
	"github.com/chazu/graft/pkg/hook"
	"github.com/chazu/graft/pkg/il"
	"github.com/chazu/graft/pkg/patch"
)

var (
	// ErrHostVersion means the host is not a version the extension knows.
	// It is reported as a pattern-not-found condition: the extension stays
	// inert instead of patching a routine it does not understand.
	ErrHostVersion = fmt.Errorf("unsupported host version: %w", patch.ErrPatternNotFound)

	// ErrSymbolNotFound means the host does not export a symbol the
	// extension asked for. Like a version mismatch it is a
	// pattern-not-found condition.
	ErrSymbolNotFound = fmt.Errorf("symbol not found: %w", patch.ErrPatternNotFound)

	// ErrRoutineNotFound means the host has no routine by that name.
	ErrRoutineNotFound = errors.New("routine not found")
)

// Variant describes a new enumeration variant the extension contributes,
// the host-side definition record that goes with an allocated id.
type Variant struct {
	ID          int64
	Name        string
	Description string
	Params      map[string]string // host-specific attributes
}

// Adapter is everything graft may touch in a host.
type Adapter interface {
	// Version identifies the host build.
	Version() string
	// Routine returns a copy of the named routine as currently installed.
	Routine(name string) (*il.Stream, error)
	// Install replaces the named routine. The stream must be valid.
	Install(name string, s *il.Stream) error
	// Enumeration is the host's closed enumeration, wrapped so that every
	// listing, render and parse in the host sees extension variants.
	Enumeration() *enumext.Enum
	// Symbols is the table of host methods and fields for this version.
	Symbols() *Symbols
	// Bind routes the dispatcher's call sites to the host's hook entry
	// points.
	Bind(d *hook.Dispatcher) error
	// AddVariant makes v available to the host's own variant listings.
	AddVariant(v Variant) error
	// RemoveVariant undoes AddVariant.
	RemoveVariant(id int64)
	// Reattach registers the extension state already held by live
	// components of variant id, e.g. after a deactivation dropped their
	// registrations. It returns how many were registered.
	Reattach(id int64) int
}

// CheckVersion returns ErrHostVersion unless a reports one of supported.
// An empty supported list accepts any version.
func CheckVersion(a Adapter, supported ...string) error {
	if len(supported) == 0 || slices.Contains(supported, a.Version()) {
		return nil
	}
	return fmt.Errorf("host %s, want one of %v: %w", a.Version(), supported, ErrHostVersion)
}

// Symbols maps stable keys to host method and field references. It
// replaces looking members up by reflection: a host publishes one table
// per version it supports.
type Symbols struct {
	version string
	methods map[string]il.MethodRef
	fields  map[string]il.FieldRef
}

// NewSymbols creates an empty table for a host version.
func NewSymbols(version string) *Symbols {
	return &Symbols{
		version: version,
		methods: make(map[string]il.MethodRef),
		fields:  make(map[string]il.FieldRef),
	}
}

// Version returns the host version the table describes.
func (s *Symbols) Version() string { return s.version }

// DefineMethod publishes a method under key.
func (s *Symbols) DefineMethod(key string, m il.MethodRef) *Symbols {
	s.methods[key] = m
	return s
}

// DefineField publishes a field under key.
func (s *Symbols) DefineField(key string, f il.FieldRef) *Symbols {
	s.fields[key] = f
	return s
}

// Method looks up a method.
func (s *Symbols) Method(key string) (il.MethodRef, error) {
	m, ok := s.methods[key]
	if !ok {
		return il.MethodRef{}, fmt.Errorf("method %q in host %s: %w", key, s.version, ErrSymbolNotFound)
	}
	return m, nil
}

// Field looks up a field.
func (s *Symbols) Field(key string) (il.FieldRef, error) {
	f, ok := s.fields[key]
	if !ok {
		return il.FieldRef{}, fmt.Errorf("field %q in host %s: %w", key, s.version, ErrSymbolNotFound)
	}
	return f, nil
}

// Lookup resolves several methods at once and reports the first missing
// one.
func (s *Symbols) Lookup(keys ...string) ([]il.MethodRef, error) {
	out := make([]il.MethodRef, len(keys))
	for i, k := range keys {
		m, err := s.Method(k)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}
