// Package hook routes host events raised by injected call sites to the
// extension state attached to host aggregates.
package hook

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("graft.hook")

// Event is a host-side occurrence an extension can react to.
type Event int

const (
	SiblingBroken Event = iota + 1
	SiblingDamaged
	MissionEnd
	LootQuery
	Created
)

var eventNames = map[Event]string{
	SiblingBroken:  "sibling-broken",
	SiblingDamaged: "sibling-damaged",
	MissionEnd:     "mission-end",
	LootQuery:      "loot-query",
	Created:        "created",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	_, ok := eventNames[e]
	return ok
}

// Payload carries event data. Handlers may fold results into Value.
type Payload struct {
	Source    any // component that raised the event, if any
	Magnitude float64
	Flag      bool
	Value     int64
}

// Handler is extension state attached to one slot of an aggregate.
type Handler interface {
	HandleEvent(ev Event, p *Payload)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event, p *Payload)

func (f HandlerFunc) HandleEvent(ev Event, p *Payload) { f(ev, p) }

// Registration identifies one attached handler.
type Registration struct {
	Handle    uuid.UUID
	Aggregate any
	Slot      int
	Variant   int64
}

// Valid reports whether r refers to a registration that was accepted.
func (r Registration) Valid() bool {
	return r.Handle != uuid.Nil
}

type entry struct {
	handle  uuid.UUID
	slot    int
	variant int64
	state   Handler
}

// aggregate is one host object's sub-component slots, kept sorted by slot.
type aggregate struct {
	mu      sync.Mutex
	entries []entry
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry maps host aggregates to the extension state attached to their
// sub-components. Aggregates must be comparable (pointers in practice).
//
// Each aggregate has its own lock; the registry lock only guards the
// aggregate index and the set of enabled ids.
type Registry struct {
	mu      sync.RWMutex
	enabled map[int64]bool
	aggs    map[any]*aggregate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		enabled: make(map[int64]bool),
		aggs:    make(map[any]*aggregate),
	}
}

// Enable allows registrations and dispatch for id.
func (r *Registry) Enable(id int64) {
	r.mu.Lock()
	r.enabled[id] = true
	r.mu.Unlock()
	log.Infof("hooks enabled for variant %d", id)
}

// Disable removes every registration for id and stops dispatch to it.
// It returns the number of registrations removed.
func (r *Registry) Disable(id int64) int {
	r.mu.Lock()
	delete(r.enabled, id)
	aggs := make([]*aggregate, 0, len(r.aggs))
	for _, a := range r.aggs {
		aggs = append(aggs, a)
	}
	r.mu.Unlock()

	removed := 0
	for _, a := range aggs {
		a.mu.Lock()
		before := len(a.entries)
		a.entries = slices.DeleteFunc(a.entries, func(e entry) bool { return e.variant == id })
		removed += before - len(a.entries)
		a.mu.Unlock()
	}
	log.Infof("hooks disabled for variant %d (%d registrations removed)", id, removed)
	return removed
}

// Enabled reports whether id is enabled.
func (r *Registry) Enabled(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[id]
}

// Register attaches state to slot of agg for variant. A second
// registration on the same slot replaces the first. Registrations for
// disabled variants are ignored and return an invalid Registration.
func (r *Registry) Register(agg any, slot int, variant int64, state Handler) Registration {
	r.mu.Lock()
	if !r.enabled[variant] {
		r.mu.Unlock()
		return Registration{}
	}
	a, ok := r.aggs[agg]
	if !ok {
		a = &aggregate{}
		r.aggs[agg] = a
	}
	r.mu.Unlock()

	e := entry{handle: uuid.New(), slot: slot, variant: variant, state: state}

	a.mu.Lock()
	i, found := slices.BinarySearchFunc(a.entries, slot, func(e entry, s int) int { return cmp.Compare(e.slot, s) })
	if found {
		a.entries[i] = e
	} else {
		a.entries = slices.Insert(a.entries, i, e)
	}
	a.mu.Unlock()

	return Registration{Handle: e.handle, Aggregate: agg, Slot: slot, Variant: variant}
}

// Unregister removes reg and reports whether it was still attached.
func (r *Registry) Unregister(reg Registration) bool {
	a := r.lookup(reg.Aggregate)
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	before := len(a.entries)
	a.entries = slices.DeleteFunc(a.entries, func(e entry) bool { return e.handle == reg.Handle })
	return len(a.entries) < before
}

// Drop forgets agg entirely, e.g. when the host tears it down. It returns
// the number of registrations removed.
func (r *Registry) Drop(agg any) int {
	r.mu.Lock()
	a, ok := r.aggs[agg]
	delete(r.aggs, agg)
	r.mu.Unlock()
	if !ok {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Notify invokes the handler of every slot of agg whose variant is id, in
// slot order, and returns how many were invoked. Handlers run without any
// registry lock held, so they may notify again or register new state.
func (r *Registry) Notify(agg any, id int64, ev Event, p *Payload) int {
	notificationsTotal.WithLabelValues(ev.String()).Inc()

	if !r.Enabled(id) {
		return 0
	}
	a := r.lookup(agg)
	if a == nil {
		return 0
	}

	a.mu.Lock()
	handlers := make([]Handler, 0, len(a.entries))
	for _, e := range a.entries {
		if e.variant == id {
			handlers = append(handlers, e.state)
		}
	}
	a.mu.Unlock()

	if p == nil {
		p = &Payload{}
	}
	for _, h := range handlers {
		h.HandleEvent(ev, p)
	}
	handlersInvokedTotal.WithLabelValues(ev.String()).Add(float64(len(handlers)))
	return len(handlers)
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	aggs := make([]*aggregate, 0, len(r.aggs))
	for _, a := range r.aggs {
		aggs = append(aggs, a)
	}
	r.mu.RUnlock()

	n := 0
	for _, a := range aggs {
		a.mu.Lock()
		n += len(a.entries)
		a.mu.Unlock()
	}
	return n
}

// Slots returns the state registered on agg for id, in slot order.
func (r *Registry) Slots(agg any, id int64) []Handler {
	a := r.lookup(agg)
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Handler
	for _, e := range a.entries {
		if e.variant == id {
			out = append(out, e.state)
		}
	}
	return out
}

func (r *Registry) lookup(agg any) *aggregate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aggs[agg]
}
