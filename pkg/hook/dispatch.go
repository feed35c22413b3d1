package hook

import (
	"slices"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chazu/graft/pkg/il"
)

var (
	// notificationsTotal counts notify calls by event
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graft_hook_notifications_total",
		Help: "Hook notifications raised by injected call sites, by event",
	}, []string{"event"})

	// handlersInvokedTotal counts handler invocations by event
	handlersInvokedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graft_hook_handlers_invoked_total",
		Help: "Extension handlers invoked, by event",
	}, []string{"event"})
)

// CallSites are the methods injected fragments call. Hosts bind them to
// a Dispatcher through their adapter.
//
//	NotifyComponent(source, event, magnitude)
//	NotifyAggregate(aggregate, event, magnitude)
//	Accumulate(value, aggregate, event, flag) -> value
//	newobj Construct(definition) -> component
type CallSites struct {
	NotifyComponent il.MethodRef
	NotifyAggregate il.MethodRef
	Accumulate      il.MethodRef
	Construct       il.MethodRef
}

// Factory creates the extension state for a component the host has just
// constructed for this extension's variant.
type Factory func(component any) Handler

// Method is an extension routine that fragments call directly.
type Method struct {
	Ref il.MethodRef
	Fn  func(args []any) any
}

// Dispatcher is the registry as seen from one extension's call sites.
type Dispatcher struct {
	reg *Registry
	id  int64

	mu      sync.RWMutex
	factory Factory
	methods []Method
}

// Dispatcher binds the registry to id.
func (r *Registry) Dispatcher(id int64) *Dispatcher {
	return &Dispatcher{reg: r, id: id}
}

// ID returns the variant the dispatcher serves.
func (d *Dispatcher) ID() int64 { return d.id }

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Owner is the method owner name used by this dispatcher's call sites.
func (d *Dispatcher) Owner() string {
	return "Graft.Hooks#" + strconv.FormatInt(d.id, 10)
}

// CallSites returns the method references fragments use to reach d.
func (d *Dispatcher) CallSites() CallSites {
	owner := d.Owner()
	return CallSites{
		NotifyComponent: il.MethodRef{Owner: owner, Name: "NotifyComponent", Params: 3},
		NotifyAggregate: il.MethodRef{Owner: owner, Name: "NotifyAggregate", Params: 3},
		Accumulate:      il.MethodRef{Owner: owner, Name: "Accumulate", Params: 4, Returns: true},
		Construct:       il.MethodRef{Owner: owner, Name: ".ctor", Params: 1},
	}
}

// SetFactory installs the state factory used by Construct.
func (d *Dispatcher) SetFactory(f Factory) {
	d.mu.Lock()
	d.factory = f
	d.mu.Unlock()
}

// New creates extension state for component, or nil without a factory.
func (d *Dispatcher) New(component any) Handler {
	d.mu.RLock()
	f := d.factory
	d.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f(component)
}

// Define adds an extension method under the dispatcher's owner and
// returns its reference. Defining a name twice replaces the function.
func (d *Dispatcher) Define(name string, params int, returns bool, fn func(args []any) any) il.MethodRef {
	ref := il.MethodRef{Owner: d.Owner(), Name: name, Params: params, Returns: returns}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.methods = slices.DeleteFunc(d.methods, func(m Method) bool { return m.Ref.Name == name })
	d.methods = append(d.methods, Method{Ref: ref, Fn: fn})
	return ref
}

// Methods returns the defined extension methods.
func (d *Dispatcher) Methods() []Method {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.methods)
}

// Notify raises ev on agg with the given source and magnitude.
func (d *Dispatcher) Notify(agg, source any, ev Event, magnitude float64) int {
	return d.reg.Notify(agg, d.id, ev, &Payload{Source: source, Magnitude: magnitude})
}

// Accumulate lets every handler on agg fold into value and returns the
// result.
func (d *Dispatcher) Accumulate(value int64, agg any, ev Event, flag bool) int64 {
	p := &Payload{Value: value, Flag: flag}
	d.reg.Notify(agg, d.id, ev, p)
	return p.Value
}
