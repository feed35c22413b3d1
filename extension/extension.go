// Package extension drives an extension's lifecycle against a host:
// allocating its variant id, patching the host routines it targets, and
// wiring its hooks, all undoable.
package extension

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/graft/host"
	"github.com/chazu/graft/manifest"
	"github.com/chazu/graft/pkg/enumext"
	"github.com/chazu/graft/pkg/hook"
	"github.com/chazu/graft/pkg/il"
	"github.com/chazu/graft/pkg/patch"
)

var log = commonlog.GetLogger("graft.extension")

var (
	ErrNotLoaded   = errors.New("extension not loaded")
	ErrNoRegistry  = errors.New("extension needs the host's hook registry")
	ErrNoTargets   = errors.New("extension has no patch targets")
	ErrNilManifest = errors.New("extension needs a manifest")
)

// Target is one patch the extension applies. Name is what the manifest's
// activation.targets list refers to.
type Target struct {
	Name    string
	Routine string
	Spec    *patch.Spec
}

// Builder produces the extension's targets once its id is known. The
// dispatcher carries the id and is where extension methods are defined.
type Builder func(d *hook.Dispatcher, sym *host.Symbols) ([]Target, error)

// Config assembles an Extension.
type Config struct {
	Manifest *manifest.Manifest
	Host     host.Adapter
	Registry *hook.Registry // must be the registry the host notifies
	Build    Builder
	Factory  hook.Factory

	// Claims defaults to enumext.DefaultClaims.
	Claims *enumext.Claims
	// Probe overrides the allocator's random draw.
	Probe func(lo, hi int64) int64
}

// Extension is one loaded extension.
type Extension struct {
	manifest *manifest.Manifest
	host     host.Adapter
	registry *hook.Registry
	build    Builder
	factory  hook.Factory
	alloc    *enumext.Allocator

	mu         sync.Mutex
	loaded     bool
	active     bool
	id         int64
	dispatcher *hook.Dispatcher
	pristine   map[string]*il.Stream
	reports    []*patch.Report
}

// New creates an unloaded extension.
func New(cfg Config) (*Extension, error) {
	if cfg.Manifest == nil {
		return nil, ErrNilManifest
	}
	if cfg.Registry == nil {
		return nil, ErrNoRegistry
	}
	if cfg.Build == nil {
		return nil, ErrNoTargets
	}
	claims := cfg.Claims
	if claims == nil {
		claims = enumext.DefaultClaims
	}
	return &Extension{
		manifest: cfg.Manifest,
		host:     cfg.Host,
		registry: cfg.Registry,
		build:    cfg.Build,
		factory:  cfg.Factory,
		alloc: &enumext.Allocator{
			MaxProbes: cfg.Manifest.Allocator.MaxProbes,
			Upper:     cfg.Manifest.Allocator.Upper,
			Probe:     cfg.Probe,
			Claims:    claims,
		},
		pristine: make(map[string]*il.Stream),
	}, nil
}

// Name returns the manifest name.
func (e *Extension) Name() string { return e.manifest.Extension.Name }

// ID returns the allocated variant id, or 0 before Load.
func (e *Extension) ID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// Active reports whether the extension's patches are live.
func (e *Extension) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Dispatcher returns the extension's dispatcher, or nil before Load.
func (e *Extension) Dispatcher() *hook.Dispatcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispatcher
}

// Reports returns the patch reports from the last activation.
func (e *Extension) Reports() []*patch.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*patch.Report(nil), e.reports...)
}

// Load checks the host version and allocates the extension's id. Loading
// twice returns the same id.
func (e *Extension) Load() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.id, nil
	}

	if err := host.CheckVersion(e.host, e.manifest.Extension.HostVersions...); err != nil {
		return 0, fmt.Errorf("loading %s: %w", e.Name(), err)
	}

	enum := e.host.Enumeration()
	id, err := e.alloc.Allocate(enum.Host().Reserved(), enum.Known())
	if err != nil {
		return 0, fmt.Errorf("loading %s: %w", e.Name(), err)
	}
	e.alloc.Claims.Label(id, e.Name())

	e.id = id
	e.dispatcher = e.registry.Dispatcher(id)
	e.dispatcher.SetFactory(e.factory)
	e.loaded = true
	log.Infof("loaded %s as variant %d", e.Name(), id)
	return id, nil
}

// Activate applies every enabled target and wires the extension into the
// host. Activating an active extension does nothing.
//
// Targets are always applied to the pristine routines, so reactivation
// never patches a routine twice. Nothing is installed unless every target
// applies. A missing pattern fails activation in strict mode and skips
// the target otherwise.
func (e *Extension) Activate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}
	if e.active {
		log.Debugf("%s already active", e.Name())
		return nil
	}

	targets, err := e.build(e.dispatcher, e.host.Symbols())
	if err != nil {
		return fmt.Errorf("activating %s: %w", e.Name(), err)
	}

	base, patched, reports, err := e.patch(targets)
	if err != nil {
		return fmt.Errorf("activating %s: %w", e.Name(), err)
	}

	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	if err := e.host.Bind(e.dispatcher); err != nil {
		return fmt.Errorf("activating %s: binding call sites: %w", e.Name(), err)
	}

	enum := e.host.Enumeration()
	if err := enum.Add(e.id, e.manifest.Extension.DisplayName); err != nil {
		return fmt.Errorf("activating %s: %w", e.Name(), err)
	}
	undo = append(undo, func() { enum.Remove(e.id) })

	variant := host.Variant{
		ID:          e.id,
		Name:        e.manifest.Extension.DisplayName,
		Description: e.manifest.Extension.Description,
		Params:      e.manifest.Extension.Params,
	}
	if err := e.host.AddVariant(variant); err != nil {
		rollback()
		return fmt.Errorf("activating %s: %w", e.Name(), err)
	}
	undo = append(undo, func() { e.host.RemoveVariant(e.id) })

	for _, p := range patched {
		if err := e.host.Install(p.Name, p); err != nil {
			rollback()
			return fmt.Errorf("activating %s: %w", e.Name(), err)
		}
		restore := base[p.Name]
		undo = append(undo, func() {
			if err := e.host.Install(restore.Name, restore.Clone()); err != nil {
				log.Criticalf("rollback of %s failed: %s", restore.Name, err)
			}
		})
	}

	for name, s := range base {
		if _, ok := e.pristine[name]; !ok {
			e.pristine[name] = s
		}
	}
	e.registry.Enable(e.id)
	attached := e.host.Reattach(e.id)
	e.reports = reports
	e.active = true
	log.Infof("activated %s: %d patch(es) in %d routine(s), %d live handler(s) reattached", e.Name(), len(reports), len(patched), attached)
	return nil
}

// patch applies targets routine by routine, in first-mention order.
func (e *Extension) patch(targets []Target) (map[string]*il.Stream, []*il.Stream, []*patch.Report, error) {
	base := make(map[string]*il.Stream)
	work := make(map[string]*il.Stream)
	var order []string
	var reports []*patch.Report

	for _, t := range targets {
		if !e.manifest.Enabled(t.Name) {
			log.Debugf("%s: target %s disabled", e.Name(), t.Name)
			continue
		}

		cur, ok := work[t.Routine]
		if !ok {
			src, ok := e.pristine[t.Routine]
			if ok {
				src = src.Clone()
			} else {
				var err error
				if src, err = e.host.Routine(t.Routine); err != nil {
					return nil, nil, nil, fmt.Errorf("target %s: %w", t.Name, err)
				}
			}
			base[t.Routine] = src
			cur = src
			order = append(order, t.Routine)
		}

		out, rep, err := patch.Apply(cur, t.Spec)
		if err != nil {
			if errors.Is(err, patch.ErrPatternNotFound) && !e.manifest.Activation.Strict {
				log.Warningf("%s: skipping target %s: %s", e.Name(), t.Name, err)
				work[t.Routine] = cur
				continue
			}
			return nil, nil, nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		work[t.Routine] = out
		reports = append(reports, rep)
	}

	patched := make([]*il.Stream, 0, len(order))
	for _, r := range order {
		if work[r] != base[r] {
			patched = append(patched, work[r])
		}
	}
	return base, patched, reports, nil
}

// Deactivate disables the extension's hooks and withdraws its variant.
// With revert the pristine routines are reinstalled; otherwise patched
// routines stay in place and their hooks find nothing enabled. It never
// fails and is safe to call in any state.
func (e *Extension) Deactivate(revert bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return
	}

	dropped := e.registry.Disable(e.id)
	e.host.Enumeration().Remove(e.id)
	e.host.RemoveVariant(e.id)

	if revert {
		for name, s := range e.pristine {
			if err := e.host.Install(name, s.Clone()); err != nil {
				log.Warningf("%s: reverting %s: %s", e.Name(), name, err)
			}
		}
	}

	e.active = false
	log.Infof("deactivated %s (%d handler(s) dropped, revert=%t)", e.Name(), dropped, revert)
}

// Toggle flips between active and inactive, reverting according to the
// manifest.
func (e *Extension) Toggle() error {
	if e.Active() {
		e.Deactivate(e.manifest.Activation.RevertOnDeactivate)
		return nil
	}
	return e.Activate()
}
