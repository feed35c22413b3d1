package sim

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/chazu/graft/host"
	"github.com/chazu/graft/pkg/enumext"
	"github.com/chazu/graft/pkg/hook"
	"github.com/chazu/graft/pkg/il"
)

var log = commonlog.GetLogger("graft.sim")

var (
	ErrUnknownType = errors.New("unknown upgrade type")
	ErrBadSlot     = errors.New("no such slot")
)

// Config configures a World.
type Config struct {
	Version  string // defaults to Version
	Seed     uint64
	Registry *hook.Registry // defaults to a fresh registry
	GameMode int64
}

// World is the simulated host. It implements host.Adapter.
type World struct {
	Drones      []*Drone
	Definitions []*Definition
	Registry    *hook.Registry
	Enum        *enumext.Enum
	Rand        *Random
	Resets      int // campaign resets so far

	version  string
	machine  *Machine
	routines map[string]*il.Stream
	symbols  *host.Symbols
}

var _ host.Adapter = (*World)(nil)

// New creates a world with the native upgrade definitions and pristine
// routines.
func New(cfg Config) *World {
	if cfg.Version == "" {
		cfg.Version = Version
	}
	if cfg.Registry == nil {
		cfg.Registry = hook.NewRegistry()
	}

	w := &World{
		Definitions: nativeDefinitions(),
		Registry:    cfg.Registry,
		Enum:        enumext.Wrap(upgradeEnum{}),
		Rand:        NewRandom(cfg.Seed),
		version:     cfg.Version,
		machine:     NewMachine(),
		symbols:     symbols(),
		routines: map[string]*il.Stream{
			CreateUpgradeInstance:  createUpgradeInstance(),
			BeginExit:              beginExit(),
			GetLootCount:           getLootCount(),
			RandomlyChooseUpgrades: randomlyChooseUpgrades(),
		},
	}
	w.machine.SetStatic(gameModeField, cfg.GameMode)
	w.bindNatives()
	return w
}

// Machine exposes the interpreter, e.g. for tracing.
func (w *World) Machine() *Machine { return w.machine }

// GameMode returns the current GlobalSettings.gameMode.
func (w *World) GameMode() int64 {
	mode, _ := w.machine.Static(gameModeField).(int64)
	return mode
}

// ---------------------------------------------------------------------------
// host.Adapter
// ---------------------------------------------------------------------------

func (w *World) Version() string { return w.version }

// Routine returns a copy of the installed routine.
func (w *World) Routine(name string) (*il.Stream, error) {
	s, ok := w.routines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", host.ErrRoutineNotFound, name)
	}
	return s.Clone(), nil
}

// Install replaces a routine with a validated stream.
func (w *World) Install(name string, s *il.Stream) error {
	if _, ok := w.routines[name]; !ok {
		return fmt.Errorf("%w: %s", host.ErrRoutineNotFound, name)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}
	w.routines[name] = s.Clone()
	log.Debugf("installed %s (%d instructions)", name, s.Len())
	return nil
}

func (w *World) Enumeration() *enumext.Enum { return w.Enum }

func (w *World) Symbols() *host.Symbols { return w.symbols }

// Bind routes a dispatcher's call sites into the registry.
//
// NotifyComponent resolves a component to the drone it is installed on.
// NotifyAggregate accepts a drone or the world; the world fans out to
// every drone.
func (w *World) Bind(d *hook.Dispatcher) error {
	sites := d.CallSites()

	w.machine.BindMethod(sites.NotifyComponent, func(args []any) (any, error) {
		up, ok := args[0].(*Upgrade)
		if !ok {
			return nil, fmt.Errorf("%w: component %T", ErrType, args[0])
		}
		ev, mag, err := eventArgs(args[1], args[2])
		if err != nil {
			return nil, err
		}
		if up.drone != nil {
			d.Notify(up.drone, up, ev, mag)
		}
		return nil, nil
	})

	w.machine.BindMethod(sites.NotifyAggregate, func(args []any) (any, error) {
		ev, mag, err := eventArgs(args[1], args[2])
		if err != nil {
			return nil, err
		}
		switch agg := args[0].(type) {
		case *Drone:
			d.Notify(agg, nil, ev, mag)
		case *World:
			for _, drone := range agg.Drones {
				d.Notify(drone, nil, ev, mag)
			}
		default:
			return nil, fmt.Errorf("%w: aggregate %T", ErrType, args[0])
		}
		return nil, nil
	})

	w.machine.BindMethod(sites.Accumulate, func(args []any) (any, error) {
		value, ok := args[0].(int64)
		if !ok {
			return nil, fmt.Errorf("%w: accumulate value %T", ErrType, args[0])
		}
		drone, ok := args[1].(*Drone)
		if !ok {
			return nil, fmt.Errorf("%w: aggregate %T", ErrType, args[1])
		}
		ev, _, err := eventArgs(args[2], int64(0))
		if err != nil {
			return nil, err
		}
		return d.Accumulate(value, drone, ev, truthy(args[3])), nil
	})

	w.machine.BindMethod(sites.Construct, func(args []any) (any, error) {
		def, ok := args[0].(*Definition)
		if !ok {
			return nil, fmt.Errorf("%w: definition %T", ErrType, args[0])
		}
		up := newUpgrade(def, d.Owner())
		up.State = d.New(up)
		return up, nil
	})

	for _, m := range d.Methods() {
		fn := m.Fn
		w.machine.BindMethod(m.Ref, func(args []any) (any, error) {
			return fn(args), nil
		})
	}
	log.Infof("bound call sites for variant %d", d.ID())
	return nil
}

func eventArgs(ev, mag any) (hook.Event, float64, error) {
	n, ok := ev.(int64)
	if !ok || !hook.Event(n).Valid() {
		return 0, 0, fmt.Errorf("%w: event %v", ErrType, ev)
	}
	m, ok := asFloat(mag)
	if !ok {
		return 0, 0, fmt.Errorf("%w: magnitude %T", ErrType, mag)
	}
	return hook.Event(n), m, nil
}

// AddVariant appends a definition for v. Params understood:
// "break-factor" (float) and "cost" (int).
func (w *World) AddVariant(v host.Variant) error {
	if w.Definition(v.ID) != nil {
		return fmt.Errorf("variant %d already defined", v.ID)
	}
	def := &Definition{Type: v.ID, Name: v.Name, Description: v.Description}
	if s, ok := v.Params["break-factor"]; ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("variant %s: break-factor: %w", v.Name, err)
		}
		def.BreakFactor = f
	}
	if s, ok := v.Params["cost"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("variant %s: cost: %w", v.Name, err)
		}
		def.Cost = n
	}
	w.Definitions = append(w.Definitions, def)
	return nil
}

// RemoveVariant drops the definition for id.
func (w *World) RemoveVariant(id int64) {
	w.Definitions = slices.DeleteFunc(w.Definitions, func(d *Definition) bool { return d.Type == id })
}

// Reattach registers every equipped upgrade of type id that carries
// extension state. Created is not raised again.
func (w *World) Reattach(id int64) int {
	n := 0
	for _, d := range w.Drones {
		for slot, up := range d.Upgrades {
			if up == nil || up.State == nil || up.Type() != id {
				continue
			}
			up.reg = w.Registry.Register(d, slot, id, up.State)
			if up.reg.Valid() {
				n++
			}
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Game operations
// ---------------------------------------------------------------------------

// Definition returns the definition for t, or nil.
func (w *World) Definition(t int64) *Definition {
	for _, d := range w.Definitions {
		if d.Type == t {
			return d
		}
	}
	return nil
}

// AddDrone creates an empty drone.
func (w *World) AddDrone(name string) *Drone {
	d := &Drone{ID: len(w.Drones) + 1, Name: name}
	w.Drones = append(w.Drones, d)
	return d
}

// CreateUpgrade runs the host factory for t.
func (w *World) CreateUpgrade(t int64) (*Upgrade, error) {
	def := w.Definition(t)
	if def == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, w.Enum.String(t))
	}
	r, err := w.machine.Run(w.routines[CreateUpgradeInstance], t, def)
	if err != nil {
		return nil, err
	}
	up, ok := r.(*Upgrade)
	if !ok || up == nil {
		return nil, fmt.Errorf("%w: factory has no case for %s", ErrUnknownType, w.Enum.String(t))
	}
	return up, nil
}

// Equip installs up in slot of d, replacing whatever was there. Upgrades
// carrying extension state are registered with the hook registry.
func (w *World) Equip(d *Drone, slot int, up *Upgrade) error {
	if slot < 0 || slot >= SlotsPerDrone {
		return fmt.Errorf("%w: %d", ErrBadSlot, slot)
	}
	if old := d.Upgrades[slot]; old != nil {
		w.unequip(old)
	}
	d.Upgrades[slot] = up
	if up == nil {
		return nil
	}
	up.drone, up.slot = d, slot
	if up.State != nil {
		up.reg = w.Registry.Register(d, slot, up.Type(), up.State)
		if up.reg.Valid() {
			w.Registry.Notify(d, up.Type(), hook.Created, &hook.Payload{Source: up})
		}
	}
	return nil
}

func (w *World) unequip(up *Upgrade) {
	if up.reg.Valid() {
		w.Registry.Unregister(up.reg)
	}
	up.drone, up.slot, up.reg = nil, -1, hook.Registration{}
}

// RemoveDrone tears a drone down.
func (w *World) RemoveDrone(d *Drone) {
	for _, up := range d.Upgrades {
		if up != nil {
			w.unequip(up)
		}
	}
	w.Registry.Drop(d)
	w.Drones = slices.DeleteFunc(w.Drones, func(x *Drone) bool { return x == d })
}

// BeginExit ends a mission.
func (w *World) BeginExit() error {
	_, err := w.machine.Run(w.routines[BeginExit], w)
	return err
}

// LootCount returns the drone's loot, clearing it when asked.
func (w *World) LootCount(d *Drone, clear bool) (int64, error) {
	r, err := w.machine.Run(w.routines[GetLootCount], d, boolInt(clear))
	if err != nil {
		return 0, err
	}
	n, ok := r.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: loot count %T", ErrType, r)
	}
	return n, nil
}

// ChooseUpgrade picks a random upgrade type for a loot drop.
func (w *World) ChooseUpgrade() (int64, error) {
	r, err := w.machine.Run(w.routines[RandomlyChooseUpgrades], w.Rand)
	if err != nil {
		return 0, err
	}
	n, ok := r.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: chosen upgrade %T", ErrType, r)
	}
	return n, nil
}

// UpgradeNames lists every defined upgrade by rendered name.
func (w *World) UpgradeNames() []string {
	out := make([]string, 0, len(w.Definitions))
	for _, v := range w.Enum.Variants() {
		if w.Definition(v) != nil {
			out = append(out, w.Enum.String(v))
		}
	}
	return out
}

// upgradeAt indexes drone slots in order, empty ones included.
func (w *World) upgradeAt(i int64) *Upgrade {
	if i < 0 || i >= int64(len(w.Drones)*SlotsPerDrone) {
		return nil
	}
	return w.Drones[i/SlotsPerDrone].Upgrades[i%SlotsPerDrone]
}

func (w *World) bindNatives() {
	m := w.machine

	m.BindMethod(upgradeCount, func(args []any) (any, error) {
		world, ok := args[0].(*World)
		if !ok {
			return nil, fmt.Errorf("%w: receiver %T", ErrType, args[0])
		}
		return int64(len(world.Drones) * SlotsPerDrone), nil
	})
	m.BindMethod(upgradeAt, func(args []any) (any, error) {
		world, ok := args[0].(*World)
		i, ok2 := args[1].(int64)
		if !ok || !ok2 {
			return nil, fmt.Errorf("%w: UpgradeAt(%T, %T)", ErrType, args[0], args[1])
		}
		if up := world.upgradeAt(i); up != nil {
			return up, nil
		}
		return nil, nil
	})

	upgradeMethod := func(ref il.MethodRef, fn func(up *Upgrade, args []any) (any, error)) {
		m.BindMethod(ref, func(args []any) (any, error) {
			up, ok := args[0].(*Upgrade)
			if !ok {
				return nil, fmt.Errorf("%w: receiver %T", ErrType, args[0])
			}
			return fn(up, args[1:])
		})
	}
	upgradeMethod(getBroken, func(up *Upgrade, _ []any) (any, error) {
		return boolInt(up.Broken()), nil
	})
	upgradeMethod(getBreakFactor, func(up *Upgrade, _ []any) (any, error) {
		return up.Def.BreakFactor, nil
	})
	upgradeMethod(getBreakProb, func(up *Upgrade, _ []any) (any, error) {
		return up.BreakProbability(), nil
	})
	upgradeMethod(setBreakProb, func(up *Upgrade, args []any) (any, error) {
		p, ok := asFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("%w: break probability %T", ErrType, args[0])
		}
		up.SetBreakProbability(p)
		return nil, nil
	})
	upgradeMethod(breakUpgrade, func(up *Upgrade, _ []any) (any, error) {
		up.Break()
		return nil, nil
	})

	m.BindMethod(randomNext, func(args []any) (any, error) {
		r, ok := args[0].(*Random)
		lo, ok2 := args[1].(int64)
		hi, ok3 := args[2].(int64)
		if !ok || !ok2 || !ok3 {
			return nil, fmt.Errorf("%w: Random.Next(%T, %T, %T)", ErrType, args[0], args[1], args[2])
		}
		return r.Next(lo, hi), nil
	})

	for t := range NumberOfUpgrades {
		ref := ctorRef(t)
		m.BindMethod(ref, func(args []any) (any, error) {
			def, ok := args[0].(*Definition)
			if !ok {
				return nil, fmt.Errorf("%w: definition %T", ErrType, args[0])
			}
			return newUpgrade(def, ref.Owner), nil
		})
	}

	m.BindField(lootField, FieldAccess{
		Get: func(obj any) (any, error) {
			d, ok := obj.(*Drone)
			if !ok {
				return nil, fmt.Errorf("%w: %T has no lootCount", ErrType, obj)
			}
			return d.Loot, nil
		},
		Set: func(obj, v any) error {
			d, ok := obj.(*Drone)
			n, ok2 := v.(int64)
			if !ok || !ok2 {
				return fmt.Errorf("%w: lootCount of %T = %T", ErrType, obj, v)
			}
			d.Loot = n
			return nil
		},
	})
}
