// Package scavenger is an extension for the simulated host: a drone
// upgrade that salvages scrap from sibling upgrades as they wear down and
// break, paying for it with its own wear.
package scavenger

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/graft/extension"
	"github.com/chazu/graft/host/sim"
	"github.com/chazu/graft/manifest"
	"github.com/chazu/graft/pkg/enumext"
	"github.com/chazu/graft/pkg/hook"
)

var log = commonlog.GetLogger("graft.scavenger")

// Name is the extension and command name.
const Name = "scavenger"

// Manifest returns the built-in manifest, used when no graft.toml exists.
func Manifest() *manifest.Manifest {
	m := manifest.Default()
	m.Extension = manifest.Extension{
		Name:         Name,
		DisplayName:  "Scavenger",
		Description:  "salvages scrap from other deteriorating upgrades",
		HostVersions: []string{sim.Version},
		Params: map[string]string{
			"break-factor": "8",
			"cost":         "4",
		},
	}
	return m
}

// Mod binds the Scavenger to one simulated world.
type Mod struct {
	world *sim.World
}

// New creates the Scavenger for w.
func New(w *sim.World) *Mod {
	return &Mod{world: w}
}

// NewState is the hook.Factory for Scavenger upgrades.
func (m *Mod) NewState(component any) hook.Handler {
	c, ok := component.(Component)
	if !ok {
		log.Errorf("cannot attach to %T", component)
		return nil
	}
	return NewUpgrade(c)
}

// Extension assembles the Scavenger extension from man, or from the
// built-in manifest when man is nil.
func (m *Mod) Extension(man *manifest.Manifest, claims *enumext.Claims) (*extension.Extension, error) {
	if man == nil {
		man = Manifest()
	}
	ext, err := extension.New(extension.Config{
		Manifest: man,
		Host:     m.world,
		Registry: m.world.Registry,
		Build:    m.Targets,
		Factory:  m.NewState,
		Claims:   claims,
	})
	if err != nil {
		return nil, fmt.Errorf("scavenger: %w", err)
	}
	return ext, nil
}

// chooseUpgrade replaces the host's loot-drop roll. It draws from every
// defined upgrade, extension variants included, and keeps Brute Turret
// out of first campaigns in normal mode.
func (m *Mod) chooseUpgrade(args []any) any {
	rng, ok := args[0].(*sim.Random)
	if !ok {
		log.Errorf("chooser called with %T", args[0])
		return sim.Motion
	}

	var types []int64
	for _, v := range m.world.Enum.Variants() {
		if m.world.Definition(v) != nil {
			types = append(types, v)
		}
	}
	if len(types) == 0 {
		return sim.Motion
	}

	limitBruteTurret := m.world.GameMode() == sim.GameModeNormal && m.world.Resets < 1
	for {
		t := types[rng.Next(0, int64(len(types)))]
		if !limitBruteTurret || t != sim.BruteTurret || len(types) == 1 {
			return t
		}
	}
}
