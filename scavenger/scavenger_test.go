package scavenger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/graft/extension"
	"github.com/chazu/graft/host/sim"
	"github.com/chazu/graft/pkg/enumext"
	"github.com/chazu/graft/pkg/hook"
)

// part is a bare Component.
type part struct {
	broken   bool
	prob     float64
	missions int
}

func (p *part) Broken() bool                  { return p.broken }
func (p *part) Break()                        { p.broken = true }
func (p *part) BreakProbability() float64     { return p.prob }
func (p *part) SetBreakProbability(v float64) { p.prob = v }
func (p *part) AddMission()                   { p.missions++ }

func TestMissionStateMachine(t *testing.T) {
	self := &part{}
	u := NewUpgrade(self)
	sibling := &part{prob: 20}

	u.HandleEvent(hook.MissionEnd, &hook.Payload{})
	assert.Equal(t, 0, self.missions, "idle mission is not counted")

	u.HandleEvent(hook.SiblingDamaged, &hook.Payload{Source: sibling, Magnitude: 10})
	assert.Equal(t, ActivatedThisMission, u.State())
	u.HandleEvent(hook.SiblingDamaged, &hook.Payload{Source: sibling, Magnitude: 10})
	assert.Equal(t, ActivatedThisMission, u.State())

	u.HandleEvent(hook.MissionEnd, &hook.Payload{})
	assert.Equal(t, Idle, u.State())
	assert.Equal(t, 1, self.missions)

	u.HandleEvent(hook.MissionEnd, &hook.Payload{})
	assert.Equal(t, 1, self.missions)
}

func TestSiblingBroken(t *testing.T) {
	self := &part{}
	u := NewUpgrade(self)

	u.HandleEvent(hook.SiblingBroken, &hook.Payload{Source: &part{broken: true}})
	assert.True(t, self.broken)
	assert.Equal(t, int64(BrokenLoot), u.Loot())

	// Already broken: nothing more to salvage.
	u.HandleEvent(hook.SiblingBroken, &hook.Payload{Source: &part{broken: true}})
	assert.Equal(t, int64(BrokenLoot), u.Loot())
}

func TestSiblingDamaged(t *testing.T) {
	self := &part{prob: 4}
	u := NewUpgrade(self)

	// 95 -> 105: 19 + 52 - 47
	u.HandleEvent(hook.SiblingDamaged, &hook.Payload{Source: &part{prob: 105}, Magnitude: 10})
	assert.Equal(t, int64(24), u.Loot())
	assert.Equal(t, 14.0, self.prob)

	// 0 -> 5: 0 + 2 - 0
	u.HandleEvent(hook.SiblingDamaged, &hook.Payload{Source: &part{prob: 5}, Magnitude: 5})
	assert.Equal(t, int64(26), u.Loot())
}

func TestSiblingDamagedWithoutSource(t *testing.T) {
	self := &part{prob: 4}
	u := NewUpgrade(self)

	u.HandleEvent(hook.SiblingDamaged, &hook.Payload{Magnitude: 6})
	assert.Equal(t, ActivatedThisMission, u.State())
	assert.Equal(t, 10.0, self.prob)
	assert.Zero(t, u.Loot(), "nothing to salvage from")

	u.HandleEvent(hook.MissionEnd, &hook.Payload{})
	assert.Equal(t, 1, self.missions)
}

func TestIgnoresOwnEvents(t *testing.T) {
	self := &part{prob: 50}
	u := NewUpgrade(self)

	u.HandleEvent(hook.SiblingDamaged, &hook.Payload{Source: self, Magnitude: 10})
	u.HandleEvent(hook.SiblingBroken, &hook.Payload{Source: self})
	assert.Equal(t, 50.0, self.prob)
	assert.False(t, self.broken)
	assert.Zero(t, u.Loot())
	assert.Equal(t, Idle, u.State())
}

func TestLootQuery(t *testing.T) {
	u := NewUpgrade(&part{})
	u.HandleEvent(hook.SiblingBroken, &hook.Payload{Source: &part{}})

	p := &hook.Payload{Value: 10}
	u.HandleEvent(hook.LootQuery, p)
	assert.Equal(t, int64(13), p.Value)
	assert.Equal(t, int64(3), u.Loot())

	p = &hook.Payload{Value: 1, Flag: true}
	u.HandleEvent(hook.LootQuery, p)
	assert.Equal(t, int64(4), p.Value)
	assert.Zero(t, u.Loot())
}

func TestHelpLines(t *testing.T) {
	c := Definition()
	assert.Nil(t, c.HelpLines(false, false))

	lines := c.HelpLines(true, false)
	require.NotEmpty(t, lines)
	assert.Equal(t, "scavenger - salvages scrap from failing upgrades", lines[0])
	assert.Contains(t, lines, "\t\tScavenger will deteriorate an equal amount in return")
	assert.Equal(t, lines, c.HelpLines(false, true))
}

// ---------------------------------------------------------------------------
// Against the simulated host
// ---------------------------------------------------------------------------

type setup struct {
	world *sim.World
	mod   *Mod
	ext   *extension.Extension
	id    int64
}

func activate(t *testing.T, cfg sim.Config) *setup {
	t.Helper()
	w := sim.New(cfg)
	mod := New(w)
	ext, err := mod.Extension(nil, enumext.NewClaims())
	require.NoError(t, err)
	id, err := ext.Load()
	require.NoError(t, err)
	require.NoError(t, ext.Activate())
	return &setup{world: w, mod: mod, ext: ext, id: id}
}

func (s *setup) equip(t *testing.T, d *sim.Drone, slot int, typ int64) *sim.Upgrade {
	t.Helper()
	up, err := s.world.CreateUpgrade(typ)
	require.NoError(t, err)
	require.NoError(t, s.world.Equip(d, slot, up))
	return up
}

func TestActivateAllTargets(t *testing.T) {
	s := activate(t, sim.Config{Seed: 1})
	reports := s.ext.Reports()
	require.Len(t, reports, 6)

	names := make([]string, len(reports))
	for i, r := range reports {
		names[i] = r.Spec
	}
	assert.Equal(t, []string{
		"scavenger-factory", "scavenger-break", "scavenger-damage",
		"scavenger-mission-end", "scavenger-loot", "scavenger-chooser",
	}, names)

	assert.Equal(t, "Scavenger", s.world.Enum.String(s.id))
	assert.Contains(t, s.world.UpgradeNames(), "Scavenger")
}

func TestFactoryCreatesScavenger(t *testing.T) {
	s := activate(t, sim.Config{Seed: 1})

	up, err := s.world.CreateUpgrade(s.id)
	require.NoError(t, err)
	assert.Equal(t, s.id, up.Type())
	assert.Equal(t, s.ext.Dispatcher().Owner(), up.Kind)
	_, ok := up.State.(*Upgrade)
	assert.True(t, ok, "state is %T", up.State)

	// Native types still go through their own constructors.
	g, err := s.world.CreateUpgrade(sim.Gatherer)
	require.NoError(t, err)
	assert.Equal(t, "GathererUpgrade", g.Kind)
	assert.Nil(t, g.State)
}

func TestMissions(t *testing.T) {
	s := activate(t, sim.Config{Seed: 1})
	d := s.world.AddDrone("alpha")

	scav := s.equip(t, d, 0, s.id)
	gatherer := s.equip(t, d, 1, sim.Gatherer)
	motion := s.equip(t, d, 2, sim.Motion)
	state := scav.State.(*Upgrade)

	// Mission 1: gatherer 0 -> 10, motion 0 -> 5.
	require.NoError(t, s.world.BeginExit())
	assert.Equal(t, 8.0+10+5, scav.BreakProbability())
	assert.Equal(t, int64(5+2), state.Loot())
	assert.Equal(t, 1, scav.Missions())
	assert.Equal(t, Idle, state.State())

	n, err := s.world.LootCount(d, true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Zero(t, state.Loot())

	// Mission 2: gatherer 95 -> 105 and breaks, taking the scavenger
	// with it.
	gatherer.SetBreakProbability(95)
	require.NoError(t, s.world.BeginExit())
	assert.True(t, gatherer.Broken())
	assert.True(t, scav.Broken())
	assert.Equal(t, int64(24+BrokenLoot), state.Loot())
	assert.Equal(t, 23.0+8+10, scav.BreakProbability())
	assert.Equal(t, 2, scav.Missions())

	// Mission 3: a broken scavenger salvages nothing.
	require.NoError(t, s.world.BeginExit())
	assert.Equal(t, 15.0, motion.BreakProbability())
	assert.Equal(t, 2, scav.Missions())

	n, err = s.world.LootCount(d, false)
	require.NoError(t, err)
	assert.Equal(t, int64(27), n)
	assert.Equal(t, int64(27), state.Loot())
}

func TestScavengersOnOtherDronesUnaffected(t *testing.T) {
	s := activate(t, sim.Config{Seed: 1})
	a := s.world.AddDrone("alpha")
	b := s.world.AddDrone("beta")

	s.equip(t, a, 0, sim.Gatherer)
	lone := s.equip(t, b, 0, s.id)

	require.NoError(t, s.world.BeginExit())
	assert.Zero(t, lone.State.(*Upgrade).Loot())
	assert.Equal(t, 0, lone.Missions())
}

func TestDoubleActivationPatchesOnce(t *testing.T) {
	s := activate(t, sim.Config{Seed: 1})
	before, err := s.world.Routine(sim.BeginExit)
	require.NoError(t, err)

	require.NoError(t, s.ext.Activate())
	after, err := s.world.Routine(sim.BeginExit)
	require.NoError(t, err)
	assert.True(t, before.Equal(after))

	d := s.world.AddDrone("alpha")
	scav := s.equip(t, d, 0, s.id)
	s.equip(t, d, 1, sim.Gatherer)
	require.NoError(t, s.world.BeginExit())
	assert.Equal(t, int64(5), scav.State.(*Upgrade).Loot(), "one notification per damage")
}

func TestChooser(t *testing.T) {
	s := activate(t, sim.Config{Seed: 7})

	seen := make(map[int64]int)
	for range 600 {
		n, err := s.world.ChooseUpgrade()
		require.NoError(t, err)
		seen[n]++
	}
	assert.Positive(t, seen[s.id], "extension variant can drop")
	assert.Zero(t, seen[sim.BruteTurret], "no brute turret in a first normal campaign")

	s.world.Resets = 1
	for range 600 {
		n, err := s.world.ChooseUpgrade()
		require.NoError(t, err)
		seen[n]++
	}
	assert.Positive(t, seen[sim.BruteTurret])
}

func TestChooserIronman(t *testing.T) {
	s := activate(t, sim.Config{Seed: 11, GameMode: sim.GameModeIronman})
	seen := make(map[int64]int)
	for range 600 {
		n, err := s.world.ChooseUpgrade()
		require.NoError(t, err)
		seen[n]++
	}
	assert.Positive(t, seen[sim.BruteTurret])
}

func TestDeactivate(t *testing.T) {
	s := activate(t, sim.Config{Seed: 1})
	d := s.world.AddDrone("alpha")
	scav := s.equip(t, d, 0, s.id)
	s.equip(t, d, 1, sim.Gatherer)

	s.ext.Deactivate(true)

	_, err := s.world.CreateUpgrade(s.id)
	assert.ErrorIs(t, err, sim.ErrUnknownType)
	assert.NotContains(t, s.world.UpgradeNames(), "Scavenger")

	require.NoError(t, s.world.BeginExit())
	assert.Zero(t, scav.State.(*Upgrade).Loot(), "hooks are gone")
}

func TestSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "save.db")

	s := activate(t, sim.Config{Seed: 1})
	d := s.world.AddDrone("alpha")
	scav := s.equip(t, d, 2, s.id)
	scav.SetBreakProbability(30)
	scav.AddMission()

	f, err := sim.OpenSave(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Save(ctx, s.world))

	// A later session allocates whatever id it gets; the save refers to
	// the variant by name.
	next := activate(t, sim.Config{Seed: 2})
	skipped, err := f.Load(ctx, next.world)
	require.NoError(t, err)
	assert.Zero(t, skipped)

	require.Len(t, next.world.Drones, 1)
	restored := next.world.Drones[0].Upgrades[2]
	require.NotNil(t, restored)
	assert.Equal(t, next.id, restored.Type())
	assert.Equal(t, 30.0, restored.BreakProbability())
	assert.Equal(t, 1, restored.Missions())
	_, ok := restored.State.(*Upgrade)
	assert.True(t, ok)

	// Without the extension the slot is dropped.
	plain := sim.New(sim.Config{})
	skipped, err = f.Load(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Nil(t, plain.Drones[0].Upgrades[2])
}

func TestToggleKeepsEquippedScavengersWorking(t *testing.T) {
	s := activate(t, sim.Config{Seed: 1})
	d := s.world.AddDrone("alpha")
	scav := s.equip(t, d, 0, s.id)
	s.equip(t, d, 1, sim.Gatherer)
	state := scav.State.(*Upgrade)

	s.ext.Deactivate(false)
	require.NoError(t, s.world.BeginExit())
	assert.Zero(t, state.Loot())

	require.NoError(t, s.ext.Activate())
	assert.Equal(t, []hook.Handler{state}, s.world.Registry.Slots(d, s.id))

	// gatherer 10 -> 20: 2 + 10 - 5
	require.NoError(t, s.world.BeginExit())
	assert.Equal(t, int64(7), state.Loot())
	assert.Equal(t, 1, scav.Missions())
}
