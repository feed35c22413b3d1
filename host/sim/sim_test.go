package sim

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/graft/host"
	"github.com/chazu/graft/pkg/il"
	"github.com/chazu/graft/pkg/patch"
)

func run(t *testing.T, build func(s *il.Stream), args ...any) (any, error) {
	t.Helper()
	s := il.NewStream("test")
	build(s)
	return NewMachine().Run(s, args...)
}

func TestMachineArithmetic(t *testing.T) {
	r, err := run(t, func(s *il.Stream) {
		s.EmitOperand(il.OpLdArg, 0)
		s.EmitOperand(il.OpLdcI4, 3)
		s.Emit(il.OpMul)
		s.EmitOperand(il.OpLdcR4, 0.5)
		s.Emit(il.OpAdd)
		s.Emit(il.OpRet)
	}, int64(4))
	require.NoError(t, err)
	assert.Equal(t, 12.5, r)

	r, err = run(t, func(s *il.Stream) {
		s.EmitOperand(il.OpLdcI4, 7)
		s.EmitOperand(il.OpLdcI4, 2)
		s.Emit(il.OpRem)
		s.Emit(il.OpRet)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r)
}

func TestMachineErrors(t *testing.T) {
	_, err := run(t, func(s *il.Stream) {
		s.EmitOperand(il.OpLdcI4, 1)
		s.EmitOperand(il.OpLdcI4, 0)
		s.Emit(il.OpDiv)
		s.Emit(il.OpRet)
	})
	var exec *ExecError
	require.ErrorAs(t, err, &exec)
	assert.Equal(t, 2, exec.IP)
	assert.ErrorIs(t, err, ErrDivideByZero)

	_, err = run(t, func(s *il.Stream) {
		s.Emit(il.OpPop)
	})
	assert.ErrorIs(t, err, ErrStackUnderflow)

	_, err = run(t, func(s *il.Stream) {
		s.EmitOperand(il.OpCall, il.MethodRef{Owner: "Nowhere", Name: "Missing"})
	})
	assert.ErrorIs(t, err, ErrUnbound)

	m := NewMachine()
	m.MaxSteps = 50
	s := il.NewStream("spin")
	top := s.DefineLabel()
	s.Mark(top)
	s.EmitOperand(il.OpBr, top)
	_, err = m.Run(s)
	assert.ErrorIs(t, err, ErrStepLimit)
}

func TestMachineRejectsInvalidStream(t *testing.T) {
	s := il.NewStream("bad")
	s.Code = append(s.Code,
		&il.Instruction{Op: il.OpLdArg, Operand: "zero"},
		&il.Instruction{Op: il.OpRet},
	)
	var r any
	var err error
	assert.NotPanics(t, func() { r, err = NewMachine().Run(s, int64(1)) })
	assert.ErrorIs(t, err, ErrInvalidRoutine)
	assert.Nil(t, r)
}

func TestMachineComparesLargeIntsExactly(t *testing.T) {
	const id = int64(1)<<53 + 1
	guard := func(s *il.Stream) {
		other := s.DefineLabel()
		s.EmitOperand(il.OpLdArg, 0)
		s.EmitOperand(il.OpLdcI4, id)
		s.EmitOperand(il.OpBneUn, other)
		s.EmitOperand(il.OpLdStr, "match")
		s.Emit(il.OpRet)
		s.Mark(other)
		s.EmitOperand(il.OpLdStr, "other")
		s.Emit(il.OpRet)
	}

	r, err := run(t, guard, id)
	require.NoError(t, err)
	assert.Equal(t, "match", r)

	r, err = run(t, guard, id-1)
	require.NoError(t, err)
	assert.Equal(t, "other", r)

	r, err = run(t, func(s *il.Stream) {
		s.EmitOperand(il.OpLdcI4, id)
		s.EmitOperand(il.OpLdcI4, id-1)
		s.Emit(il.OpCgt)
		s.Emit(il.OpRet)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r)
}

func TestMachineBranches(t *testing.T) {
	// sum 1..n
	sum := func(s *il.Stream) {
		loop, done := s.DefineLabel(), s.DefineLabel()
		s.EmitOperand(il.OpLdcI4, 0)
		s.EmitOperand(il.OpStLoc, 0)
		s.Mark(loop)
		s.EmitOperand(il.OpLdArg, 0)
		s.EmitOperand(il.OpBrFalse, done)
		s.EmitOperand(il.OpLdLoc, 0)
		s.EmitOperand(il.OpLdArg, 0)
		s.Emit(il.OpAdd)
		s.EmitOperand(il.OpStLoc, 0)
		s.EmitOperand(il.OpLdArg, 0)
		s.EmitOperand(il.OpLdcI4, 1)
		s.Emit(il.OpSub)
		s.EmitOperand(il.OpStArg, 0)
		s.EmitOperand(il.OpBr, loop)
		s.Mark(done)
		s.EmitOperand(il.OpLdLoc, 0)
		s.Emit(il.OpRet)
	}
	r, err := run(t, sum, int64(10))
	require.NoError(t, err)
	assert.Equal(t, int64(55), r)
}

func TestCheckVersion(t *testing.T) {
	w := New(Config{})
	assert.NoError(t, host.CheckVersion(w, Version))
	assert.NoError(t, host.CheckVersion(w))

	err := host.CheckVersion(w, "sim-2.0")
	assert.ErrorIs(t, err, host.ErrHostVersion)
	assert.ErrorIs(t, err, patch.ErrPatternNotFound)

	_, err = w.Routine("Nowhere::Nothing")
	assert.ErrorIs(t, err, host.ErrRoutineNotFound)

	_, err = w.Symbols().Method("no.such.symbol")
	assert.ErrorIs(t, err, host.ErrSymbolNotFound)
}

func TestRoutinesAreValid(t *testing.T) {
	w := New(Config{})
	for _, name := range []string{CreateUpgradeInstance, BeginExit, GetLootCount, RandomlyChooseUpgrades} {
		s, err := w.Routine(name)
		require.NoError(t, err, name)
		assert.NoError(t, s.Validate(), name)
	}
}

func TestRoutineIsCopied(t *testing.T) {
	w := New(Config{})
	s, err := w.Routine(GetLootCount)
	require.NoError(t, err)
	s.Code = s.Code[:1]

	again, err := w.Routine(GetLootCount)
	require.NoError(t, err)
	assert.Greater(t, again.Len(), 1)
}

func TestCreateUpgrade(t *testing.T) {
	w := New(Config{})
	up, err := w.CreateUpgrade(Gatherer)
	require.NoError(t, err)
	assert.Equal(t, Gatherer, up.Type())
	assert.Equal(t, "GathererUpgrade", up.Kind)
	assert.Equal(t, -1, up.Slot())

	_, err = w.CreateUpgrade(NumberOfUpgrades + 5)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestBeginExitWearsUpgrades(t *testing.T) {
	w := New(Config{})
	d := w.AddDrone("alpha")

	motion, err := w.CreateUpgrade(Motion)
	require.NoError(t, err)
	gatherer, err := w.CreateUpgrade(Gatherer)
	require.NoError(t, err)
	shield, err := w.CreateUpgrade(Shield)
	require.NoError(t, err)

	gatherer.SetBreakProbability(95)
	shield.Break()
	shield.SetBreakProbability(40)

	require.NoError(t, w.Equip(d, 0, motion))
	require.NoError(t, w.Equip(d, 2, gatherer))
	require.NoError(t, w.Equip(d, 3, shield))

	require.NoError(t, w.BeginExit())

	assert.Equal(t, 5.0, motion.BreakProbability())
	assert.False(t, motion.Broken())
	assert.Equal(t, 105.0, gatherer.BreakProbability())
	assert.True(t, gatherer.Broken())
	assert.Equal(t, 40.0, shield.BreakProbability(), "broken upgrades are skipped")
}

func TestEquipBadSlot(t *testing.T) {
	w := New(Config{})
	d := w.AddDrone("")
	up, err := w.CreateUpgrade(Motion)
	require.NoError(t, err)
	assert.ErrorIs(t, w.Equip(d, SlotsPerDrone, up), ErrBadSlot)
	assert.Equal(t, "drone-1", d.String())
}

func TestLootCount(t *testing.T) {
	w := New(Config{})
	d := w.AddDrone("alpha")
	d.Loot = 12

	n, err := w.LootCount(d, false)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, int64(12), d.Loot)

	n, err = w.LootCount(d, true)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, int64(0), d.Loot)
}

func TestChooseUpgrade(t *testing.T) {
	w := New(Config{Seed: 3})
	for range 50 {
		n, err := w.ChooseUpgrade()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(0))
		assert.Less(t, n, NumberOfUpgrades)
	}
}

func TestAddVariant(t *testing.T) {
	w := New(Config{})
	v := host.Variant{ID: 31, Name: "Salvager", Params: map[string]string{"break-factor": "7.5", "cost": "40"}}
	require.NoError(t, w.AddVariant(v))
	assert.Error(t, w.AddVariant(v))

	def := w.Definition(31)
	require.NotNil(t, def)
	assert.Equal(t, 7.5, def.BreakFactor)
	assert.Equal(t, 40, def.Cost)

	require.NoError(t, w.Enum.Add(31, "Salvager"))
	assert.Contains(t, w.UpgradeNames(), "Salvager")

	w.RemoveVariant(31)
	assert.Nil(t, w.Definition(31))
	assert.NotContains(t, w.UpgradeNames(), "Salvager")

	assert.Error(t, w.AddVariant(host.Variant{ID: 32, Name: "Bad", Params: map[string]string{"cost": "lots"}}))
}

// slotState is what a save must preserve for one slot.
type slotState struct {
	Drone       string
	Slot        int
	Type        string
	Probability float64
	Broken      bool
	Missions    int
}

func loadout(w *World) []slotState {
	var out []slotState
	for _, d := range w.Drones {
		for i, up := range d.Upgrades {
			if up == nil {
				continue
			}
			out = append(out, slotState{
				Drone:       d.Name,
				Slot:        i,
				Type:        w.Enum.String(up.Type()),
				Probability: up.BreakProbability(),
				Broken:      up.Broken(),
				Missions:    up.Missions(),
			})
		}
	}
	return out
}

func TestSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "save.db")

	w := New(Config{})
	a := w.AddDrone("alpha")
	b := w.AddDrone("beta")
	a.Loot = 9

	for _, eq := range []struct {
		d    *Drone
		slot int
		t    int64
	}{{a, 0, Motion}, {a, 3, Shield}, {b, 1, Gatherer}} {
		up, err := w.CreateUpgrade(eq.t)
		require.NoError(t, err)
		require.NoError(t, w.Equip(eq.d, eq.slot, up))
	}
	a.Upgrades[3].Break()
	a.Upgrades[3].AddMission()
	b.Upgrades[1].SetBreakProbability(35)

	f, err := OpenSave(path)
	require.NoError(t, err)
	require.NoError(t, f.Save(ctx, w))
	require.NoError(t, f.Close())

	f, err = OpenSave(path)
	require.NoError(t, err)
	defer f.Close()

	restored := New(Config{})
	restored.AddDrone("stale")
	skipped, err := f.Load(ctx, restored)
	require.NoError(t, err)
	assert.Zero(t, skipped)

	if diff := cmp.Diff(loadout(w), loadout(restored)); diff != "" {
		t.Errorf("loadout mismatch (-saved +loaded):\n%s", diff)
	}
	require.Len(t, restored.Drones, 2)
	assert.Equal(t, int64(9), restored.Drones[0].Loot)
	assert.Equal(t, "ShieldUpgrade", restored.Drones[0].Upgrades[3].Kind)
}

func TestLoadSkipsUnknownVariant(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "save.db")

	w := New(Config{})
	require.NoError(t, w.AddVariant(host.Variant{ID: 33, Name: "Salvager"}))
	require.NoError(t, w.Enum.Add(33, "Salvager"))
	d := w.AddDrone("alpha")
	require.NoError(t, w.Equip(d, 0, newUpgrade(w.Definition(33), "SalvagerUpgrade")))
	motion, err := w.CreateUpgrade(Motion)
	require.NoError(t, err)
	require.NoError(t, w.Equip(d, 1, motion))

	f, err := OpenSave(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Save(ctx, w))

	plain := New(Config{})
	skipped, err := f.Load(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, plain.Drones, 1)
	assert.Nil(t, plain.Drones[0].Upgrades[0])
	assert.NotNil(t, plain.Drones[0].Upgrades[1])
}
