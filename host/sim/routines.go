package sim

import (
	"github.com/chazu/graft/host"
	"github.com/chazu/graft/pkg/il"
)

// Version is the simulated host build.
const Version = "sim-1.4"

// Routine names.
const (
	CreateUpgradeInstance  = "DroneUpgradeFactory::CreateUpgradeInstance"
	BeginExit              = "DungeonManager::BeginExit"
	GetLootCount           = "Drone::GetLootCount"
	RandomlyChooseUpgrades = "DroneManager::RandomlyChooseUpgrades"
)

// Host members referenced by the routines. These are what Symbols
// publishes.
var (
	upgradeCount   = il.MethodRef{Owner: "World", Name: "get_UpgradeCount", HasThis: true, Returns: true}
	upgradeAt      = il.MethodRef{Owner: "World", Name: "UpgradeAt", Params: 1, HasThis: true, Returns: true}
	getBroken      = il.MethodRef{Owner: "BaseDroneUpgrade", Name: "get_Broken", HasThis: true, Returns: true}
	getBreakFactor = il.MethodRef{Owner: "BaseDroneUpgrade", Name: "get_UpgradeBreakFactor", HasThis: true, Returns: true}
	getBreakProb   = il.MethodRef{Owner: "BaseDroneUpgrade", Name: "get_BreakProbability", HasThis: true, Returns: true}
	setBreakProb   = il.MethodRef{Owner: "BaseDroneUpgrade", Name: "set_BreakProbability", Params: 1, HasThis: true}
	breakUpgrade   = il.MethodRef{Owner: "BaseDroneUpgrade", Name: "Break", HasThis: true}
	randomNext     = il.MethodRef{Owner: "Random", Name: "Next", Params: 2, HasThis: true, Returns: true}

	lootField     = il.FieldRef{Owner: "Drone", Name: "lootCount"}
	gameModeField = il.FieldRef{Owner: "GlobalSettings", Name: "gameMode", Static: true}
)

// ctorRef is the constructor of a native upgrade type.
func ctorRef(t int64) il.MethodRef {
	return il.MethodRef{Owner: nativeUpgrades[t] + "Upgrade", Name: ".ctor", Params: 1}
}

// Symbol keys published by the simulator.
const (
	SymUpgradeBreak        = "upgrade.break"
	SymUpgradeBroken       = "upgrade.broken"
	SymUpgradeBreakFactor  = "upgrade.break-factor"
	SymGetBreakProbability = "upgrade.break-probability.get"
	SymSetBreakProbability = "upgrade.break-probability.set"
	SymRandomNext          = "random.next"
	SymGathererCtor        = "ctor.gatherer"
	SymDroneLoot           = "drone.loot"
	SymSettingsGameMode    = "settings.game-mode"
	SymWorldUpgradeCount   = "world.upgrade-count"
	SymWorldUpgradeAt      = "world.upgrade-at"
)

func symbols() *host.Symbols {
	return host.NewSymbols(Version).
		DefineMethod(SymUpgradeBreak, breakUpgrade).
		DefineMethod(SymUpgradeBroken, getBroken).
		DefineMethod(SymUpgradeBreakFactor, getBreakFactor).
		DefineMethod(SymGetBreakProbability, getBreakProb).
		DefineMethod(SymSetBreakProbability, setBreakProb).
		DefineMethod(SymRandomNext, randomNext).
		DefineMethod(SymGathererCtor, ctorRef(Gatherer)).
		DefineMethod(SymWorldUpgradeCount, upgradeCount).
		DefineMethod(SymWorldUpgradeAt, upgradeAt).
		DefineField(SymDroneLoot, lootField).
		DefineField(SymSettingsGameMode, gameModeField)
}

// createUpgradeInstance(type, definition) -> upgrade
//
// One switch case per native type; unknown types fall through to the exit
// and return null.
func createUpgradeInstance() *il.Stream {
	s := il.NewStream(CreateUpgradeInstance)
	end := s.DefineLabel()
	cases := make([]il.Label, NumberOfUpgrades)
	for i := range cases {
		cases[i] = s.DefineLabel()
	}

	s.Emit(il.OpLdNull)
	s.EmitOperand(il.OpStLoc, 0)
	s.EmitOperand(il.OpLdArg, 0)
	s.EmitOperand(il.OpSwitch, cases)
	s.EmitOperand(il.OpBr, end)

	for i, l := range cases {
		s.Mark(l)
		s.EmitOperand(il.OpLdArg, 1)
		s.EmitOperand(il.OpNewObj, ctorRef(int64(i)))
		s.EmitOperand(il.OpStLoc, 0)
		s.EmitOperand(il.OpBr, end)
	}

	s.Mark(end)
	s.EmitOperand(il.OpLdLoc, 0)
	s.Emit(il.OpRet)
	return s
}

// beginExit(world)
//
// Every installed, unbroken upgrade accrues its break factor; upgrades at
// or past 100 break.
func beginExit() *il.Stream {
	s := il.NewStream(BeginExit)
	loop := s.DefineLabel()
	next := s.DefineLabel()
	done := s.DefineLabel()

	const (
		i       = 0
		upgrade = 1
		damage  = 2
	)

	s.EmitOperand(il.OpLdcI4, 0)
	s.EmitOperand(il.OpStLoc, i)

	s.Mark(loop)
	s.EmitOperand(il.OpLdLoc, i)
	s.EmitOperand(il.OpLdArg, 0)
	s.EmitOperand(il.OpCallVirt, upgradeCount)
	s.EmitOperand(il.OpBge, done)

	s.EmitOperand(il.OpLdArg, 0)
	s.EmitOperand(il.OpLdLoc, i)
	s.EmitOperand(il.OpCallVirt, upgradeAt)
	s.EmitOperand(il.OpStLoc, upgrade)

	s.EmitOperand(il.OpLdLoc, upgrade)
	s.EmitOperand(il.OpBrFalse, next)
	s.EmitOperand(il.OpLdLoc, upgrade)
	s.EmitOperand(il.OpCallVirt, getBroken)
	s.EmitOperand(il.OpBrTrue, next)

	s.EmitOperand(il.OpLdLoc, upgrade)
	s.EmitOperand(il.OpCallVirt, getBreakFactor)
	s.EmitOperand(il.OpStLoc, damage)

	s.EmitOperand(il.OpLdLoc, upgrade)
	s.EmitOperand(il.OpLdLoc, upgrade)
	s.EmitOperand(il.OpCallVirt, getBreakProb)
	s.EmitOperand(il.OpLdLoc, damage)
	s.Emit(il.OpAdd)
	s.EmitOperand(il.OpCallVirt, setBreakProb)

	s.EmitOperand(il.OpLdLoc, upgrade)
	s.EmitOperand(il.OpCallVirt, getBreakProb)
	s.EmitOperand(il.OpLdcR4, 100)
	s.Emit(il.OpClt)
	s.EmitOperand(il.OpBrTrue, next)

	s.EmitOperand(il.OpLdLoc, upgrade)
	s.EmitOperand(il.OpCallVirt, breakUpgrade)

	s.Mark(next)
	s.EmitOperand(il.OpLdLoc, i)
	s.EmitOperand(il.OpLdcI4, 1)
	s.Emit(il.OpAdd)
	s.EmitOperand(il.OpStLoc, i)
	s.EmitOperand(il.OpBr, loop)

	s.Mark(done)
	s.Emit(il.OpRet)
	return s
}

// getLootCount(drone, clear) -> loot
func getLootCount() *il.Stream {
	s := il.NewStream(GetLootCount)
	keep := s.DefineLabel()

	s.EmitOperand(il.OpLdArg, 0)
	s.EmitOperand(il.OpLdFld, lootField)
	s.EmitOperand(il.OpStLoc, 0)

	s.EmitOperand(il.OpLdArg, 1)
	s.EmitOperand(il.OpBrFalse, keep)
	s.EmitOperand(il.OpLdArg, 0)
	s.EmitOperand(il.OpLdcI4, 0)
	s.EmitOperand(il.OpStFld, lootField)

	s.Mark(keep)
	s.EmitOperand(il.OpLdLoc, 0)
	s.Emit(il.OpRet)
	return s
}

// randomlyChooseUpgrades(rng) -> type
func randomlyChooseUpgrades() *il.Stream {
	s := il.NewStream(RandomlyChooseUpgrades)
	const (
		id     = 0
		chosen = 1
		mode   = 2
	)

	s.EmitOperand(il.OpLdsFld, gameModeField)
	s.EmitOperand(il.OpStLoc, mode)

	s.EmitOperand(il.OpLdArg, 0)
	s.EmitOperand(il.OpLdcI4, 0)
	s.EmitOperand(il.OpLdcI4, NumberOfUpgrades)
	s.EmitOperand(il.OpCallVirt, randomNext)
	s.EmitOperand(il.OpStLoc, id)

	s.EmitOperand(il.OpLdLoc, id)
	s.EmitOperand(il.OpStLoc, chosen)

	s.EmitOperand(il.OpLdLoc, chosen)
	s.Emit(il.OpRet)
	return s
}
