package scavenger

import (
	"github.com/chazu/graft/extension"
	"github.com/chazu/graft/host"
	"github.com/chazu/graft/host/sim"
	"github.com/chazu/graft/pkg/hook"
	"github.com/chazu/graft/pkg/il"
	"github.com/chazu/graft/pkg/patch"
	"github.com/chazu/graft/pkg/pattern"
)

// Target names, as listed in a manifest's activation.targets.
const (
	TargetFactory    = "factory"
	TargetBreak      = "break"
	TargetDamage     = "damage"
	TargetMissionEnd = "mission-end"
	TargetLoot       = "loot"
	TargetChooser    = "chooser"
)

// Targets builds every Scavenger patch for the dispatcher's variant.
func (m *Mod) Targets(d *hook.Dispatcher, sym *host.Symbols) ([]extension.Target, error) {
	sites := d.CallSites()

	refs, err := sym.Lookup(
		sim.SymGathererCtor,
		sim.SymUpgradeBreak,
		sim.SymUpgradeBreakFactor,
		sim.SymGetBreakProbability,
		sim.SymSetBreakProbability,
		sim.SymRandomNext,
	)
	if err != nil {
		return nil, err
	}
	gathererCtor, breakRef, factorRef, getProb, setProb, randomNext := refs[0], refs[1], refs[2], refs[3], refs[4], refs[5]

	gameMode, err := sym.Field(sim.SymSettingsGameMode)
	if err != nil {
		return nil, err
	}

	factory, err := patch.NewSpec(patch.Options{
		Name: "scavenger-factory",
		Pattern: pattern.MustNew("gatherer-case",
			pattern.At("switch", pattern.Op(il.OpSwitch)),
			pattern.At("exit", pattern.Op(il.OpBr)),
			pattern.Eventually("load", pattern.Op(il.OpLdArg)),
			pattern.Then(pattern.Is(il.OpNewObj, gathererCtor)),
			pattern.At("store", pattern.Op(il.OpStLoc)),
			pattern.Eventually("target", pattern.LabeledBy("exit")),
		),
		Policy:   patch.FirstMatch,
		Anchor:   "target",
		Position: patch.Before,
		Labels:   patch.MoveLabels,
		Guard:    &patch.Guard{Load: []patch.Emit{patch.Inst(il.OpLdArg, 0)}, Value: d.ID()},
		Body: []patch.Emit{
			patch.Copy("load"),
			patch.Inst(il.OpNewObj, sites.Construct),
			patch.Copy("store"),
		},
	})
	if err != nil {
		return nil, err
	}

	breakHook, err := patch.NewSpec(patch.Options{
		Name: "scavenger-break",
		Pattern: pattern.MustNew("break",
			pattern.At("upgrade", pattern.Op(il.OpLdLoc)),
			pattern.At("break", pattern.Is(il.OpCallVirt, breakRef)),
		),
		Policy:   patch.AllMatches,
		Anchor:   "break",
		Position: patch.After,
		Body: []patch.Emit{
			patch.Copy("upgrade"),
			patch.Inst(il.OpLdcI4, int64(hook.SiblingBroken)),
			patch.Inst(il.OpLdcR4, 0.0),
			patch.Inst(il.OpCall, sites.NotifyComponent),
		},
	})
	if err != nil {
		return nil, err
	}

	damageHook, err := patch.NewSpec(patch.Options{
		Name: "scavenger-damage",
		Pattern: pattern.MustNew("wear",
			pattern.At("factor", pattern.Is(il.OpCallVirt, factorRef)),
			pattern.Eventually("upgrade", pattern.Op(il.OpLdLoc)),
			pattern.Then(pattern.Is(il.OpCallVirt, getProb)),
			pattern.At("damage", pattern.Op(il.OpLdLoc)),
			pattern.Then(pattern.Op(il.OpAdd)),
			pattern.At("set", pattern.Is(il.OpCallVirt, setProb)),
		),
		Policy:   patch.FirstMatch,
		Anchor:   "set",
		Position: patch.After,
		Body: []patch.Emit{
			patch.Copy("upgrade"),
			patch.Inst(il.OpLdcI4, int64(hook.SiblingDamaged)),
			patch.Copy("damage"),
			patch.Inst(il.OpCall, sites.NotifyComponent),
		},
	})
	if err != nil {
		return nil, err
	}

	missionEnd, err := patch.NewSpec(patch.Options{
		Name:     "scavenger-mission-end",
		Pattern:  pattern.MustNew("return", pattern.At("ret", pattern.Op(il.OpRet))),
		Policy:   patch.AllMatches,
		Position: patch.Before,
		Labels:   patch.MoveLabels,
		Body: []patch.Emit{
			patch.Inst(il.OpLdArg, 0),
			patch.Inst(il.OpLdcI4, int64(hook.MissionEnd)),
			patch.Inst(il.OpLdcR4, 0.0),
			patch.Inst(il.OpCall, sites.NotifyAggregate),
		},
	})
	if err != nil {
		return nil, err
	}

	loot, err := patch.NewSpec(patch.Options{
		Name: "scavenger-loot",
		Pattern: pattern.MustNew("loot-result",
			pattern.At("result", pattern.Op(il.OpLdLoc)),
			pattern.At("ret", pattern.Op(il.OpRet)),
		),
		Policy:   patch.FirstMatch,
		Anchor:   "ret",
		Position: patch.Before,
		Stack:    patch.Stack{Consumes: 1, Produces: 1},
		Body: []patch.Emit{
			patch.Inst(il.OpLdArg, 0),
			patch.Inst(il.OpLdcI4, int64(hook.LootQuery)),
			patch.Inst(il.OpLdArg, 1),
			patch.Inst(il.OpCall, sites.Accumulate),
		},
	})
	if err != nil {
		return nil, err
	}

	choose := d.Define("RandomlyChooseUpgrade", 1, true, m.chooseUpgrade)
	chooser, err := patch.NewSpec(patch.Options{
		Name: "scavenger-chooser",
		Pattern: pattern.MustNew("random-upgrade",
			pattern.At("mode", pattern.Is(il.OpLdsFld, gameMode)),
			pattern.Eventually("next", pattern.Is(il.OpCallVirt, randomNext)),
			pattern.At("id", pattern.Op(il.OpStLoc)),
			pattern.Eventually("load", pattern.SameOperand(il.OpLdLoc, "id")),
			pattern.At("store", pattern.Op(il.OpStLoc)),
		),
		Policy:   patch.FirstMatch,
		Anchor:   "store",
		Position: patch.After,
		Body: []patch.Emit{
			patch.Inst(il.OpLdArg, 0),
			patch.Inst(il.OpCall, choose),
			patch.Copy("store"),
		},
	})
	if err != nil {
		return nil, err
	}

	return []extension.Target{
		{Name: TargetFactory, Routine: sim.CreateUpgradeInstance, Spec: factory},
		{Name: TargetBreak, Routine: sim.BeginExit, Spec: breakHook},
		{Name: TargetDamage, Routine: sim.BeginExit, Spec: damageHook},
		{Name: TargetMissionEnd, Routine: sim.BeginExit, Spec: missionEnd},
		{Name: TargetLoot, Routine: sim.GetLootCount, Spec: loot},
		{Name: TargetChooser, Routine: sim.RandomlyChooseUpgrades, Spec: chooser},
	}, nil
}
