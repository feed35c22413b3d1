// Package sim is a small simulated host: drones carrying upgrades, an
// upgrade enumeration closed at NumberOfUpgrades, and the host routines
// that create, wear down and reward upgrades, all expressed as il
// streams executed by Machine.
package sim

import (
	"math/rand/v2"
	"strconv"

	"github.com/chazu/graft/pkg/enumext"
	"github.com/chazu/graft/pkg/hook"
)

// NumberOfUpgrades is the count sentinel of the native upgrade enumeration.
const NumberOfUpgrades int64 = 20

// SlotsPerDrone is the number of upgrade slots on every drone.
const SlotsPerDrone = 4

var nativeUpgrades = [NumberOfUpgrades]string{
	"Motion", "Gatherer", "Generator", "Scanner", "Towing",
	"Sensor", "Surveyor", "Speed", "Stealth", "Interface",
	"Teleport", "Turret", "BruteTurret", "Cloak", "Detector",
	"Drill", "Shield", "Siphon", "Invulnerability", "Lure",
}

// Native upgrade types referenced by the simulator itself.
const (
	Motion      int64 = 0
	Gatherer    int64 = 1
	BruteTurret int64 = 12
	Shield      int64 = 16
)

// Game modes stored in GlobalSettings.gameMode.
const (
	GameModeNormal int64 = iota
	GameModeIronman
)

// upgradeEnum is the host's own view of the upgrade enumeration.
type upgradeEnum struct{}

var _ enumext.HostEnum = upgradeEnum{}

func (upgradeEnum) Reserved() enumext.Range {
	return enumext.Range{Start: 0, End: NumberOfUpgrades}
}

func (upgradeEnum) Values() []int64 {
	out := make([]int64, NumberOfUpgrades)
	for i := range out {
		out[i] = int64(i)
	}
	return out
}

func (upgradeEnum) Name(v int64) (string, bool) {
	if v < 0 || v >= NumberOfUpgrades {
		return "", false
	}
	return nativeUpgrades[v], true
}

func (upgradeEnum) Parse(name string) (int64, bool) {
	for i, n := range nativeUpgrades {
		if n == name {
			return int64(i), true
		}
	}
	return 0, false
}

// Definition is the static description of an upgrade type.
type Definition struct {
	Type        int64
	Name        string
	Description string
	BreakFactor float64 // break probability added per mission
	Cost        int
}

func nativeDefinitions() []*Definition {
	defs := make([]*Definition, NumberOfUpgrades)
	for i, name := range nativeUpgrades {
		defs[i] = &Definition{
			Type:        int64(i),
			Name:        name,
			Description: name + " upgrade",
			BreakFactor: float64(5 + i%4*5),
			Cost:        10 + i,
		}
	}
	return defs
}

// Upgrade is one upgrade instance. Extension-created upgrades carry the
// extension's State.
type Upgrade struct {
	Def   *Definition
	Kind  string // constructing type
	State hook.Handler

	drone       *Drone
	slot        int
	probability float64
	broken      bool
	missions    int
	reg         hook.Registration
}

func newUpgrade(def *Definition, kind string) *Upgrade {
	return &Upgrade{Def: def, Kind: kind, slot: -1}
}

// Type returns the upgrade's enumeration value.
func (u *Upgrade) Type() int64 { return u.Def.Type }

// Drone returns the drone the upgrade is installed on, if any.
func (u *Upgrade) Drone() *Drone { return u.drone }

// Slot returns the slot index on the drone, or -1.
func (u *Upgrade) Slot() int { return u.slot }

func (u *Upgrade) Broken() bool { return u.broken }

func (u *Upgrade) Break() { u.broken = true }

func (u *Upgrade) BreakProbability() float64 { return u.probability }

func (u *Upgrade) SetBreakProbability(p float64) { u.probability = p }

// Missions returns how many missions the upgrade has been credited with.
func (u *Upgrade) Missions() int { return u.missions }

func (u *Upgrade) AddMission() { u.missions++ }

// Drone is a host aggregate: a fixed set of upgrade slots plus loot.
type Drone struct {
	ID       int
	Name     string
	Upgrades [SlotsPerDrone]*Upgrade
	Loot     int64
}

// Random is the host's random source.
type Random struct {
	rng *rand.Rand
}

// NewRandom creates a seeded random source.
func NewRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns a value in [lo, hi).
func (r *Random) Next(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + r.rng.Int64N(hi-lo)
}

func (d *Drone) String() string {
	if d.Name != "" {
		return d.Name
	}
	return "drone-" + strconv.Itoa(d.ID)
}
