package scavenger

import (
	"math"
	"sync"

	"github.com/chazu/graft/pkg/hook"
)

// Component is the host upgrade a Scavenger state is attached to.
type Component interface {
	Broken() bool
	Break()
	BreakProbability() float64
	SetBreakProbability(p float64)
	AddMission()
}

// MissionState tracks whether a Scavenger did anything this mission.
type MissionState int

const (
	Idle MissionState = iota
	ActivatedThisMission
)

func (s MissionState) String() string {
	if s == ActivatedThisMission {
		return "activated"
	}
	return "idle"
}

// BrokenLoot is the scrap salvaged when a sibling breaks outright.
const BrokenLoot = 3

// Upgrade is the extension state of one Scavenger upgrade. It salvages
// scrap from siblings on the same drone as they wear down, and wears down
// with them.
type Upgrade struct {
	self Component

	mu    sync.Mutex
	state MissionState
	loot  int64
}

var _ hook.Handler = (*Upgrade)(nil)

// NewUpgrade attaches Scavenger state to a host component.
func NewUpgrade(self Component) *Upgrade {
	return &Upgrade{self: self}
}

// State returns the mission state.
func (u *Upgrade) State() MissionState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Loot returns the scrap held and not yet collected.
func (u *Upgrade) Loot() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.loot
}

// HandleEvent implements hook.Handler.
func (u *Upgrade) HandleEvent(ev hook.Event, p *hook.Payload) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch ev {
	case hook.SiblingBroken:
		if u.fromSelf(p) || u.self.Broken() {
			return
		}
		u.self.Break()
		u.state = ActivatedThisMission
		u.loot += BrokenLoot
		log.Debugf("salvaged %d from broken sibling", BrokenLoot)

	case hook.SiblingDamaged:
		if u.fromSelf(p) || u.self.Broken() {
			return
		}
		u.self.SetBreakProbability(u.self.BreakProbability() + p.Magnitude)
		u.state = ActivatedThisMission
		src, ok := p.Source.(interface{ BreakProbability() float64 })
		if !ok {
			return
		}
		n := salvage(src.BreakProbability(), p.Magnitude)
		u.loot += n
		log.Debugf("salvaged %d from damaged sibling (%.1f)", n, p.Magnitude)

	case hook.MissionEnd:
		if u.state == ActivatedThisMission {
			u.self.AddMission()
		}
		u.state = Idle

	case hook.LootQuery:
		p.Value += u.loot
		if p.Flag {
			u.loot = 0
		}
	}
}

func (u *Upgrade) fromSelf(p *hook.Payload) bool {
	return p.Source != nil && p.Source == any(u.self)
}

// salvage is the scrap gained when a sibling's break probability rises by
// damage to after: a fifth of where it started plus half of the rise,
// counted in whole points.
func salvage(after, damage float64) int64 {
	before := after - damage
	return int64(math.Floor(before/5)) + int64(math.Floor(after/2)) - int64(math.Floor(before/2))
}
