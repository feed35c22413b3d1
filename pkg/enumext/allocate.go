// Package enumext adds variants to a host enumeration the extension does
// not own: it allocates collision-free identifiers and wraps the host's
// render and parse boundaries so extension variants look native.
package enumext

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("graft.enumext")

// ErrIdentifierExhausted is wrapped by ExhaustionError.
var ErrIdentifierExhausted = errors.New("extension identifier space exhausted")

// DefaultMaxProbes bounds allocation when Allocator.MaxProbes is zero.
const DefaultMaxProbes = 64

// Range is the host's reserved range [Start, End). End is the host's own
// count sentinel and is treated as reserved as well.
type Range struct {
	Start int64
	End   int64
}

// Reserved reports whether v belongs to the host.
func (r Range) Reserved(v int64) bool {
	return v >= r.Start && v <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// ExhaustionError reports that no free identifier was found.
type ExhaustionError struct {
	Reserved Range
	Upper    int64
	Probes   int
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("%s: no free id in (%d,%d] after %d probes", ErrIdentifierExhausted, e.Reserved.End, e.Upper, e.Probes)
}

func (e *ExhaustionError) Unwrap() error {
	return ErrIdentifierExhausted
}

// Allocator draws extension identifiers at random from the space above the
// host's reserved range. The zero value is ready to use.
type Allocator struct {
	MaxProbes int   // 0 means DefaultMaxProbes
	Upper     int64 // inclusive; 0 means math.MaxInt32

	// Probe returns a candidate in [lo, hi]. Nil means uniform random.
	Probe func(lo, hi int64) int64

	// Claims, when set, is consulted and updated atomically with each
	// accepted probe.
	Claims *Claims
}

// Allocate returns an id above reserved that is not in known and, when
// a.Claims is set, not claimed by another extension in this process.
func (a *Allocator) Allocate(reserved Range, known []int64) (int64, error) {
	maxProbes := a.MaxProbes
	if maxProbes <= 0 {
		maxProbes = DefaultMaxProbes
	}
	upper := a.Upper
	if upper == 0 {
		upper = math.MaxInt32
	}
	probe := a.Probe
	if probe == nil {
		probe = uniform
	}

	lo := reserved.End + 1
	if lo > upper {
		return 0, &ExhaustionError{Reserved: reserved, Upper: upper}
	}

	for n := 1; n <= maxProbes; n++ {
		id := probe(lo, upper)
		switch {
		case id < lo || id > upper:
			log.Debugf("probe %d: %d outside (%d,%d]", n, id, reserved.End, upper)
		case slices.Contains(known, id):
			log.Debugf("probe %d: %d is known", n, id)
		case a.Claims != nil && !a.Claims.Claim(id):
			log.Debugf("probe %d: %d already claimed", n, id)
		default:
			log.Infof("allocated extension id %d after %d probe(s)", id, n)
			return id, nil
		}
	}
	return 0, &ExhaustionError{Reserved: reserved, Upper: upper, Probes: maxProbes}
}

func uniform(lo, hi int64) int64 {
	return lo + rand.Int64N(hi-lo+1)
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

// Claims is the set of identifiers taken by extensions in this process.
// Claims are never released: an id baked into patched routines and save
// files must not be handed out again while the process lives.
type Claims struct {
	mu  sync.Mutex
	ids map[int64]string
}

// DefaultClaims is shared by every extension loaded into the process.
var DefaultClaims = NewClaims()

// NewClaims creates an empty claim set.
func NewClaims() *Claims {
	return &Claims{ids: make(map[int64]string)}
}

// Claim records id and reports whether it was free.
func (c *Claims) Claim(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.ids[id]; taken {
		return false
	}
	c.ids[id] = ""
	return true
}

// Label names the owner of a claimed id, for diagnostics.
func (c *Claims) Label(id int64, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; ok {
		c.ids[id] = owner
	}
}

// Owner returns the label recorded for id.
func (c *Claims) Owner(id int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.ids[id]
	return owner, ok
}

// IDs returns the claimed ids in ascending order.
func (c *Claims) IDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
