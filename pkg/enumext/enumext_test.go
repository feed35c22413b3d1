package enumext

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns a Probe that yields vals in order.
func scripted(t *testing.T, vals ...int64) (func(lo, hi int64) int64, *[]int64) {
	t.Helper()
	var seen []int64
	return func(lo, hi int64) int64 {
		require.Less(t, len(seen), len(vals), "probed more than scripted")
		v := vals[len(seen)]
		seen = append(seen, v)
		return v
	}, &seen
}

func TestAllocateRejectsKnown(t *testing.T) {
	probe, seen := scripted(t, 21, 25, 22)
	a := &Allocator{Probe: probe}

	id, err := a.Allocate(Range{0, 20}, []int64{21, 25})
	require.NoError(t, err)
	assert.Equal(t, int64(22), id)
	assert.Equal(t, []int64{21, 25, 22}, *seen)
}

func TestAllocateRejectsSentinelAndOutOfRange(t *testing.T) {
	probe, _ := scripted(t, 20, 5, 1000, 30)
	a := &Allocator{Probe: probe, Upper: 100}

	id, err := a.Allocate(Range{0, 20}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), id)
}

func TestAllocateExhaustion(t *testing.T) {
	a := &Allocator{MaxProbes: 4, Probe: func(lo, hi int64) int64 { return 21 }}
	_, err := a.Allocate(Range{0, 20}, []int64{21})
	require.ErrorIs(t, err, ErrIdentifierExhausted)

	var ex *ExhaustionError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 4, ex.Probes)
}

func TestAllocateEmptySpace(t *testing.T) {
	a := &Allocator{Upper: 20}
	_, err := a.Allocate(Range{0, 20}, nil)
	assert.ErrorIs(t, err, ErrIdentifierExhausted)
}

func TestAllocateProperty(t *testing.T) {
	known := []int64{21, 22, 23, 24, 25}
	a := &Allocator{Upper: 40, MaxProbes: 1000}
	for range 200 {
		id, err := a.Allocate(Range{0, 20}, known)
		require.NoError(t, err)
		assert.Greater(t, id, int64(20))
		assert.LessOrEqual(t, id, int64(40))
		assert.NotContains(t, known, id)
	}
}

func TestClaimsAreExclusive(t *testing.T) {
	claims := NewClaims()
	probe, _ := scripted(t, 21, 21, 22)
	a := &Allocator{Probe: probe, Claims: claims}

	first, err := a.Allocate(Range{0, 20}, nil)
	require.NoError(t, err)
	second, err := a.Allocate(Range{0, 20}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(21), first)
	assert.Equal(t, int64(22), second)
	assert.Equal(t, []int64{21, 22}, claims.IDs())

	claims.Label(first, "scavenger")
	owner, ok := claims.Owner(first)
	assert.True(t, ok)
	assert.Equal(t, "scavenger", owner)
}

func TestClaimsConcurrent(t *testing.T) {
	claims := NewClaims()
	a := &Allocator{Upper: 10_000, MaxProbes: 10_000, Claims: claims}

	var wg sync.WaitGroup
	ids := make([]int64, 32)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.Allocate(Range{0, 20}, nil)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
}

type hostEnum struct {
	names []string
}

func (h hostEnum) Reserved() Range { return Range{0, int64(len(h.names))} }

func (h hostEnum) Values() []int64 {
	out := make([]int64, len(h.names))
	for i := range h.names {
		out[i] = int64(i)
	}
	return out
}

func (h hostEnum) Name(v int64) (string, bool) {
	if v < 0 || v >= int64(len(h.names)) {
		return "", false
	}
	return h.names[v], true
}

func (h hostEnum) Parse(s string) (int64, bool) {
	for i, n := range h.names {
		if n == s {
			return int64(i), true
		}
	}
	return 0, false
}

func TestEnumBoundaries(t *testing.T) {
	e := Wrap(hostEnum{names: []string{"Motion", "Gatherer", "Armor"}})
	require.NoError(t, e.Add(77, "Scavenger"))

	assert.Equal(t, []int64{0, 1, 2, 77}, e.Variants())
	assert.Equal(t, "Scavenger", e.String(77))
	assert.Equal(t, "Gatherer", e.String(1))
	assert.Equal(t, "99", e.String(99))

	v, err := e.Parse("Scavenger")
	require.NoError(t, err)
	assert.Equal(t, int64(77), v)

	v, err = e.Parse("Armor")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = e.Parse("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = e.Parse("Nope")
	assert.ErrorIs(t, err, ErrUnknownVariant)

	assert.True(t, e.IsExtension(77))
	assert.False(t, e.IsExtension(1))
}

func TestEnumRoundTrip(t *testing.T) {
	e := Wrap(hostEnum{names: []string{"Motion", "Gatherer"}})
	require.NoError(t, e.Add(123, "Scavenger"))
	for _, v := range e.Variants() {
		got, err := e.Parse(e.String(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestEnumAddCollisions(t *testing.T) {
	e := Wrap(hostEnum{names: []string{"Motion", "Gatherer"}})
	require.NoError(t, e.Add(50, "Scavenger"))
	require.NoError(t, e.Add(50, "Scavenger"), "re-adding the same pair is a no-op")

	assert.ErrorIs(t, e.Add(1, "X"), ErrVariantCollision)
	assert.ErrorIs(t, e.Add(2, "X"), ErrVariantCollision, "sentinel is reserved")
	assert.ErrorIs(t, e.Add(60, "Motion"), ErrVariantCollision)
	assert.ErrorIs(t, e.Add(50, "Other"), ErrVariantCollision)
	assert.ErrorIs(t, e.Add(60, "Scavenger"), ErrVariantCollision)
	assert.ErrorIs(t, e.Add(60, ""), ErrVariantCollision)

	assert.True(t, e.Remove(50))
	assert.False(t, e.Remove(50))
	assert.Equal(t, []int64{0, 1}, e.Variants())
	_, err := e.Parse("Scavenger")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}
