package pattern

import (
	"maps"
	"strconv"
	"strings"

	"github.com/chazu/graft/pkg/il"
)

// Match is one occurrence of a pattern.
type Match struct {
	Start     int   // index of the first matched instruction
	End       int   // index of the last matched instruction
	Positions []int // instruction index of each step
	Captures  Captures
}

// Position returns the instruction index matched by step i.
func (m Match) Position(step int) int {
	return m.Positions[step]
}

// partial is a match in progress.
type partial struct {
	step      int // next step to satisfy
	positions []int
	captures  Captures
}

// key identifies what the rest of the scan can observe of pt: the next
// step and the captures that step or any later one reads. Partials with
// the same key complete at the same instruction or not at all.
func (pt partial) key(p *Pattern) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(pt.step))
	for _, slot := range p.reads[pt.step] {
		b.WriteByte(',')
		if cp, ok := pt.captures[slot]; ok {
			b.WriteString(strconv.Itoa(cp.Index))
		}
	}
	return b.String()
}

func (pt partial) advance(p *Pattern, idx int, in *il.Instruction) partial {
	next := partial{
		step:      pt.step + 1,
		positions: append(append(make([]int, 0, len(p.steps)), pt.positions...), idx),
		captures:  pt.captures,
	}
	if slot := p.steps[pt.step].Slot; slot != "" {
		next.captures = maps.Clone(pt.captures)
		if next.captures == nil {
			next.captures = make(Captures)
		}
		next.captures[slot] = Capture{Index: idx, Instr: in}
	}
	return next
}

// Scan finds every non-overlapping occurrence of p in s in a single forward
// pass. s is never modified.
//
// The scanner keeps only partial matches. A partial waiting on a contiguous
// step survives exactly one more instruction, so the lookback never exceeds
// p.Span(). A partial waiting on a gapped step lives until the step is
// satisfied or the stream ends; partials still open at the end are
// discarded. When a gapped step matches, the waiting partial is kept as
// well, so a later candidate can still complete the pattern if the earlier
// one dead-ends. Partials that can no longer be told apart are collapsed
// into the earliest, so without capture references the live set never
// holds more than one partial per step.
//
// The first partial to complete wins; all other partials are dropped and
// scanning resumes after the match. The result is a pure function of s and
// p.
func Scan(s *il.Stream, p *Pattern) []Match {
	var matches []Match
	var live []partial

	for idx, in := range s.Code {
		next := make([]partial, 0, len(live)+1)
		seen := make(map[string]bool, len(live)+1)
		keep := func(pt partial) {
			k := pt.key(p)
			if !seen[k] {
				seen[k] = true
				next = append(next, pt)
			}
		}
		var done *partial

		candidates := append(live, partial{})
		for _, pt := range candidates {
			step := p.steps[pt.step]
			if step.Match.test(in, pt.captures) {
				adv := pt.advance(p, idx, in)
				if adv.step == len(p.steps) {
					done = &adv
					break
				}
				keep(adv)
			}
			if step.Gap {
				keep(pt)
			}
		}

		if done != nil {
			matches = append(matches, Match{
				Start:     done.positions[0],
				End:       idx,
				Positions: done.positions,
				Captures:  done.captures,
			})
			live = nil
			continue
		}
		live = next
	}
	return matches
}

// First returns the first occurrence of p in s.
func First(s *il.Stream, p *Pattern) (Match, bool) {
	matches := Scan(s, p)
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}
