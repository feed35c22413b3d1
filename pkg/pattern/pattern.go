// Package pattern recognizes instruction shapes inside an il.Stream.
//
// A Pattern is an ordered list of steps. Each step tests one instruction;
// contiguous steps must match the instruction immediately after the
// previous step, gapped steps may skip any number of instructions first.
// Steps may name a capture slot so that later steps, and the patch that
// consumes the match, can reuse the instruction found there.
package pattern

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/chazu/graft/pkg/il"
)

// ErrInvalidPattern is wrapped by every pattern construction error.
var ErrInvalidPattern = errors.New("invalid pattern")

// Capture is an instruction recorded in a capture slot.
type Capture struct {
	Index int
	Instr *il.Instruction
}

// Captures maps slot names to what was found there.
type Captures map[string]Capture

// Operand returns the operand captured in slot.
func (c Captures) Operand(slot string) (any, bool) {
	cp, ok := c[slot]
	if !ok {
		return nil, false
	}
	return cp.Instr.Operand, true
}

// Predicate tests one instruction, optionally against earlier captures.
type Predicate struct {
	desc string
	refs []string // capture slots the predicate reads
	fn   func(in *il.Instruction, c Captures) bool
}

func (p Predicate) String() string {
	return p.desc
}

func (p Predicate) test(in *il.Instruction, c Captures) bool {
	return p.fn(in, c)
}

// Any matches every instruction.
func Any() Predicate {
	return Predicate{desc: "*", fn: func(*il.Instruction, Captures) bool { return true }}
}

// Op matches an opcode regardless of operand.
func Op(op il.Opcode) Predicate {
	return Predicate{desc: op.String(), fn: func(in *il.Instruction, _ Captures) bool {
		return in.Op == op
	}}
}

// OpIn matches any of the given opcodes.
func OpIn(ops ...il.Opcode) Predicate {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.String()
	}
	return Predicate{desc: strings.Join(names, "|"), fn: func(in *il.Instruction, _ Captures) bool {
		for _, op := range ops {
			if in.Op == op {
				return true
			}
		}
		return false
	}}
}

// Is matches an opcode with an exact operand.
func Is(op il.Opcode, operand any) Predicate {
	want := il.New(op, operand).Operand
	return Predicate{desc: op.String() + " " + il.FormatOperand(want), fn: func(in *il.Instruction, _ Captures) bool {
		return in.Is(op, want)
	}}
}

// Where matches an opcode class, e.g. il.Opcode.IsLoad.
func Where(desc string, class func(il.Opcode) bool) Predicate {
	return Predicate{desc: desc, fn: func(in *il.Instruction, _ Captures) bool {
		return class(in.Op)
	}}
}

// LabeledBy matches the instruction that carries the branch target of the
// instruction captured in slot.
func LabeledBy(slot string) Predicate {
	return Predicate{desc: "labeled(" + slot + ")", refs: []string{slot}, fn: func(in *il.Instruction, c Captures) bool {
		cp, ok := c[slot]
		if !ok {
			return false
		}
		for _, l := range cp.Instr.Targets() {
			if in.HasLabel(l) {
				return true
			}
		}
		return false
	}}
}

// SameOperand matches an opcode whose operand equals the operand of the
// instruction captured in slot.
func SameOperand(op il.Opcode, slot string) Predicate {
	return Predicate{desc: op.String() + " =" + slot, refs: []string{slot}, fn: func(in *il.Instruction, c Captures) bool {
		operand, ok := c.Operand(slot)
		return ok && in.Op == op && il.OperandEqual(in.Operand, operand)
	}}
}

// And matches when every predicate matches.
func And(ps ...Predicate) Predicate {
	descs := make([]string, len(ps))
	var refs []string
	for i, p := range ps {
		descs[i] = p.desc
		refs = append(refs, p.refs...)
	}
	return Predicate{desc: "(" + strings.Join(descs, " & ") + ")", refs: refs, fn: func(in *il.Instruction, c Captures) bool {
		for _, p := range ps {
			if !p.test(in, c) {
				return false
			}
		}
		return true
	}}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return Predicate{desc: "!" + p.desc, refs: p.refs, fn: func(in *il.Instruction, c Captures) bool {
		return !p.test(in, c)
	}}
}

// Step is one element of a Pattern.
type Step struct {
	Slot  string // capture slot, empty for none
	Gap   bool   // may skip non-matching instructions first
	Match Predicate
}

// At is a contiguous step captured in slot ("" for no capture).
func At(slot string, p Predicate) Step {
	return Step{Slot: slot, Match: p}
}

// Then is an uncaptured contiguous step.
func Then(p Predicate) Step {
	return Step{Match: p}
}

// Eventually is a gapped step captured in slot ("" for no capture).
func Eventually(slot string, p Predicate) Step {
	return Step{Slot: slot, Gap: true, Match: p}
}

// Pattern is an immutable instruction shape.
type Pattern struct {
	name  string
	steps []Step
	slots map[string]int // slot -> step index
	span  int            // longest contiguous run
	reads [][]string     // slots read by steps[i:]
}

// New builds a pattern. The first step may not be gapped, slot names must
// be unique and predicates may only read slots captured by earlier steps.
func New(name string, steps ...Step) (*Pattern, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w %q: no steps", ErrInvalidPattern, name)
	}
	if steps[0].Gap {
		return nil, fmt.Errorf("%w %q: first step cannot be gapped", ErrInvalidPattern, name)
	}

	p := &Pattern{
		name:  name,
		steps: make([]Step, len(steps)),
		slots: make(map[string]int),
	}
	copy(p.steps, steps)

	run := 0
	for i, st := range p.steps {
		if st.Match.fn == nil {
			return nil, fmt.Errorf("%w %q: step %d has no predicate", ErrInvalidPattern, name, i)
		}
		for _, ref := range st.Match.refs {
			if _, ok := p.slots[ref]; !ok {
				return nil, fmt.Errorf("%w %q: step %d reads slot %q before it is captured", ErrInvalidPattern, name, i, ref)
			}
		}
		if st.Slot != "" {
			if _, dup := p.slots[st.Slot]; dup {
				return nil, fmt.Errorf("%w %q: duplicate slot %q", ErrInvalidPattern, name, st.Slot)
			}
			p.slots[st.Slot] = i
		}
		if st.Gap {
			run = 1
		} else {
			run++
		}
		p.span = max(p.span, run)
	}

	p.reads = make([][]string, len(p.steps)+1)
	for i := len(p.steps) - 1; i >= 0; i-- {
		p.reads[i] = p.reads[i+1]
		for _, ref := range p.steps[i].Match.refs {
			if !slices.Contains(p.reads[i], ref) {
				p.reads[i] = append(slices.Clone(p.reads[i]), ref)
			}
		}
	}
	return p, nil
}

// MustNew is New that panics on error. For package-level patterns.
func MustNew(name string, steps ...Step) *Pattern {
	p, err := New(name, steps...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the pattern name.
func (p *Pattern) Name() string {
	return p.name
}

// Len returns the number of steps.
func (p *Pattern) Len() int {
	return len(p.steps)
}

// Span returns the longest run of contiguous steps, which bounds how far
// back the scanner ever has to remember.
func (p *Pattern) Span() int {
	return p.span
}

// StepOf returns the step index that captures slot.
func (p *Pattern) StepOf(slot string) (int, bool) {
	i, ok := p.slots[slot]
	return i, ok
}

// String renders the pattern for diagnostics.
func (p *Pattern) String() string {
	parts := make([]string, len(p.steps))
	for i, st := range p.steps {
		s := st.Match.desc
		if st.Slot != "" {
			s = st.Slot + "=" + s
		}
		if st.Gap {
			s = "... " + s
		}
		parts[i] = s
	}
	return p.name + ": " + strings.Join(parts, " ; ")
}
