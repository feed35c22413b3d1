package patch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/graft/pkg/il"
	"github.com/chazu/graft/pkg/pattern"
)

var (
	// ErrPatternNotFound means a spec's trigger pattern did not occur in the
	// routine. The routine is left untouched.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrInvalidSpec is wrapped by every spec construction error.
	ErrInvalidSpec = errors.New("invalid patch spec")

	// ErrUndeclaredPolicy means a spec did not say whether it applies once
	// or at every match.
	ErrUndeclaredPolicy = fmt.Errorf("%w: repetition policy not declared", ErrInvalidSpec)

	// ErrStackDiscipline means an instantiated fragment does not have the
	// stack effect its spec declares.
	ErrStackDiscipline = errors.New("fragment violates declared stack effect")

	// ErrLabelIntegrity is re-exported from il for callers of Apply.
	ErrLabelIntegrity = il.ErrLabelIntegrity
)

// PatternNotFoundError names the spec and routine that failed to match.
type PatternNotFoundError struct {
	Spec    string
	Pattern string
	Routine string
}

func (e *PatternNotFoundError) Error() string {
	return fmt.Sprintf("patch %s: pattern %s not found in %s", e.Spec, e.Pattern, e.Routine)
}

func (e *PatternNotFoundError) Unwrap() error {
	return ErrPatternNotFound
}

// Policy says how many matches a spec is applied to.
type Policy int

const (
	PolicyUndeclared Policy = iota
	FirstMatch
	AllMatches
)

func (p Policy) String() string {
	switch p {
	case FirstMatch:
		return "first-match"
	case AllMatches:
		return "all-matches"
	default:
		return "undeclared"
	}
}

// Position places the fragment relative to the anchor instruction.
type Position int

const (
	Before Position = iota
	After
	Replace
)

func (p Position) String() string {
	switch p {
	case Before:
		return "before"
	case After:
		return "after"
	case Replace:
		return "replace"
	default:
		return fmt.Sprintf("Position(%d)", int(p))
	}
}

// LabelPolicy decides what happens to labels on the anchor when the
// fragment goes in front of it.
type LabelPolicy int

const (
	// MoveLabels moves the anchor's labels to the fragment's first
	// instruction: jumps to the anchor now run the fragment first.
	MoveLabels LabelPolicy = iota
	// KeepLabels leaves them on the anchor: only fall-through runs the
	// fragment.
	KeepLabels
)

// Emit is one instruction of a fragment template.
type Emit struct {
	Op      il.Opcode
	Operand any
	Slot    string // take the operand (or, with Copy, the whole instruction) from this capture
	Copy    bool
}

// Inst emits a literal instruction.
func Inst(op il.Opcode, operand any) Emit {
	return Emit{Op: op, Operand: il.New(op, operand).Operand}
}

// Copy re-emits the opcode and operand of the captured instruction.
func Copy(slot string) Emit {
	return Emit{Slot: slot, Copy: true}
}

// FromSlot emits op with the operand of the captured instruction.
func FromSlot(op il.Opcode, slot string) Emit {
	return Emit{Op: op, Slot: slot}
}

// Guard skips the fragment unless the value produced by Load equals Value.
// It expands to: Load...; ldc.i4 Value; bne.un after; body...; after: anchor.
type Guard struct {
	Load  []Emit
	Value int64
}

// Stack is the declared stack effect of a fragment: how many values that
// were already on the stack it consumes and how many it leaves in their
// place.
type Stack struct {
	Consumes int
	Produces int
}

// Net returns the net depth change.
func (s Stack) Net() int {
	return s.Produces - s.Consumes
}

// Options configures NewSpec.
type Options struct {
	Name     string
	Pattern  *pattern.Pattern
	Policy   Policy
	Anchor   string // capture slot of the anchor, empty for the final step
	Position Position
	Labels   LabelPolicy
	Guard    *Guard
	Body     []Emit
	Stack    Stack
}

// Spec is an immutable patch specification.
type Spec struct {
	name     string
	pattern  *pattern.Pattern
	policy   Policy
	anchor   int // step index
	position Position
	labels   LabelPolicy
	guard    *Guard
	body     []Emit
	stack    Stack
}

// NewSpec validates opts and builds a Spec.
func NewSpec(opts Options) (*Spec, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidSpec)
	}
	if opts.Pattern == nil {
		return nil, fmt.Errorf("%w %s: missing pattern", ErrInvalidSpec, opts.Name)
	}
	if opts.Policy != FirstMatch && opts.Policy != AllMatches {
		return nil, fmt.Errorf("spec %s: %w", opts.Name, ErrUndeclaredPolicy)
	}
	if len(opts.Body) == 0 {
		return nil, fmt.Errorf("%w %s: empty fragment", ErrInvalidSpec, opts.Name)
	}
	if opts.Stack.Consumes < 0 || opts.Stack.Produces < 0 {
		return nil, fmt.Errorf("%w %s: negative stack declaration", ErrInvalidSpec, opts.Name)
	}

	s := &Spec{
		name:     opts.Name,
		pattern:  opts.Pattern,
		policy:   opts.Policy,
		anchor:   opts.Pattern.Len() - 1,
		position: opts.Position,
		labels:   opts.Labels,
		body:     slices.Clone(opts.Body),
		stack:    opts.Stack,
	}

	if opts.Anchor != "" {
		idx, ok := opts.Pattern.StepOf(opts.Anchor)
		if !ok {
			return nil, fmt.Errorf("%w %s: anchor slot %q not in pattern", ErrInvalidSpec, opts.Name, opts.Anchor)
		}
		s.anchor = idx
	}

	switch opts.Position {
	case Before, After, Replace:
	default:
		return nil, fmt.Errorf("%w %s: unknown position %s", ErrInvalidSpec, opts.Name, opts.Position)
	}

	if opts.Guard != nil {
		if opts.Position == Replace {
			return nil, fmt.Errorf("%w %s: a guard cannot skip a replaced instruction", ErrInvalidSpec, opts.Name)
		}
		if opts.Stack.Net() != 0 {
			return nil, fmt.Errorf("%w %s: guarded fragment must leave the stack unchanged on both paths", ErrInvalidSpec, opts.Name)
		}
		g := *opts.Guard
		g.Load = slices.Clone(g.Load)
		if len(g.Load) == 0 {
			return nil, fmt.Errorf("%w %s: guard has nothing to compare", ErrInvalidSpec, opts.Name)
		}
		s.guard = &g
	}

	for _, e := range s.emits() {
		if e.Slot == "" {
			if !e.Op.Valid() {
				return nil, fmt.Errorf("%w %s: unknown opcode 0x%02X", ErrInvalidSpec, opts.Name, byte(e.Op))
			}
			continue
		}
		if _, ok := opts.Pattern.StepOf(e.Slot); !ok {
			return nil, fmt.Errorf("%w %s: fragment reads slot %q not in pattern", ErrInvalidSpec, opts.Name, e.Slot)
		}
	}

	// Fully literal fragments can be checked now.
	if s.literal() {
		frag, _ := s.instantiate(pattern.Match{}, 0)
		if err := s.checkStack(frag); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSpec is NewSpec that panics on error.
func MustSpec(opts Options) *Spec {
	s, err := NewSpec(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the spec name.
func (s *Spec) Name() string { return s.name }

// Pattern returns the trigger pattern.
func (s *Spec) Pattern() *pattern.Pattern { return s.pattern }

// Policy returns the repetition policy.
func (s *Spec) Policy() Policy { return s.policy }

// Position returns where the fragment goes.
func (s *Spec) Position() Position { return s.position }

// Guarded reports whether the fragment is behind a guard.
func (s *Spec) Guarded() bool { return s.guard != nil }

// Stack returns the declared stack effect.
func (s *Spec) Stack() Stack { return s.stack }

func (s *Spec) emits() []Emit {
	if s.guard == nil {
		return s.body
	}
	return append(slices.Clone(s.guard.Load), s.body...)
}

func (s *Spec) literal() bool {
	for _, e := range s.emits() {
		if e.Slot != "" {
			return false
		}
	}
	return true
}

// instantiate builds the fragment for one match. With a guard, the branch
// targets skip; skip is the label the pipeline attaches to the continuation.
func (s *Spec) instantiate(m pattern.Match, skip il.Label) ([]*il.Instruction, error) {
	var frag []*il.Instruction
	emit := func(list []Emit) error {
		for _, e := range list {
			in, err := e.build(m)
			if err != nil {
				return fmt.Errorf("patch %s: %w", s.name, err)
			}
			frag = append(frag, in)
		}
		return nil
	}

	if s.guard != nil {
		if err := emit(s.guard.Load); err != nil {
			return nil, err
		}
		frag = append(frag,
			il.New(il.OpLdcI4, s.guard.Value),
			il.New(il.OpBneUn, skip),
		)
	}
	if err := emit(s.body); err != nil {
		return nil, err
	}
	return frag, nil
}

func (e Emit) build(m pattern.Match) (*il.Instruction, error) {
	if e.Slot == "" {
		return il.New(e.Op, e.Operand), nil
	}
	cp, ok := m.Captures[e.Slot]
	if !ok {
		return nil, fmt.Errorf("slot %q not captured", e.Slot)
	}
	src := cp.Instr.Clone()
	src.Labels = nil
	if e.Copy {
		return src, nil
	}
	in := il.New(e.Op, src.Operand)
	if err := in.Check(); err != nil {
		return nil, fmt.Errorf("slot %q: %w", e.Slot, err)
	}
	return in, nil
}

// checkStack verifies the fragment against the declaration. The guard
// prefix is included: it pushes two values and its branch pops them, so it
// is neutral on both paths.
func (s *Spec) checkStack(frag []*il.Instruction) error {
	net, low, err := il.StackEffect(frag)
	if err != nil {
		return fmt.Errorf("%w: spec %s: %w", ErrStackDiscipline, s.name, err)
	}
	if low < -s.stack.Consumes {
		return fmt.Errorf("%w: spec %s pops %d pre-existing values, declares %d", ErrStackDiscipline, s.name, -low, s.stack.Consumes)
	}
	if net != s.stack.Net() {
		return fmt.Errorf("%w: spec %s has net effect %+d, declares %+d", ErrStackDiscipline, s.name, net, s.stack.Net())
	}
	return nil
}
