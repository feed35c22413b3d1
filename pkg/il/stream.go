package il

import (
	"errors"
	"fmt"
	"slices"
)

// ErrLabelIntegrity is the sentinel wrapped by every LabelIntegrityError.
var ErrLabelIntegrity = errors.New("label integrity violation")

// LabelIntegrityError reports a label that is referenced but not attached
// exactly once, or attached more than once.
type LabelIntegrityError struct {
	Routine  string
	Label    Label
	Attached []int // indices carrying the label
	Problem  string
}

func (e *LabelIntegrityError) Error() string {
	return fmt.Sprintf("%s: %s in %s %s (attached at %v)", ErrLabelIntegrity, e.Label, e.Routine, e.Problem, e.Attached)
}

func (e *LabelIntegrityError) Unwrap() error {
	return ErrLabelIntegrity
}

// Stream is one routine body: an ordered instruction list plus the label
// allocator that owns its branch targets.
type Stream struct {
	Name string
	Code []*Instruction

	nextLabel Label   // last label handed out
	pending   []Label // labels to attach to the next emitted instruction
}

// NewStream creates an empty stream.
func NewStream(name string) *Stream {
	return &Stream{
		Name: name,
		Code: make([]*Instruction, 0, 32),
	}
}

// DefineLabel allocates a fresh label that is not yet attached anywhere.
func (s *Stream) DefineLabel() Label {
	s.nextLabel++
	return s.nextLabel
}

// Mark attaches l to the next emitted instruction.
func (s *Stream) Mark(l Label) {
	s.pending = append(s.pending, l)
}

// Emit appends an instruction without operand and returns it.
func (s *Stream) Emit(op Opcode) *Instruction {
	return s.Append(New(op, nil))
}

// EmitOperand appends an instruction with an operand and returns it.
func (s *Stream) EmitOperand(op Opcode, operand any) *Instruction {
	return s.Append(New(op, operand))
}

// Append adds an instruction, attaching any pending marks to it.
func (s *Stream) Append(in *Instruction) *Instruction {
	if len(s.pending) > 0 {
		in.Labels = append(in.Labels, s.pending...)
		s.pending = nil
	}
	s.observe(in)
	s.Code = append(s.Code, in)
	return in
}

// observe keeps the allocator ahead of any label that arrives from outside
// (decoded streams, hand-built instructions).
func (s *Stream) observe(in *Instruction) {
	for _, l := range in.Labels {
		if l > s.nextLabel {
			s.nextLabel = l
		}
	}
	for _, l := range in.Targets() {
		if l > s.nextLabel {
			s.nextLabel = l
		}
	}
}

// Len returns the number of instructions.
func (s *Stream) Len() int {
	return len(s.Code)
}

// At returns the instruction at index i.
func (s *Stream) At(i int) *Instruction {
	return s.Code[i]
}

// Clone returns a deep copy of the stream, allocator state included.
func (s *Stream) Clone() *Stream {
	out := &Stream{
		Name:      s.Name,
		Code:      make([]*Instruction, len(s.Code)),
		nextLabel: s.nextLabel,
		pending:   slices.Clone(s.pending),
	}
	for i, in := range s.Code {
		out.Code[i] = in.Clone()
	}
	return out
}

// Equal reports whether two streams hold the same instructions with the
// same operands and label attachments. Label order on an instruction is not
// significant.
func (s *Stream) Equal(o *Stream) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || s.Name != o.Name || len(s.Code) != len(o.Code) {
		return false
	}
	for i, a := range s.Code {
		b := o.Code[i]
		if a.Op != b.Op || !OperandEqual(a.Operand, b.Operand) {
			return false
		}
		if !sameLabels(a.Labels, b.Labels) {
			return false
		}
	}
	return true
}

func sameLabels(a, b []Label) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// LabelTable returns the label resolution table: label -> instruction index.
// A label attached more than once resolves to its first attachment; use
// Validate to reject such streams.
func (s *Stream) LabelTable() map[Label]int {
	table := make(map[Label]int)
	for i, in := range s.Code {
		for _, l := range in.Labels {
			if _, seen := table[l]; !seen {
				table[l] = i
			}
		}
	}
	return table
}

// Resolve returns the index of the instruction carrying l.
func (s *Stream) Resolve(l Label) (int, bool) {
	for i, in := range s.Code {
		if in.HasLabel(l) {
			return i, true
		}
	}
	return -1, false
}

// Validate checks operand kinds and label integrity: every referenced label
// must be attached to exactly one instruction, no label may be attached
// twice, and no mark may be left pending.
func (s *Stream) Validate() error {
	if len(s.pending) > 0 {
		return &LabelIntegrityError{Routine: s.Name, Label: s.pending[0], Problem: "marked but never attached"}
	}

	attached := make(map[Label][]int)
	for i, in := range s.Code {
		if err := in.Check(); err != nil {
			return fmt.Errorf("%s[%d]: %w", s.Name, i, err)
		}
		for _, l := range in.Labels {
			attached[l] = append(attached[l], i)
		}
	}

	for _, in := range s.Code {
		for _, l := range in.Labels {
			if at := attached[l]; len(at) > 1 {
				return &LabelIntegrityError{Routine: s.Name, Label: l, Attached: at, Problem: "attached more than once"}
			}
		}
	}

	for _, in := range s.Code {
		for _, l := range in.Targets() {
			if len(attached[l]) != 1 {
				return &LabelIntegrityError{Routine: s.Name, Label: l, Attached: attached[l], Problem: "referenced but not attached"}
			}
		}
	}
	return nil
}

// StackEffect sums the stack effect of a straight-line instruction
// sequence. It returns the net change and the lowest depth reached
// relative to the starting depth.
func StackEffect(code []*Instruction) (net, low int, err error) {
	depth := 0
	for _, in := range code {
		pop, push, err := in.StackEffect()
		if err != nil {
			return 0, 0, err
		}
		depth -= pop
		if depth < low {
			low = depth
		}
		depth += push
	}
	return depth, low, nil
}
