package il

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Arg is an argument index operand.
type Arg int

// Local is a local variable slot operand.
type Local int

// Label is an opaque branch target. Labels are allocated by the owning
// Stream and attached to at most one instruction once the stream is final.
// The zero Label is never allocated.
type Label uint32

// String formats a label the way the disassembler prints it.
func (l Label) String() string {
	return "L" + strconv.FormatUint(uint64(l), 10)
}

// FieldRef identifies a host field.
type FieldRef struct {
	Owner  string
	Name   string
	Static bool
}

func (f FieldRef) String() string {
	return f.Owner + "::" + f.Name
}

// MethodRef identifies a host method or constructor together with the
// shape needed for stack accounting.
type MethodRef struct {
	Owner   string
	Name    string
	Params  int  // declared parameters, excluding the receiver
	HasThis bool // instance method; callvirt/call pops the receiver too
	Returns bool // pushes a result
}

func (m MethodRef) String() string {
	return m.Owner + "::" + m.Name
}

// ErrVariableStackEffect is returned when an instruction's stack effect
// cannot be known without routine context (a bare ret).
var ErrVariableStackEffect = errors.New("il: stack effect depends on routine signature")

// Instruction is one host instruction: an opcode, an optional operand and
// the labels attached to it.
type Instruction struct {
	Op      Opcode
	Operand any
	Labels  []Label
}

// New creates an instruction without labels. Untyped integer and float
// constants are widened to the operand types the opcode expects.
func New(op Opcode, operand any) *Instruction {
	return &Instruction{Op: op, Operand: normalizeOperand(op, operand)}
}

func normalizeOperand(op Opcode, operand any) any {
	switch op.OperandKind() {
	case OperandInt:
		switch v := operand.(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		}
	case OperandFloat:
		switch v := operand.(type) {
		case int:
			return float64(v)
		case float32:
			return float64(v)
		}
	case OperandArg:
		if v, ok := operand.(int); ok {
			return Arg(v)
		}
	case OperandLocal:
		if v, ok := operand.(int); ok {
			return Local(v)
		}
	}
	return operand
}

// Is reports whether the instruction has the given opcode and operand.
func (in *Instruction) Is(op Opcode, operand any) bool {
	return in != nil && in.Op == op && OperandEqual(in.Operand, operand)
}

// HasLabel reports whether l is attached to the instruction.
func (in *Instruction) HasLabel(l Label) bool {
	return slices.Contains(in.Labels, l)
}

// WithLabels attaches labels and returns the instruction for chaining.
func (in *Instruction) WithLabels(labels ...Label) *Instruction {
	in.Labels = append(in.Labels, labels...)
	return in
}

// Clone returns a deep copy, labels included.
func (in *Instruction) Clone() *Instruction {
	out := &Instruction{Op: in.Op, Operand: in.Operand}
	if table, ok := in.Operand.([]Label); ok {
		out.Operand = slices.Clone(table)
	}
	if len(in.Labels) > 0 {
		out.Labels = slices.Clone(in.Labels)
	}
	return out
}

// Targets returns the labels this instruction may branch to.
func (in *Instruction) Targets() []Label {
	switch v := in.Operand.(type) {
	case Label:
		if in.Op.IsBranch() {
			return []Label{v}
		}
	case []Label:
		return v
	}
	return nil
}

// StackEffect returns how many values the instruction pops and pushes.
func (in *Instruction) StackEffect() (pop, push int, err error) {
	info := GetOpcodeInfo(in.Op)
	pop, push = info.StackPop, info.StackPush
	if pop >= 0 && push >= 0 {
		return pop, push, nil
	}
	m, ok := in.Operand.(MethodRef)
	if !ok {
		if in.Op == OpRet {
			return 0, 0, ErrVariableStackEffect
		}
		return 0, 0, fmt.Errorf("il: %s without method operand", in.Op)
	}
	switch in.Op {
	case OpNewObj:
		return m.Params, 1, nil
	default:
		pop = m.Params
		if m.HasThis {
			pop++
		}
		push = 0
		if m.Returns {
			push = 1
		}
		return pop, push, nil
	}
}

// Check verifies that the operand matches the opcode's operand kind.
func (in *Instruction) Check() error {
	if !in.Op.Valid() {
		return fmt.Errorf("il: unknown opcode 0x%02X", byte(in.Op))
	}
	kind := in.Op.OperandKind()
	ok := false
	switch kind {
	case OperandNone:
		ok = in.Operand == nil
	case OperandInt:
		_, ok = in.Operand.(int64)
	case OperandFloat:
		_, ok = in.Operand.(float64)
	case OperandString:
		_, ok = in.Operand.(string)
	case OperandArg:
		_, ok = in.Operand.(Arg)
	case OperandLocal:
		_, ok = in.Operand.(Local)
	case OperandField:
		_, ok = in.Operand.(FieldRef)
	case OperandMethod:
		_, ok = in.Operand.(MethodRef)
	case OperandLabel:
		_, ok = in.Operand.(Label)
	case OperandTable:
		_, ok = in.Operand.([]Label)
	}
	if !ok {
		return fmt.Errorf("il: %s expects %s operand, got %T", in.Op, kind, in.Operand)
	}
	return nil
}

// String formats the instruction without its labels.
func (in *Instruction) String() string {
	if in.Operand == nil {
		return in.Op.String()
	}
	return in.Op.String() + " " + FormatOperand(in.Operand)
}

// FormatOperand renders an operand for listings.
func FormatOperand(operand any) string {
	switch v := operand.(type) {
	case nil:
		return ""
	case string:
		return strconv.Quote(v)
	case Arg:
		return "arg." + strconv.Itoa(int(v))
	case Local:
		return "loc." + strconv.Itoa(int(v))
	case []Label:
		parts := make([]string, len(v))
		for i, l := range v {
			parts[i] = l.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// OperandEqual compares two operands structurally.
func OperandEqual(a, b any) bool {
	ta, aok := a.([]Label)
	tb, bok := b.([]Label)
	if aok || bok {
		return aok && bok && slices.Equal(ta, tb)
	}
	return a == b
}
