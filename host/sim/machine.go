package sim

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/graft/pkg/il"
)

var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrUnbound        = errors.New("unbound symbol")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrType           = errors.New("type mismatch")
	ErrDivideByZero   = errors.New("divide by zero")
	ErrInvalidRoutine = errors.New("invalid routine")
)

// ExecError locates a failure inside a routine.
type ExecError struct {
	Routine string
	IP      int
	Op      il.Opcode
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s[%04X] %s: %v", e.Routine, e.IP, e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Native implements a host method. For instance methods args[0] is the
// receiver.
type Native func(args []any) (any, error)

// FieldAccess reads and writes one instance field.
type FieldAccess struct {
	Get func(obj any) (any, error)
	Set func(obj, v any) error
}

// DefaultMaxSteps bounds a single routine run.
const DefaultMaxSteps = 100_000

// Machine executes il streams against bound host methods and fields.
// Values are int64, float64, string, nil or host object pointers.
type Machine struct {
	methods map[string]Native
	fields  map[string]FieldAccess
	statics map[string]any

	MaxSteps int
	Trace    func(routine string, ip int, in *il.Instruction, depth int)
}

// NewMachine creates a machine with nothing bound.
func NewMachine() *Machine {
	return &Machine{
		methods:  make(map[string]Native),
		fields:   make(map[string]FieldAccess),
		statics:  make(map[string]any),
		MaxSteps: DefaultMaxSteps,
	}
}

// BindMethod routes calls to ref.
func (m *Machine) BindMethod(ref il.MethodRef, fn Native) {
	m.methods[ref.String()] = fn
}

// BindField routes ldfld/stfld on ref.
func (m *Machine) BindField(ref il.FieldRef, acc FieldAccess) {
	m.fields[ref.String()] = acc
}

// SetStatic stores a static field value.
func (m *Machine) SetStatic(ref il.FieldRef, v any) {
	m.statics[ref.String()] = v
}

// Static reads a static field value.
func (m *Machine) Static(ref il.FieldRef) any {
	return m.statics[ref.String()]
}

// frame is the state of one routine run.
type frame struct {
	s      *il.Stream
	ip     int
	stack  []any
	locals map[il.Local]any
	args   []any
}

func (f *frame) push(v any) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() (any, error) {
	if len(f.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popN(n int) ([]any, error) {
	if len(f.stack) < n {
		return nil, ErrStackUnderflow
	}
	out := make([]any, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out, nil
}

// Run executes s with args and returns the value on top of the stack at
// ret, or nil if the stack is empty. s is validated first.
func (m *Machine) Run(s *il.Stream, args ...any) (any, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoutine, err)
	}
	labels := s.LabelTable()
	f := &frame{s: s, locals: make(map[il.Local]any), args: args}

	maxSteps := m.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	for steps := 0; f.ip < len(s.Code); steps++ {
		if steps >= maxSteps {
			return nil, &ExecError{Routine: s.Name, IP: f.ip, Op: s.Code[f.ip].Op, Err: ErrStepLimit}
		}
		in := s.Code[f.ip]
		if m.Trace != nil {
			m.Trace(s.Name, f.ip, in, len(f.stack))
		}

		next, done, err := m.step(f, in, labels)
		if err != nil {
			return nil, &ExecError{Routine: s.Name, IP: f.ip, Op: in.Op, Err: err}
		}
		if done {
			if len(f.stack) == 0 {
				return nil, nil
			}
			return f.stack[len(f.stack)-1], nil
		}
		f.ip = next
	}
	return nil, nil
}

// step executes one instruction and returns the next ip.
func (m *Machine) step(f *frame, in *il.Instruction, labels map[il.Label]int) (int, bool, error) {
	next := f.ip + 1
	jump := func(l il.Label) (int, bool, error) {
		idx, ok := labels[l]
		if !ok {
			return 0, false, fmt.Errorf("%w: label %s", ErrUnbound, l)
		}
		return idx, false, nil
	}

	switch in.Op {
	// ============ Stack ============
	case il.OpNop:

	case il.OpPop:
		if _, err := f.pop(); err != nil {
			return 0, false, err
		}

	case il.OpDup:
		v, err := f.pop()
		if err != nil {
			return 0, false, err
		}
		f.push(v)
		f.push(v)

	// ============ Constants ============
	case il.OpLdcI4, il.OpLdcR4, il.OpLdStr:
		f.push(in.Operand)

	case il.OpLdNull:
		f.push(nil)

	// ============ Arguments and locals ============
	case il.OpLdArg:
		idx := int(in.Operand.(il.Arg))
		if idx < 0 || idx >= len(f.args) {
			return 0, false, fmt.Errorf("%w: argument %d of %d", ErrUnbound, idx, len(f.args))
		}
		f.push(f.args[idx])

	case il.OpStArg:
		idx := int(in.Operand.(il.Arg))
		v, err := f.pop()
		if err != nil {
			return 0, false, err
		}
		if idx < 0 || idx >= len(f.args) {
			return 0, false, fmt.Errorf("%w: argument %d of %d", ErrUnbound, idx, len(f.args))
		}
		f.args[idx] = v

	case il.OpLdLoc:
		f.push(f.locals[in.Operand.(il.Local)])

	case il.OpStLoc:
		v, err := f.pop()
		if err != nil {
			return 0, false, err
		}
		f.locals[in.Operand.(il.Local)] = v

	// ============ Fields ============
	case il.OpLdFld:
		ref := in.Operand.(il.FieldRef)
		acc, ok := m.fields[ref.String()]
		if !ok || acc.Get == nil {
			return 0, false, fmt.Errorf("%w: field %s", ErrUnbound, ref)
		}
		obj, err := f.pop()
		if err != nil {
			return 0, false, err
		}
		v, err := acc.Get(obj)
		if err != nil {
			return 0, false, err
		}
		f.push(v)

	case il.OpStFld:
		ref := in.Operand.(il.FieldRef)
		acc, ok := m.fields[ref.String()]
		if !ok || acc.Set == nil {
			return 0, false, fmt.Errorf("%w: field %s", ErrUnbound, ref)
		}
		vals, err := f.popN(2)
		if err != nil {
			return 0, false, err
		}
		if err := acc.Set(vals[0], vals[1]); err != nil {
			return 0, false, err
		}

	case il.OpLdsFld:
		f.push(m.statics[in.Operand.(il.FieldRef).String()])

	case il.OpStsFld:
		v, err := f.pop()
		if err != nil {
			return 0, false, err
		}
		m.statics[in.Operand.(il.FieldRef).String()] = v

	// ============ Arithmetic ============
	case il.OpAdd, il.OpSub, il.OpMul, il.OpDiv, il.OpRem:
		vals, err := f.popN(2)
		if err != nil {
			return 0, false, err
		}
		r, err := arith(in.Op, vals[0], vals[1])
		if err != nil {
			return 0, false, err
		}
		f.push(r)

	case il.OpNeg:
		v, err := f.pop()
		if err != nil {
			return 0, false, err
		}
		r, err := arith(il.OpSub, int64(0), v)
		if err != nil {
			return 0, false, err
		}
		f.push(r)

	case il.OpConvI4:
		v, err := f.pop()
		if err != nil {
			return 0, false, err
		}
		x, ok := asFloat(v)
		if !ok {
			return 0, false, fmt.Errorf("%w: conv.i4 of %T", ErrType, v)
		}
		f.push(int64(math.Trunc(x)))

	case il.OpConvR4:
		v, err := f.pop()
		if err != nil {
			return 0, false, err
		}
		x, ok := asFloat(v)
		if !ok {
			return 0, false, fmt.Errorf("%w: conv.r4 of %T", ErrType, v)
		}
		f.push(x)

	// ============ Comparison ============
	case il.OpCeq, il.OpCgt, il.OpClt:
		vals, err := f.popN(2)
		if err != nil {
			return 0, false, err
		}
		ok, err := compare(in.Op, vals[0], vals[1])
		if err != nil {
			return 0, false, err
		}
		f.push(boolInt(ok))

	// ============ Branches ============
	case il.OpBr:
		return jump(in.Operand.(il.Label))

	case il.OpBrTrue, il.OpBrFalse:
		v, err := f.pop()
		if err != nil {
			return 0, false, err
		}
		if truthy(v) == (in.Op == il.OpBrTrue) {
			return jump(in.Operand.(il.Label))
		}

	case il.OpBeq, il.OpBneUn, il.OpBlt, il.OpBge:
		vals, err := f.popN(2)
		if err != nil {
			return 0, false, err
		}
		var take bool
		switch in.Op {
		case il.OpBeq:
			take = equal(vals[0], vals[1])
		case il.OpBneUn:
			take = !equal(vals[0], vals[1])
		case il.OpBlt:
			take, err = compare(il.OpClt, vals[0], vals[1])
		case il.OpBge:
			take, err = compare(il.OpClt, vals[0], vals[1])
			take = !take
		}
		if err != nil {
			return 0, false, err
		}
		if take {
			return jump(in.Operand.(il.Label))
		}

	case il.OpSwitch:
		v, err := f.pop()
		if err != nil {
			return 0, false, err
		}
		idx, ok := v.(int64)
		if !ok {
			return 0, false, fmt.Errorf("%w: switch on %T", ErrType, v)
		}
		table := in.Operand.([]il.Label)
		if idx >= 0 && idx < int64(len(table)) {
			return jump(table[idx])
		}

	// ============ Calls ============
	case il.OpCall, il.OpCallVirt, il.OpNewObj:
		ref := in.Operand.(il.MethodRef)
		fn, ok := m.methods[ref.String()]
		if !ok {
			return 0, false, fmt.Errorf("%w: method %s", ErrUnbound, ref)
		}
		pop, push, err := in.StackEffect()
		if err != nil {
			return 0, false, err
		}
		args, err := f.popN(pop)
		if err != nil {
			return 0, false, err
		}
		r, err := fn(args)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", ref, err)
		}
		if push > 0 {
			f.push(r)
		}

	case il.OpRet:
		return 0, true, nil

	default:
		return 0, false, fmt.Errorf("%w: opcode %s not executable", ErrType, in.Op)
	}
	return next, false, nil
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func arith(op il.Opcode, a, b any) (any, error) {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		switch op {
		case il.OpAdd:
			return ai + bi, nil
		case il.OpSub:
			return ai - bi, nil
		case il.OpMul:
			return ai * bi, nil
		case il.OpDiv, il.OpRem:
			if bi == 0 {
				return nil, ErrDivideByZero
			}
			if op == il.OpDiv {
				return ai / bi, nil
			}
			return ai % bi, nil
		}
	}

	af, ok1 := asFloat(a)
	bf, ok2 := asFloat(b)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: %s on %T and %T", ErrType, op, a, b)
	}
	switch op {
	case il.OpAdd:
		return af + bf, nil
	case il.OpSub:
		return af - bf, nil
	case il.OpMul:
		return af * bf, nil
	case il.OpDiv:
		return af / bf, nil
	case il.OpRem:
		return math.Mod(af, bf), nil
	}
	return nil, fmt.Errorf("%w: %s is not arithmetic", ErrType, op)
}

func compare(op il.Opcode, a, b any) (bool, error) {
	if op == il.OpCeq {
		return equal(a, b), nil
	}
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		if op == il.OpCgt {
			return ai > bi, nil
		}
		return ai < bi, nil
	}
	af, ok1 := asFloat(a)
	bf, ok2 := asFloat(b)
	if !ok1 || !ok2 {
		return false, fmt.Errorf("%w: %s on %T and %T", ErrType, op, a, b)
	}
	if op == il.OpCgt {
		return af > bf, nil
	}
	return af < bf, nil
}

func equal(a, b any) bool {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return ai == bi
	}
	af, ok1 := asFloat(a)
	bf, ok2 := asFloat(b)
	if ok1 && ok2 {
		return af == bf
	}
	return a == b
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case int64:
		return x != 0
	case float64:
		return x != 0
	case bool:
		return x
	case string:
		return x != ""
	}
	return true
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
