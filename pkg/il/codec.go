package il

import (
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// WireVersion is the current stream wire format version.
// Increment when making incompatible changes to the format.
const WireVersion uint16 = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("il: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireStream is the on-the-wire form of a Stream: instructions without
// labels plus the label resolution table.
type wireStream struct {
	Version   uint16            `cbor:"1,keyasint"`
	Name      string            `cbor:"2,keyasint"`
	NextLabel Label             `cbor:"3,keyasint"`
	Code      []wireInstruction `cbor:"4,keyasint"`
	Labels    map[Label]int     `cbor:"5,keyasint,omitempty"`
}

type wireInstruction struct {
	Op     Opcode     `cbor:"1,keyasint"`
	Int    int64      `cbor:"2,keyasint,omitempty"`
	Float  float64    `cbor:"3,keyasint,omitempty"`
	Str    string     `cbor:"4,keyasint,omitempty"`
	Field  *FieldRef  `cbor:"5,keyasint,omitempty"`
	Method *MethodRef `cbor:"6,keyasint,omitempty"`
	Table  []Label    `cbor:"7,keyasint,omitempty"`
}

// Marshal serializes a valid stream to CBOR bytes.
func Marshal(s *Stream) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("il: marshal %s: %w", s.Name, err)
	}
	w := wireStream{
		Version:   WireVersion,
		Name:      s.Name,
		NextLabel: s.nextLabel,
		Code:      make([]wireInstruction, len(s.Code)),
		Labels:    s.LabelTable(),
	}
	for i, in := range s.Code {
		w.Code[i] = encodeInstruction(in)
	}
	return cborEncMode.Marshal(&w)
}

// Unmarshal deserializes a stream from CBOR bytes and validates it.
func Unmarshal(data []byte) (*Stream, error) {
	var w wireStream
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("il: unmarshal stream: %w", err)
	}
	if w.Version > WireVersion {
		return nil, fmt.Errorf("il: stream version %d is newer than supported version %d", w.Version, WireVersion)
	}

	s := NewStream(w.Name)
	for i, wi := range w.Code {
		in, err := decodeInstruction(wi)
		if err != nil {
			return nil, fmt.Errorf("il: %s[%d]: %w", w.Name, i, err)
		}
		s.Append(in)
	}

	labels := make([]Label, 0, len(w.Labels))
	for l := range w.Labels {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	for _, l := range labels {
		idx := w.Labels[l]
		if idx < 0 || idx >= len(s.Code) {
			return nil, fmt.Errorf("il: %s: label %s resolves to %d, outside %d instructions", w.Name, l, idx, len(s.Code))
		}
		s.Code[idx].Labels = append(s.Code[idx].Labels, l)
		if l > s.nextLabel {
			s.nextLabel = l
		}
	}
	if w.NextLabel > s.nextLabel {
		s.nextLabel = w.NextLabel
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func encodeInstruction(in *Instruction) wireInstruction {
	wi := wireInstruction{Op: in.Op}
	switch v := in.Operand.(type) {
	case int64:
		wi.Int = v
	case float64:
		wi.Float = v
	case string:
		wi.Str = v
	case Arg:
		wi.Int = int64(v)
	case Local:
		wi.Int = int64(v)
	case FieldRef:
		wi.Field = &v
	case MethodRef:
		wi.Method = &v
	case Label:
		wi.Table = []Label{v}
	case []Label:
		wi.Table = v
	}
	return wi
}

func decodeInstruction(wi wireInstruction) (*Instruction, error) {
	if !wi.Op.Valid() {
		return nil, fmt.Errorf("unknown opcode 0x%02X", byte(wi.Op))
	}
	in := &Instruction{Op: wi.Op}
	switch wi.Op.OperandKind() {
	case OperandInt:
		in.Operand = wi.Int
	case OperandFloat:
		in.Operand = wi.Float
	case OperandString:
		in.Operand = wi.Str
	case OperandArg:
		in.Operand = Arg(wi.Int)
	case OperandLocal:
		in.Operand = Local(wi.Int)
	case OperandField:
		if wi.Field == nil {
			return nil, fmt.Errorf("%s missing field operand", wi.Op)
		}
		in.Operand = *wi.Field
	case OperandMethod:
		if wi.Method == nil {
			return nil, fmt.Errorf("%s missing method operand", wi.Op)
		}
		in.Operand = *wi.Method
	case OperandLabel:
		if len(wi.Table) != 1 {
			return nil, fmt.Errorf("%s expects one target, got %d", wi.Op, len(wi.Table))
		}
		in.Operand = wi.Table[0]
	case OperandTable:
		in.Operand = slices.Clone(wi.Table)
		if wi.Table == nil {
			in.Operand = []Label{}
		}
	}
	return in, nil
}
