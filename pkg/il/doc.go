// Package il models host routines as instruction streams.
//
// A Stream is a linear list of Instructions. Control flow is not nested:
// branches name a Label, and a Label is attached to the instruction it
// resolves to. Splicing code into a stream therefore never rewrites
// offsets; it only has to keep every referenced label attached to exactly
// one instruction. Validate enforces that invariant.
//
// # Stack accounting
//
// Every opcode carries its pop/push counts in the opcode table. Calls and
// constructors derive theirs from the MethodRef operand, so a fragment's
// net stack effect can be computed without executing it (see StackEffect).
//
// # Wire format
//
// Marshal and Unmarshal move a stream across the host boundary as
// canonical CBOR: the instruction list without labels plus a separate
// label resolution table (label -> instruction index).
package il
