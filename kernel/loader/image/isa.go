// Package image defines the instruction set executed by the hosted hart and
// provides the tooling that turns assembly programs into ELF app images.
package image

import (
	"encoding/binary"
	"fmt"
)

// Opcode identifies a hart instruction.
type Opcode uint64

// The supported opcodes.
const (
	OpLi Opcode = iota + 1
	OpEcall
	OpSd
	OpLd
	OpAddi
	OpBnez
)

// InstrSize is the encoded size of an instruction: four little-endian
// 64-bit words.
const InstrSize = 32

// NumRegs is the number of general purpose registers of the hart.
const NumRegs = 32

// Well-known register numbers.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA7   = 17
)

var opNames = map[Opcode]string{
	OpLi:    "li",
	OpEcall: "ecall",
	OpSd:    "sd",
	OpLd:    "ld",
	OpAddi:  "addi",
	OpBnez:  "bnez",
}

// String implements fmt.Stringer.
func (op Opcode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint64(op))
}

// Instruction is a decoded hart instruction. The meaning of the operand
// words depends on the opcode:
//
//	li   rd, imm        X=rd Y=imm
//	ecall
//	sd   rs, off(rb)    X=rs Y=rb Z=off
//	ld   rd, off(rb)    X=rd Y=rb Z=off
//	addi rd, rs, imm    X=rd Y=rs Z=imm
//	bnez rs, off        X=rs Y=off (relative to the branch)
type Instruction struct {
	Op      Opcode
	X, Y, Z uint64
}

// Encode writes the instruction into the first InstrSize bytes of dst.
func (in Instruction) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], uint64(in.Op))
	binary.LittleEndian.PutUint64(dst[8:], in.X)
	binary.LittleEndian.PutUint64(dst[16:], in.Y)
	binary.LittleEndian.PutUint64(dst[24:], in.Z)
}

// Decode reads an instruction from the first InstrSize bytes of src.
func Decode(src []byte) Instruction {
	return Instruction{
		Op: Opcode(binary.LittleEndian.Uint64(src[0:])),
		X:  binary.LittleEndian.Uint64(src[8:]),
		Y:  binary.LittleEndian.Uint64(src[16:]),
		Z:  binary.LittleEndian.Uint64(src[24:]),
	}
}

// String implements fmt.Stringer.
func (in Instruction) String() string {
	switch in.Op {
	case OpEcall:
		return "ecall"
	case OpLi:
		return fmt.Sprintf("li x%d, %d", in.X, int64(in.Y))
	case OpSd, OpLd:
		return fmt.Sprintf("%s x%d, %d(x%d)", in.Op, in.X, int64(in.Z), in.Y)
	case OpAddi:
		return fmt.Sprintf("addi x%d, x%d, %d", in.X, in.Y, int64(in.Z))
	case OpBnez:
		return fmt.Sprintf("bnez x%d, %d", in.X, int64(in.Y))
	default:
		return in.Op.String()
	}
}
