package ir

import (
	"fmt"

	"tlog.app/go/tlog/tlwire"
)

// RegSize is the width of one storage unit (one channel) in bytes.
// vreg allocation sizes and live variables are counted in these units.
const RegSize = 32

type (
	Op      uint8
	RegFile uint8
	Type    uint8
	Cond    uint8

	// Reg is one operand: a slice of a register file plus access modifiers.
	Reg struct {
		File   RegFile
		Nr     int
		Offset int // bytes from the start of the vreg
		Type   Type
		Stride int
		Negate bool
		Abs    bool

		Value int64 // Imm payload
	}
)

const (
	BadFile RegFile = iota
	FileVGRF
	FileImm
	FileNull
)

const (
	Nop Op = iota
	Mov
	Pld // payload build: gather sources into one contiguous destination
	Add
	Mul
	Cmp
	Send
	LoadReg
)

const (
	TypeF Type = iota
	TypeD
	TypeUD
	TypeW
	TypeUW
)

const (
	CondNone Cond = iota
	CondZ
	CondNZ
	CondG
	CondGE
	CondL
	CondLE
)

func VGRF(nr int, tp Type) Reg {
	return Reg{File: FileVGRF, Nr: nr, Type: tp, Stride: 1}
}

func Imm(v int64, tp Type) Reg {
	return Reg{File: FileImm, Type: tp, Value: v}
}

func Null(tp Type) Reg {
	return Reg{File: FileNull, Type: tp, Stride: 1}
}

func (r Reg) Equals(x Reg) bool {
	return r.File == x.File &&
		r.Nr == x.Nr &&
		r.Offset == x.Offset &&
		r.Type == x.Type &&
		r.Stride == x.Stride &&
		r.Negate == x.Negate &&
		r.Abs == x.Abs &&
		r.Value == x.Value
}

func (r Reg) IsContiguous() bool {
	return r.Stride == 1
}

func (r Reg) WithOffset(off int) Reg {
	r.Offset = off
	return r
}

func (tp Type) Size() int {
	switch tp {
	case TypeF, TypeD, TypeUD:
		return 4
	case TypeW, TypeUW:
		return 2
	default:
		panic(tp)
	}
}

func (tp Type) String() string {
	switch tp {
	case TypeF:
		return "f"
	case TypeD:
		return "d"
	case TypeUD:
		return "ud"
	case TypeW:
		return "w"
	case TypeUW:
		return "uw"
	default:
		panic(tp)
	}
}

func (op Op) String() string {
	switch op {
	case Nop:
		return "nop"
	case Mov:
		return "mov"
	case Pld:
		return "pld"
	case Add:
		return "add"
	case Mul:
		return "mul"
	case Cmp:
		return "cmp"
	case Send:
		return "send"
	case LoadReg:
		return "ldreg"
	default:
		panic(op)
	}
}

func (c Cond) String() string {
	switch c {
	case CondNone:
		return ""
	case CondZ:
		return "z"
	case CondNZ:
		return "nz"
	case CondG:
		return "g"
	case CondGE:
		return "ge"
	case CondL:
		return "l"
	case CondLE:
		return "le"
	default:
		panic(c)
	}
}

func (r Reg) String() string {
	switch r.File {
	case BadFile:
		return "bad"
	case FileVGRF:
		if r.Offset != 0 {
			return fmt.Sprintf("t%d+%d", r.Nr, r.Offset)
		}

		return fmt.Sprintf("t%d", r.Nr)
	case FileImm:
		return fmt.Sprintf("#%d", r.Value)
	case FileNull:
		return "null"
	default:
		panic(r.File)
	}
}

func (r Reg) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "%v:%v", r, r.Type)
}
