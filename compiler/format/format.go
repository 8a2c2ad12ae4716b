// Package format prints a program in the same textual form package parse
// reads.
package format

import (
	"context"
	"fmt"

	"github.com/slowlang/shade/compiler/ir"
)

func Program(ctx context.Context, b []byte, p *ir.Program) []byte {
	for nr, size := range p.Alloc.Sizes {
		if size != 1 {
			b = fmt.Appendf(b, "%%alloc t%d %d\n", nr, size)
		}
	}

	for _, blk := range p.Blocks {
		b = fmt.Appendf(b, "L%d:", blk.ID)

		if len(blk.Succ) != 0 {
			b = append(b, " ->"...)

			for _, to := range blk.Succ {
				b = fmt.Appendf(b, " L%d", to)
			}
		}

		b = append(b, '\n')

		for _, inst := range blk.Code {
			b = Inst(b, inst)
			b = append(b, '\n')
		}
	}

	return b
}

func Inst(b []byte, i *ir.Inst) []byte {
	b = append(b, '\t')

	if i.Predicate {
		b = append(b, "(+f0) "...)
	}

	b = append(b, i.Op.String()...)

	if i.CondMod != ir.CondNone {
		b = fmt.Appendf(b, ".%v", i.CondMod)
	}
	if i.Saturate {
		b = append(b, ".sat"...)
	}
	if i.EOT {
		b = append(b, ".eot"...)
	}
	if i.WmaskAll {
		b = append(b, ".wall"...)
	}

	if i.Dst.File == ir.BadFile && len(i.Src) == 0 {
		return b
	}

	b = append(b, ' ')
	b = Operand(b, i.Dst)

	for _, s := range i.Src {
		b = append(b, ", "...)
		b = Operand(b, s)
	}

	return b
}

func Operand(b []byte, r ir.Reg) []byte {
	if r.Negate {
		b = append(b, '-')
	}

	if r.Abs {
		b = append(b, '|')
	}

	b = append(b, r.String()...)

	if r.Abs {
		b = append(b, '|')
	}

	if r.File == ir.FileVGRF && r.Stride != 1 {
		b = fmt.Appendf(b, "<%d>", r.Stride)
	}

	if r.File != ir.FileImm && r.File != ir.BadFile && r.Type != ir.TypeF {
		b = fmt.Appendf(b, ":%v", r.Type)
	}

	return b
}
