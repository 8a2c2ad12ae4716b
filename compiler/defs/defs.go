// Package defs finds vregs with a single full definition.
package defs

import (
	"context"

	"github.com/slowlang/shade/compiler/ir"
)

type (
	Defs struct {
		def []*ir.Inst // vreg nr -> sole defining instruction, nil if none
	}
)

// Analyze records, for every vreg written exactly once by a full
// unpredicated write covering the whole allocation, that write.
func Analyze(ctx context.Context, p *ir.Program) *Defs {
	d := &Defs{
		def: make([]*ir.Inst, p.Alloc.Count()),
	}

	seen := make([]bool, p.Alloc.Count())

	for _, b := range p.Blocks {
		for _, inst := range b.Code {
			if inst.Dst.File != ir.FileVGRF {
				continue
			}

			nr := inst.Dst.Nr

			if seen[nr] {
				d.def[nr] = nil
				continue
			}

			seen[nr] = true

			if inst.IsPartialWrite() || inst.Dst.Offset != 0 || inst.RegsWritten() != p.Alloc.Sizes[nr] {
				continue
			}

			d.def[nr] = inst
		}
	}

	return d
}

// Get returns the instruction a fully defined operand value comes from, or
// nil if the vreg is written more than once or only partially.
func (d *Defs) Get(r ir.Reg) *ir.Inst {
	if r.File != ir.FileVGRF {
		return nil
	}

	return d.def[r.Nr]
}
