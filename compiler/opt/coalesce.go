// Register coalescing: when the two vregs of a raw copy never hold
// divergent observable values, point every use of the source at the
// destination and drop the copy.
//
//	add t3, t1, t2
//	mov t4, t3
//	mul t5, t5, t4
//
// becomes
//
//	add t4, t1, t2
//	mul t5, t5, t4
package opt

import (
	"context"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/shade/compiler/defs"
	"github.com/slowlang/shade/compiler/ir"
	"github.com/slowlang/shade/compiler/live"
)

// eotPayloadMax is the size of the register window reserved for terminal
// message payloads, in RegSize units. A coalesce that would grow the last
// send's payload past it must be refused.
const eotPayloadMax = 15

func isNopMov(i *ir.Inst) bool {
	switch i.Op {
	case ir.Pld:
		dst := i.Dst

		for j, s := range i.Src {
			if !dst.Equals(s) {
				return false
			}

			if j < i.HeaderSize {
				dst.Offset += ir.RegSize
			} else {
				dst.Offset += i.ExecSize * dst.Stride * s.Type.Size()
			}
		}

		return true
	case ir.Mov:
		return i.Dst.Equals(i.Src[0])
	}

	return false
}

func isCoalesceCandidate(p *ir.Program, i *ir.Inst) bool {
	if i.Op != ir.Mov && i.Op != ir.Pld {
		return false
	}

	if i.IsPartialWrite() || i.Saturate {
		return false
	}

	src := i.Src[0]

	if src.File != ir.FileVGRF || src.Negate || src.Abs || !src.IsContiguous() {
		return false
	}

	if i.Dst.File != ir.FileVGRF || i.Dst.Type != src.Type {
		return false
	}

	// never grow the surviving value's storage footprint
	if p.Alloc.Sizes[src.Nr] > p.Alloc.Sizes[i.Dst.Nr] {
		return false
	}

	if i.Op == ir.Pld && !ir.CoalescingPayload(p, i) {
		return false
	}

	return true
}

// canCoalesceVars decides whether one channel of the copy's source and the
// matching channel of its destination can share storage.
//
// If the live ranges don't interfere it is trivially fine. Otherwise one
// range must contain the other, and within their intersection the copy must
// be the only write to the destination. A write to the source is tolerated
// only before the copy, in the copy's own block, with a compatible channel
// mask: that write is conceptually moved down to the copy's position, so
// from the first such write until the copy the destination must not be
// read either.
func canCoalesceVars(lv *live.Liveness, p *ir.Program, inst *ir.Inst, dstVar, srcVar int) bool {
	if !lv.Interferes(srcVar, dstVar) {
		return true
	}

	dstRange := lv.Ranges[dstVar]
	srcRange := lv.Ranges[srcVar]

	if !dstRange.Contains(srcRange) && !srcRange.Contains(dstRange) {
		return false
	}

	intersection := live.Intersect(dstRange, srcRange)
	if intersection.Empty() {
		panic(intersection)
	}

	for _, scanBlock := range p.Blocks {
		if lv.BlockRange(scanBlock).Last() < intersection.Start {
			continue
		}

		scanIP := lv.BlockRange(scanBlock).Start - 1

		seenSrcWrite := false
		seenCopy := false

		for _, scan := range scanBlock.Code {
			scanIP++

			if scanIP < intersection.Start {
				continue
			}

			if scan == inst {
				seenCopy = true
				continue
			}

			if scanIP > intersection.Last() {
				return true // registers do not interfere
			}

			if seenSrcWrite && !seenCopy {
				for j := range scan.Src {
					if ir.RegionsOverlap(scan.Src[j], scan.SizeRead(j), inst.Dst, inst.SizeWritten()) {
						return false // registers interfere
					}
				}
			}

			// the copy must be the sole writer of the destination
			// within the intersection
			if ir.RegionsOverlap(scan.Dst, scan.SizeWritten(), inst.Dst, inst.SizeWritten()) {
				return false
			}

			if ir.RegionsOverlap(scan.Dst, scan.SizeWritten(), inst.Src[0], inst.SizeRead(0)) {
				if seenCopy || scanBlock != inst.Block || (scan.WmaskAll && !inst.WmaskAll) {
					return false
				}

				seenSrcWrite = true
			}
		}
	}

	return true
}

// violatesEOTPayload rejects a coalesce that would enlarge the payload of
// the program's terminal send past the hardware window.
func violatesEOTPayload(p *ir.Program, dstReg, srcReg int) bool {
	if p.Alloc.Sizes[dstReg] <= p.Alloc.Sizes[srcReg] {
		return false
	}

	last := p.Blocks[len(p.Blocks)-1]

	for i := len(last.Code) - 1; i >= 0; i-- {
		send := last.Code[i]

		if send.Op != ir.Send || !send.EOT {
			continue
		}

		payload := 0
		uses := false

		for _, s := range send.Src {
			if s.File != ir.FileVGRF {
				continue
			}

			payload += p.Alloc.Sizes[s.Nr]

			if s.Nr == srcReg {
				uses = true
			}
		}

		if !uses {
			return false
		}

		increase := p.Alloc.Sizes[dstReg] - p.Alloc.Sizes[srcReg]

		return payload+increase > eotPayloadMax
	}

	return false
}

// RegisterCoalesce runs one linear pass over the program. Liveness and def
// info are stale afterwards whenever it reports progress.
func RegisterCoalesce(ctx context.Context, p *ir.Program, lv *live.Liveness, df *defs.Defs) (progress bool) {
	tr := tlog.SpanFromContext(ctx)

	tr.V("coalesce").Printw("register coalesce", "insts", p.NumInsts(), "vregs", p.Alloc.Count(), "from", loc.Caller(1))

	srcSize := 0
	channelsRemaining := 0
	srcReg, dstReg := -1, -1

	// scratch tables for one group, indexed by source channel
	dstRegOffset := make([]int, lv.MaxVGRFSize)
	mov := make([]*ir.Inst, lv.MaxVGRFSize)
	dstVar := make([]int, lv.MaxVGRFSize)
	srcVar := make([]int, lv.MaxVGRFSize)

	for _, block := range p.Blocks {
		for _, inst := range block.Code {
			if !isCoalesceCandidate(p, inst) {
				continue
			}

			if isNopMov(inst) {
				retire(inst)
				progress = true

				continue
			}

			// Coalescing would make the producer of the value write the
			// copy's destination instead. A load-register producer must
			// stay the sole full definition of its output, which the
			// merged destination cannot guarantee.
			if def := df.Get(inst.Src[0]); def != nil && def.Op == ir.LoadReg {
				continue
			}

			if srcReg != inst.Src[0].Nr {
				srcReg = inst.Src[0].Nr

				srcSize = p.Alloc.Sizes[srcReg]
				if srcSize > lv.MaxVGRFSize {
					panic(srcSize)
				}

				channelsRemaining = srcSize

				for i := range mov {
					mov[i] = nil
				}

				dstReg = inst.Dst.Nr
			}

			if dstReg != inst.Dst.Nr {
				continue
			}

			if inst.Op == ir.Pld {
				for i := 0; i < srcSize; i++ {
					dstRegOffset[i] = inst.Dst.Offset/ir.RegSize + i
				}

				mov[0] = inst
				channelsRemaining -= inst.RegsWritten()
			} else {
				offset := inst.Src[0].Offset / ir.RegSize

				if mov[offset] != nil {
					// The same source channel is copied a second time, so
					// the destination was already live before this copy
					// and the two vregs overlap. Poison the group.
					channelsRemaining = -1
					continue
				}

				for i := 0; i < inst.RegsWritten(); i++ {
					dstRegOffset[offset+i] = inst.Dst.Offset/ir.RegSize + i
				}

				mov[offset] = inst
				channelsRemaining -= inst.RegsWritten()
			}

			if channelsRemaining != 0 {
				continue
			}

			canCoalesce := true

			for i := 0; i < srcSize; i++ {
				if dstRegOffset[i] != dstRegOffset[0]+i {
					// channels map out of order
					canCoalesce = false
					srcReg = -1

					break
				}

				dstVar[i] = lv.VarOf(dstReg, dstRegOffset[i])
				srcVar[i] = lv.VarOf(srcReg, i)

				if !canCoalesceVars(lv, p, inst, dstVar[i], srcVar[i]) ||
					violatesEOTPayload(p, dstReg, srcReg) {
					canCoalesce = false
					srcReg = -1

					break
				}
			}

			if !canCoalesce {
				tr.V("coalesce").Printw("group rejected", "src", inst.Src[0].Nr, "dst", dstReg)
				continue
			}

			progress = true

			tr.V("coalesce").Printw("coalesce", "src", srcReg, "dst", dstReg, "channels", srcSize)

			for i := 0; i < srcSize; i++ {
				if mov[i] == nil {
					continue
				}

				if mov[i].CondMod == ir.CondNone {
					retire(mov[i])
					continue
				}

				// Keep the conditional modifier observable: turn the copy
				// into a read of the merged register into the null
				// register, for modifier propagation to pick up later.
				if mov[i].Op != ir.Mov || len(mov[i].Src) != 1 {
					panic(mov[i].Op)
				}

				mov[i].Src[0] = mov[i].Dst
				mov[i].Dst = ir.Null(mov[i].Dst.Type)
			}

			for _, sb := range p.Blocks {
				for _, scan := range sb.Code {
					if scan.Dst.File == ir.FileVGRF && scan.Dst.Nr == srcReg {
						scan.Dst.Nr = dstReg
						scan.Dst.Offset = scan.Dst.Offset%ir.RegSize +
							dstRegOffset[scan.Dst.Offset/ir.RegSize]*ir.RegSize
					}

					for j := range scan.Src {
						if scan.Src[j].File == ir.FileVGRF && scan.Src[j].Nr == srcReg {
							scan.Src[j].Nr = dstReg
							scan.Src[j].Offset = scan.Src[j].Offset%ir.RegSize +
								dstRegOffset[scan.Src[j].Offset/ir.RegSize]*ir.RegSize
						}
					}
				}
			}

			for i := 0; i < srcSize; i++ {
				lv.Ranges[dstVar[i]] = live.Merge(lv.Ranges[dstVar[i]], lv.Ranges[srcVar[i]])
			}

			srcReg = -1
		}
	}

	if progress {
		for _, b := range p.Blocks {
			code := b.Code[:0]

			for _, inst := range b.Code {
				if inst.Op == ir.Nop {
					continue
				}

				code = append(code, inst)
			}

			b.Code = code
		}
	}

	return progress
}

func retire(i *ir.Inst) {
	i.Op = ir.Nop
	i.Dst = ir.Reg{}

	for j := range i.Src {
		i.Src[j] = ir.Reg{}
	}
}
