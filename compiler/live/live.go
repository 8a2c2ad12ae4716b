package live

import (
	"context"

	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/shade/compiler/ir"
	"github.com/slowlang/shade/compiler/set"
)

type (
	// Range is an inclusive interval of instruction positions.
	// Two ranges that only touch at one ip do not interfere: a value
	// whose last use is the very instruction defining another may share
	// storage with it.
	Range struct {
		Start int
		End   int
	}

	// Liveness tracks one range per variable, where a variable is one
	// RegSize channel of one vreg.
	Liveness struct {
		VarFromVGRF []int // vreg nr -> first variable id
		NumVars     int
		Ranges      []Range
		MaxVGRFSize int

		blocks []Range // block id -> ip interval
	}

	blockFlow struct {
		use set.Bitmap
		def set.Bitmap
		in  set.Bitmap
		out set.Bitmap
	}
)

func (r Range) Empty() bool { return r.End < r.Start }

func (r Range) Last() int { return r.End }

func (r Range) Contains(q Range) bool {
	return r.Start <= q.Start && r.End >= q.End
}

func (r Range) Overlaps(q Range) bool {
	return r.Start < q.End && q.Start < r.End
}

func Intersect(a, b Range) Range {
	return Range{Start: max(a.Start, b.Start), End: min(a.End, b.End)}
}

func Merge(a, b Range) Range {
	return Range{Start: min(a.Start, b.Start), End: max(a.End, b.End)}
}

func (r Range) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if r.Empty() {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "%d-%d", r.Start, r.End)
}

// Analyze numbers the variables and computes their live ranges over the
// totally ordered block list.
func Analyze(ctx context.Context, p *ir.Program) *Liveness {
	tr := tlog.SpanFromContext(ctx)

	l := &Liveness{
		VarFromVGRF: make([]int, p.Alloc.Count()),
	}

	for nr, size := range p.Alloc.Sizes {
		l.VarFromVGRF[nr] = l.NumVars
		l.NumVars += size

		if size > l.MaxVGRFSize {
			l.MaxVGRFSize = size
		}
	}

	l.Ranges = make([]Range, l.NumVars)

	for v := range l.Ranges {
		l.Ranges[v] = Range{Start: int(^uint(0) >> 1), End: -1}
	}

	l.blocks = make([]Range, len(p.Blocks))

	flow := make([]blockFlow, len(p.Blocks))

	ip := 0

	for bi, b := range p.Blocks {
		f := &flow[bi]

		f.use = set.MakeBitmap(l.NumVars)
		f.def = set.MakeBitmap(l.NumVars)
		f.in = set.MakeBitmap(l.NumVars)
		f.out = set.MakeBitmap(l.NumVars)

		l.blocks[bi] = Range{Start: ip, End: ip + len(b.Code) - 1}

		for _, inst := range b.Code {
			for j, s := range inst.Src {
				if s.File != ir.FileVGRF {
					continue
				}

				for c := 0; c < inst.RegsRead(j); c++ {
					v := l.VarOf(s.Nr, s.Offset/ir.RegSize+c)

					l.extend(v, ip)

					if !f.def.IsSet(v) {
						f.use.Set(v)
					}
				}
			}

			if inst.Dst.File == ir.FileVGRF {
				for c := 0; c < inst.RegsWritten(); c++ {
					v := l.VarOf(inst.Dst.Nr, inst.Dst.Offset/ir.RegSize+c)

					l.extend(v, ip)

					if !f.use.IsSet(v) && !inst.IsPartialWrite() {
						f.def.Set(v)
					}
				}
			}

			ip++
		}
	}

	for cont := true; cont; {
		cont = false

		for bi := len(p.Blocks) - 1; bi >= 0; bi-- {
			f := &flow[bi]

			out := f.out.Copy()

			for _, s := range p.Blocks[bi].Succ {
				f.out.Or(flow[s].in)
			}

			in := f.in.Copy()

			f.in.Or(f.use)
			f.in.OrAndNot(f.out, f.def)

			if !f.out.Equals(&out) || !f.in.Equals(&in) {
				cont = true
			}
		}
	}

	for bi := range p.Blocks {
		f := &flow[bi]
		br := l.blocks[bi]

		if br.Empty() {
			continue
		}

		f.in.Range(func(v int) bool {
			l.extend(v, br.Start)
			return true
		})

		f.out.Range(func(v int) bool {
			l.extend(v, br.End)
			return true
		})
	}

	if tr.If("live") {
		for v, r := range l.Ranges {
			tr.Printw("live range", "var", v, "range", r)
		}
	}

	return l
}

// Interferes reports whether two variables are ever live at the same time.
func (l *Liveness) Interferes(a, b int) bool {
	return l.Ranges[a].Overlaps(l.Ranges[b])
}

func (l *Liveness) VarOf(vreg, channel int) int {
	v := l.VarFromVGRF[vreg] + channel

	if vreg+1 < len(l.VarFromVGRF) && v >= l.VarFromVGRF[vreg+1] {
		panic(channel)
	}

	return v
}

// BlockRange is the ip interval spanned by the block's instructions.
func (l *Liveness) BlockRange(b *ir.Block) Range {
	return l.blocks[b.ID]
}

func (l *Liveness) extend(v, ip int) {
	if ip < l.Ranges[v].Start {
		l.Ranges[v].Start = ip
	}
	if ip > l.Ranges[v].End {
		l.Ranges[v].End = ip
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}

	return b
}
