package ir

type (
	// Inst is one instruction. Src order is significant: for Pld the
	// sources are laid out into the destination back to back, for Send
	// the VGRF sources are the message payload.
	Inst struct {
		Op  Op
		Dst Reg
		Src []Reg

		Saturate  bool
		CondMod   Cond
		Predicate bool
		WmaskAll  bool // write all channels regardless of the execution mask

		ExecSize   int
		HeaderSize int // leading Pld sources that are raw header units
		EOT        bool

		Block *Block
	}

	Block struct {
		ID   int
		Code []*Inst
		Succ []int
	}

	Alloc struct {
		Sizes []int // vreg nr -> size in RegSize units
	}

	Program struct {
		Blocks []*Block
		Alloc  Alloc
	}
)

const DefaultExecSize = 8

func (i *Inst) SizeWritten() int {
	if i.Dst.File != FileVGRF {
		return 0
	}

	if i.Op == Pld {
		total := i.HeaderSize * RegSize

		for j := i.HeaderSize; j < len(i.Src); j++ {
			total += i.ExecSize * i.Dst.Stride * i.Src[j].Type.Size()
		}

		return total
	}

	if i.Dst.Stride == 0 {
		return i.Dst.Type.Size()
	}

	return i.ExecSize * i.Dst.Stride * i.Dst.Type.Size()
}

func (i *Inst) SizeRead(j int) int {
	s := i.Src[j]

	if s.File != FileVGRF {
		return 0
	}

	if i.Op == Pld && j < i.HeaderSize {
		return RegSize
	}

	if s.Stride == 0 {
		return s.Type.Size()
	}

	return i.ExecSize * s.Stride * s.Type.Size()
}

func (i *Inst) RegsWritten() int {
	return regs(i.SizeWritten())
}

func (i *Inst) RegsRead(j int) int {
	return regs(i.SizeRead(j))
}

// IsPartialWrite reports whether the instruction may leave part of the
// written region holding its previous value.
func (i *Inst) IsPartialWrite() bool {
	if i.Dst.File != FileVGRF {
		return false
	}

	return i.Predicate ||
		i.Dst.Stride != 1 ||
		i.Dst.Offset%RegSize != 0 ||
		i.SizeWritten()%RegSize != 0
}

// RegionsOverlap reports whether the byte region [a.Offset, a.Offset+an)
// touches [b.Offset, b.Offset+bn) within the same vreg.
func RegionsOverlap(a Reg, an int, b Reg, bn int) bool {
	if a.File != FileVGRF || b.File != FileVGRF || a.Nr != b.Nr {
		return false
	}

	return a.Offset < b.Offset+bn && b.Offset < a.Offset+an
}

// CoalescingPayload reports whether a payload build reads exactly one whole
// vreg contiguously from offset zero, so its per-channel copies form a
// single coalescible group.
func CoalescingPayload(p *Program, i *Inst) bool {
	if i.Op != Pld || i.HeaderSize != 0 || len(i.Src) == 0 {
		return false
	}

	first := i.Src[0]
	if first.File != FileVGRF || first.Offset != 0 {
		return false
	}

	off := 0

	for j, s := range i.Src {
		if s.File != FileVGRF || s.Nr != first.Nr || s.Type != first.Type || !s.IsContiguous() {
			return false
		}

		if s.Offset != off {
			return false
		}

		off += i.SizeRead(j)
	}

	return regs(off) == p.Alloc.Sizes[first.Nr]
}

func (b *Block) Add(op Op, dst Reg, src ...Reg) *Inst {
	i := &Inst{
		Op:       op,
		Dst:      dst,
		Src:      src,
		ExecSize: DefaultExecSize,
		Block:    b,
	}

	b.Code = append(b.Code, i)

	return i
}

func NewProgram() *Program {
	return &Program{}
}

func (p *Program) NewBlock(succ ...int) *Block {
	b := &Block{
		ID:   len(p.Blocks),
		Succ: succ,
	}

	p.Blocks = append(p.Blocks, b)

	return b
}

// NewVReg allocates a fresh vreg of the given size in RegSize units.
func (p *Program) NewVReg(size int) int {
	if size <= 0 {
		panic(size)
	}

	p.Alloc.Sizes = append(p.Alloc.Sizes, size)

	return len(p.Alloc.Sizes) - 1
}

func (a Alloc) Count() int {
	return len(a.Sizes)
}

// NumInsts is the total instruction count, which is also the ip just past
// the last instruction.
func (p *Program) NumInsts() (n int) {
	for _, b := range p.Blocks {
		n += len(b.Code)
	}

	return n
}

func regs(size int) int {
	return (size + RegSize - 1) / RegSize
}
