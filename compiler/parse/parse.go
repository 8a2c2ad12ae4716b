// Package parse reads the textual form of the IR, one instruction per
// line, with optional block labels and vreg size directives.
//
//	%alloc t3 2
//	L0: -> L1
//		add t3, t1, t2
//		mov.le t4, t3
//		(+f0) mov t5, #42
//		send.eot null, t4
package parse

import (
	"context"
	"strconv"
	"strings"

	"tlog.app/go/errors"

	"github.com/slowlang/shade/compiler/ir"
)

type (
	state struct {
		p *ir.Program
		b *ir.Block

		labels map[string]int
		succ   map[int][]string
	}
)

func Program(ctx context.Context, text []byte) (*ir.Program, error) {
	s := &state{
		p:      ir.NewProgram(),
		labels: map[string]int{},
		succ:   map[int][]string{},
	}

	for ln, line := range strings.Split(string(text), "\n") {
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}

		err := s.line(line)
		if err != nil {
			return nil, errors.Wrap(err, "line %d", ln+1)
		}
	}

	for id, names := range s.succ {
		for _, name := range names {
			to, ok := s.labels[name]
			if !ok {
				return nil, errors.New("undefined label: %v", name)
			}

			s.p.Blocks[id].Succ = append(s.p.Blocks[id].Succ, to)
		}
	}

	return s.p, nil
}

func (s *state) line(line string) error {
	if rest, ok := strings.CutPrefix(line, "%alloc "); ok {
		return s.alloc(rest)
	}

	if name, rest, ok := label(line); ok {
		id := len(s.p.Blocks)

		if _, ok := s.labels[name]; ok {
			return errors.New("label redefined: %v", name)
		}

		s.labels[name] = id
		s.b = s.p.NewBlock()

		if rest, ok := strings.CutPrefix(strings.TrimSpace(rest), "->"); ok {
			s.succ[id] = strings.Fields(rest)
		} else if rest := strings.TrimSpace(rest); rest != "" {
			return errors.New("trailing text after label: %q", rest)
		}

		return nil
	}

	return s.inst(line)
}

func (s *state) alloc(rest string) error {
	f := strings.Fields(rest)
	if len(f) != 2 || !strings.HasPrefix(f[0], "t") {
		return errors.New("expected %%alloc t<nr> <size>")
	}

	nr, err := strconv.Atoi(f[0][1:])
	if err != nil {
		return errors.Wrap(err, "vreg number")
	}

	size, err := strconv.Atoi(f[1])
	if err != nil {
		return errors.Wrap(err, "vreg size")
	}

	if size <= 0 {
		return errors.New("bad vreg size: %d", size)
	}

	s.grow(nr)
	s.p.Alloc.Sizes[nr] = size

	return nil
}

func (s *state) inst(line string) error {
	if s.b == nil {
		s.b = s.p.NewBlock()
	}

	pred := false

	if rest, ok := strings.CutPrefix(line, "(+f0)"); ok {
		pred = true
		line = strings.TrimSpace(rest)
	}

	name, rest, _ := strings.Cut(line, " ")

	i := s.b.Add(ir.Nop, ir.Reg{})
	i.Predicate = pred

	err := s.opcode(i, name)
	if err != nil {
		return err
	}

	for oi, part := range splitOperands(rest) {
		r, err := s.operand(strings.TrimSpace(part))
		if err != nil {
			return errors.Wrap(err, "operand %d", oi)
		}

		if oi == 0 {
			i.Dst = r
		} else {
			i.Src = append(i.Src, r)
		}
	}

	if len(i.Src) == 0 && i.Op != ir.Nop {
		return errors.New("%v: missing sources", i.Op)
	}

	return nil
}

func (s *state) opcode(i *ir.Inst, name string) error {
	parts := strings.Split(name, ".")

	switch parts[0] {
	case "nop":
		i.Op = ir.Nop
	case "mov":
		i.Op = ir.Mov
	case "pld":
		i.Op = ir.Pld
	case "add":
		i.Op = ir.Add
	case "mul":
		i.Op = ir.Mul
	case "cmp":
		i.Op = ir.Cmp
	case "send":
		i.Op = ir.Send
	case "ldreg":
		i.Op = ir.LoadReg
	default:
		return errors.New("unknown opcode: %v", parts[0])
	}

	for _, mod := range parts[1:] {
		switch mod {
		case "sat":
			i.Saturate = true
		case "eot":
			i.EOT = true
		case "wall":
			i.WmaskAll = true
		case "z", "nz", "g", "ge", "l", "le":
			i.CondMod = cond(mod)
		default:
			return errors.New("unknown modifier: %v", mod)
		}
	}

	return nil
}

func (s *state) operand(text string) (r ir.Reg, err error) {
	orig := text

	if rest, ok := strings.CutPrefix(text, "-"); ok {
		r.Negate = true
		text = rest
	}

	if rest, ok := strings.CutPrefix(text, "|"); ok {
		r.Abs = true

		rest, ok = cutLast(rest, "|")
		if !ok {
			return r, errors.New("unclosed abs: %q", orig)
		}

		text = rest
	}

	text, tp, err := typeSuffix(text)
	if err != nil {
		return r, err
	}

	r.Type = tp
	r.Stride = 1

	text, _ = cutStride(text, &r.Stride)

	return s.base(r, text)
}

func (s *state) base(r ir.Reg, text string) (ir.Reg, error) {
	switch {
	case text == "null":
		r.File = ir.FileNull

		return r, nil
	case strings.HasPrefix(text, "#"):
		v, err := strconv.ParseInt(text[1:], 10, 64)
		if err != nil {
			return r, errors.Wrap(err, "immediate")
		}

		r.File = ir.FileImm
		r.Value = v
		r.Stride = 0

		return r, nil
	case strings.HasPrefix(text, "t"):
		nrText, offText, _ := strings.Cut(text[1:], "+")

		nr, err := strconv.Atoi(nrText)
		if err != nil {
			return r, errors.Wrap(err, "vreg number")
		}

		if offText != "" {
			r.Offset, err = strconv.Atoi(offText)
			if err != nil {
				return r, errors.Wrap(err, "vreg offset")
			}
		}

		s.grow(nr)

		r.File = ir.FileVGRF
		r.Nr = nr

		return r, nil
	default:
		return r, errors.New("bad operand: %q", text)
	}
}

func (s *state) grow(nr int) {
	for len(s.p.Alloc.Sizes) <= nr {
		s.p.NewVReg(1)
	}
}

func label(line string) (name, rest string, ok bool) {
	i := strings.Index(line, ":")
	if i <= 0 {
		return "", "", false
	}

	name = line[:i]

	for _, c := range name {
		if !isIdent(c) {
			return "", "", false
		}
	}

	return name, line[i+1:], true
}

func splitOperands(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	return strings.Split(text, ",")
}

func typeSuffix(text string) (string, ir.Type, error) {
	i := strings.LastIndex(text, ":")
	if i < 0 {
		return text, ir.TypeF, nil
	}

	switch text[i+1:] {
	case "f":
		return text[:i], ir.TypeF, nil
	case "d":
		return text[:i], ir.TypeD, nil
	case "ud":
		return text[:i], ir.TypeUD, nil
	case "w":
		return text[:i], ir.TypeW, nil
	case "uw":
		return text[:i], ir.TypeUW, nil
	default:
		return text, 0, errors.New("unknown type: %v", text[i+1:])
	}
}

func cutStride(text string, stride *int) (string, bool) {
	i := strings.LastIndex(text, "<")
	if i < 0 || !strings.HasSuffix(text, ">") {
		return text, false
	}

	v, err := strconv.Atoi(text[i+1 : len(text)-1])
	if err != nil {
		return text, false
	}

	*stride = v

	return text[:i], true
}

func cutLast(text, sep string) (string, bool) {
	i := strings.LastIndex(text, sep)
	if i < 0 {
		return text, false
	}

	return text[:i] + text[i+len(sep):], true
}

func cond(mod string) ir.Cond {
	switch mod {
	case "z":
		return ir.CondZ
	case "nz":
		return ir.CondNZ
	case "g":
		return ir.CondG
	case "ge":
		return ir.CondGE
	case "l":
		return ir.CondL
	case "le":
		return ir.CondLE
	default:
		panic(mod)
	}
}

func isIdent(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
