package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/shade/compiler/format"
	"github.com/slowlang/shade/compiler/opt"
	"github.com/slowlang/shade/compiler/parse"
)

func OptimizeFile(ctx context.Context, name string) (obj []byte, err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Optimize(ctx, name, text)
}

func Optimize(ctx context.Context, name string, text []byte) (obj []byte, err error) {
	p, err := parse.Program(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "parse text")
	}

	err = opt.Optimize(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "optimize")
	}

	return format.Program(ctx, nil, p), nil
}
