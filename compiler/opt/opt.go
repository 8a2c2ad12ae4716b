package opt

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/shade/compiler/defs"
	"github.com/slowlang/shade/compiler/ir"
	"github.com/slowlang/shade/compiler/live"
)

// Optimize reruns the coalescing pass until it stops making progress.
// Analyses are recomputed before each run since a successful coalesce
// leaves them stale.
func Optimize(ctx context.Context, p *ir.Program) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "optimize", "blocks", len(p.Blocks), "insts", p.NumInsts())
	defer tr.Finish("err", &err)

	for iter := 0; ; iter++ {
		lv := live.Analyze(ctx, p)
		df := defs.Analyze(ctx, p)

		if !RegisterCoalesce(ctx, p, lv, df) {
			break
		}

		tr.V("opt").Printw("progress", "iter", iter, "insts", p.NumInsts())
	}

	return nil
}
