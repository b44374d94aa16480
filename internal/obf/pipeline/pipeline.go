// Package pipeline runs the obfuscation passes over modules in dependency
// order: secret threading first, then the per-function rewrites that consume
// the secret, then string encryption.
package pipeline

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"goron/internal/diag"
	"goron/internal/ir"
	"goron/internal/obf"
	"goron/internal/obf/cse"
	"goron/internal/obf/indbr"
	"goron/internal/obf/ipobf"
	"goron/internal/obf/options"
	"goron/internal/observ"
)

var (
	_ obf.ModulePass   = (*ipobf.Context)(nil)
	_ obf.ModulePass   = (*cse.StringEncryption)(nil)
	_ obf.FunctionPass = (*indbr.IndirectBranch)(nil)
)

// Result describes one module run.
type Result struct {
	Module  *ir.Module
	Changed bool
	Bag     *diag.Bag
	Timing  observ.Report
}

// RunModule rewrites one module on the calling goroutine. The random engine
// is seeded per module, so every module transforms identically given the
// same seed.
func RunModule(m *ir.Module, opts *options.Options) (*Result, error) {
	bag := diag.NewBag(100)
	reporter := diag.BagReporter{Bag: bag}
	timer := observ.NewTimer()
	changed := false

	ipo := ipobf.NewContext(opts.Passes.IPObf, opts.Seed)

	ph := timer.Begin(ipobf.PassName)
	pa, err := ipo.Run(m)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", m.Name, err)
	}
	changed = changed || pa == obf.PreservedNone
	timer.End(ph, fmt.Sprintf("%d funcs", len(m.Funcs)))

	indbrPass := indbr.New(opts.Passes.Indbr, ipo, opts, reporter)
	ph = timer.Begin(indbr.PassName)
	rewritten := 0
	for _, f := range append([]*ir.Func(nil), m.Funcs...) {
		pa, err := indbrPass.RunOnFunction(f)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", m.Name, err)
		}
		if pa == obf.PreservedNone {
			changed = true
			rewritten++
		}
	}
	timer.End(ph, fmt.Sprintf("%d funcs rewritten", rewritten))

	csePass := cse.New(opts.Passes.Cse, ipo, opts, reporter)
	ph = timer.Begin(cse.PassName)
	pa, err = csePass.Run(m)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", m.Name, err)
	}
	changed = changed || pa == obf.PreservedNone
	timer.End(ph, "")

	if err := ir.Validate(m); err != nil {
		return nil, fmt.Errorf("module %s: post-obfuscation validation: %w", m.Name, err)
	}

	bag.Sort()
	return &Result{Module: m, Changed: changed, Bag: bag, Timing: timer.Report()}, nil
}

// RunModules rewrites modules in parallel, one goroutine per module. Any one
// module is only ever touched by a single goroutine.
func RunModules(ctx context.Context, mods []*ir.Module, opts *options.Options, jobs int) ([]*Result, error) {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(mods))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, m := range mods {
		i, m := i, m
		g.Go(func() error {
			res, err := RunModule(m, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
