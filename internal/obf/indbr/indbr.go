// Package indbr rewrites conditional branches into indirect branches through
// an encrypted, function-local table of block addresses. The table decryption
// key is derived at run time from the secret ipobf injects, so the key never
// appears in the image.
package indbr

import (
	"goron/internal/diag"
	"goron/internal/ir"
	"goron/internal/obf"
	"goron/internal/obf/ipobf"
	"goron/internal/obf/options"
)

// PassName tags diagnostics and errors from this pass.
const PassName = "indbr"

// IndirectBranch is the per-function rewrite pass.
type IndirectBranch struct {
	enable   bool
	ipo      *ipobf.Context
	opts     *options.Options
	reporter diag.Reporter

	bbNumbering map[*ir.Block]int
	bbTargets   []*ir.Block
}

// New builds the pass. It draws randomness from the ipobf engine so the whole
// pipeline consumes one deterministic stream.
func New(enable bool, ipo *ipobf.Context, opts *options.Options, r diag.Reporter) *IndirectBranch {
	return &IndirectBranch{enable: enable, ipo: ipo, opts: opts, reporter: r}
}

// Name returns the pass tag.
func (p *IndirectBranch) Name() string { return PassName }

// numberBasicBlock collects every conditional-branch target once, shuffles
// the list and assigns dense indices in shuffled order.
func (p *IndirectBranch) numberBasicBlock(f *ir.Func) {
	for _, bb := range f.Blocks {
		if !bb.Terminated() {
			continue
		}
		term := bb.Term()
		if term.Op != ir.OpCondBr {
			continue
		}
		for _, succ := range term.Blocks {
			if _, seen := p.bbNumbering[succ]; !seen {
				p.bbTargets = append(p.bbTargets, succ)
				p.bbNumbering[succ] = 0
			}
		}
	}

	rng := p.ipo.RandomEngine()
	for i := len(p.bbTargets) - 1; i > 0; i-- {
		j := int(rng.GetUint32() % uint32(i+1)) //nolint:gosec // G115: i is small and positive
		p.bbTargets[i], p.bbTargets[j] = p.bbTargets[j], p.bbTargets[i]
	}

	for n, bb := range p.bbTargets {
		p.bbNumbering[bb] = n
	}
}

// getIndirectTargets returns the function's encrypted block-address table,
// creating it on first use. Every element is BlockAddress(BB) offset by the
// encryption key.
func (p *IndirectBranch) getIndirectTargets(f *ir.Func, encKey *ir.Const) *ir.Global {
	m := f.Parent
	in := m.Types
	gvName := f.Name + "_IndirectBrTargets"
	if gv := m.NamedGlobal(gvName); gv != nil {
		return gv
	}

	i8Ptr := in.Pointer(in.Builtins().I8)
	elems := make([]ir.Value, 0, len(p.bbTargets))
	for _, bb := range p.bbTargets {
		ce := ir.BlockAddress(in, f, bb)
		elems = append(elems, ir.ExprGEP(in, ce, encKey))
	}

	gv := m.NewGlobal(gvName, in.ArrayOf(i8Ptr, uint32(len(elems))), ir.PrivateLinkage, //nolint:gosec // G115: table is small
		ir.NewArray(in, i8Ptr, elems))
	m.AppendToCompilerUsed(gv)
	return gv
}

// RunOnFunction rewrites every conditional branch of f.
func (p *IndirectBranch) RunOnFunction(f *ir.Func) (obf.PreservedAnalyses, error) {
	if !p.opts.ToObfuscate(p.enable, f, PassName) {
		return obf.PreservedAll, nil
	}
	if p.opts.SkipFunction(f.Name) {
		return obf.PreservedAll, nil
	}
	if f.IsDeclaration() || f.Linkage == ir.LinkOnceLinkage || f.Section == ".text.startup" {
		return obf.PreservedAll, nil
	}

	m := f.Parent
	in := m.Types

	// Init member fields
	p.bbNumbering = make(map[*ir.Block]int)
	p.bbTargets = nil

	// an indirect branch must not be the source side of a critical edge
	ir.SplitAllCriticalEdges(f)
	p.numberBasicBlock(f)

	if len(p.bbNumbering) == 0 {
		return obf.PreservedNone, nil
	}

	encKey := ir.NewInt(in, in.Builtins().I32, uint64(p.ipo.RandomEngine().GetUint32()&^3))

	secretInfo := p.ipo.GetIPOInfo(f)
	zero := ir.NewInt(in, in.Builtins().I32, 0)

	var mySecret ir.Value
	var secretCI *ir.Const
	if secretInfo != nil {
		mySecret = secretInfo.SecretLI
		secretCI = secretInfo.SecretCI
	} else {
		// The decryption key collapses to a compile-time constant here,
		// which nullifies the caller-dependency property for this function.
		diag.ReportWarning(p.reporter, diag.IndbrDegradedKey, PassName, f.Name,
			"no secret available; indirect-branch key degrades to a constant")
		mySecret = zero
		secretCI = zero
	}

	destBBs := p.getIndirectTargets(f, encKey)
	bld := ir.NewBuilder(m)

	for _, bb := range append([]*ir.Block(nil), f.Blocks...) {
		if !bb.Terminated() {
			continue
		}
		bi := bb.Term()
		if bi.Op != ir.OpCondBr {
			continue
		}
		cond := bi.Operands[0]
		succT, succF := bi.Blocks[0], bi.Blocks[1]

		bld.SetInsertBefore(bi)
		tIdx := ir.NewInt(in, in.Builtins().I32, uint64(p.bbNumbering[succT])) //nolint:gosec // G115: dense index
		fIdx := ir.NewInt(in, in.Builtins().I32, uint64(p.bbNumbering[succF])) //nolint:gosec // G115: dense index
		idx := bld.CreateSelect(cond, tIdx, fIdx, "")

		gep := bld.CreateGEP(destBBs, []ir.Value{zero, idx}, false, "")
		encDestAddr := bld.CreateLoad(gep, "EncDestAddr")

		// X = FuncSecret - EncKey; at run time DecKey = X - FuncSecret = -EncKey
		x := ir.ExprSub(in, secretCI, encKey)
		decKey := bld.CreateSub(x, mySecret, "")
		destAddr := bld.CreateGEP(encDestAddr, []ir.Value{decKey}, false, "")

		ibr := ir.NewIndirectBr(m, destAddr)
		ir.AddDestination(ibr, succT)
		ir.AddDestination(ibr, succF)
		bb.ReplaceTerminator(ibr)
	}

	return obf.PreservedNone, nil
}
