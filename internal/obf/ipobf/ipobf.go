// Package ipobf threads a per-function numeric secret through call chains.
// After it runs, every module-local function whose only uses are direct calls
// receives its secret through a hidden pointer argument (other functions keep
// reading it from their own stack slot), and every call site derives the
// callee's secret
// from the caller's live one, so later passes can materialize
// function-identity-dependent constants at run time without storing them.
package ipobf

import (
	"fmt"

	"goron/internal/ir"
	"goron/internal/obf"
	"goron/internal/obf/cryptoutils"
	"goron/internal/types"
)

// PassName tags diagnostics and errors from this pass.
const PassName = "ipobf"

// IPOInfo is the per-function secret bookkeeping left behind for downstream
// passes.
type IPOInfo struct {
	// CallerSlot holds the function's own secret until the secret argument
	// is wired; it is erased for resignatured functions.
	CallerSlot *ir.Instr
	// CalleeSlot is the scratch slot the function writes its next callee's
	// secret into before each call.
	CalleeSlot *ir.Instr
	// SecretLI is the load materializing the secret as an SSA value.
	SecretLI *ir.Instr
	// SecretCI is the compile-time value of the secret.
	SecretCI *ir.Const
}

// Context owns the IPOInfo map for the module's lifetime and exposes the
// shared random engine to the other passes.
type Context struct {
	enable bool
	rng    *cryptoutils.CryptoUtils

	localFunctions []*ir.Func
	infoMap        map[*ir.Func]*IPOInfo
	deadSlots      []*ir.Instr
}

// NewContext builds the pass; the seed primes the engine every later pass
// draws from.
func NewContext(enable bool, seed string) *Context {
	return &Context{
		enable:  enable,
		rng:     cryptoutils.New(seed),
		infoMap: make(map[*ir.Func]*IPOInfo),
	}
}

// RandomEngine exposes the shared deterministic random source.
func (c *Context) RandomEngine() *cryptoutils.CryptoUtils { return c.rng }

// GetIPOInfo returns the secret bookkeeping for f, or nil when f was not
// processed.
func (c *Context) GetIPOInfo(f *ir.Func) *IPOInfo { return c.infoMap[f] }

// Name returns the pass tag.
func (c *Context) Name() string { return PassName }

// Run surveys, allocates secret slots, resignatures every eligible function
// and wires call-site secret derivation.
func (c *Context) Run(m *ir.Module) (obf.PreservedAnalyses, error) {
	if !c.enable {
		return obf.PreservedAll, nil
	}

	// find all functions with local linkage used only as callees
	for _, f := range append([]*ir.Func(nil), m.Funcs...) {
		c.surveyFunction(m, f)
	}

	// alloc secret slots for every function with a body
	for _, f := range m.Funcs {
		if f.IsDeclaration() {
			continue
		}
		c.infoMap[f] = c.allocaSecretSlot(f)
	}

	// replace each local function with one taking a secret argument
	newFuncs := make([]*ir.Func, 0, len(c.localFunctions))
	for _, f := range c.localFunctions {
		nf, err := c.insertSecretArgument(m, f)
		if err != nil {
			return obf.PreservedNone, err
		}
		newFuncs = append(newFuncs, nf)
	}

	for _, nf := range newFuncs {
		c.computeCallSiteSecretArgument(m, nf)
	}

	// remove dead slots and their uses
	for _, slot := range c.deadSlots {
		fn := slot.Parent.Parent
		for _, b := range fn.Blocks {
			for _, in := range append([]*ir.Instr(nil), b.Instrs...) {
				for _, op := range in.Operands {
					if op == slot {
						ir.EraseInstr(in)
						break
					}
				}
			}
		}
		ir.EraseInstr(slot)
	}
	return obf.PreservedNone, nil
}

// surveyFunction enqueues f when it has local linkage, a body, and every use
// is the callee operand of a call or invoke. An address escape disqualifies
// the function entirely.
func (c *Context) surveyFunction(m *ir.Module, f *ir.Func) {
	if !f.Linkage.IsLocal() || f.IsDeclaration() {
		return
	}
	if len(ir.ConstUsers(m, f)) > 0 {
		return
	}
	for _, u := range ir.UsesOf(m, f) {
		if u.User.Op != ir.OpCall && u.User.Op != ir.OpInvoke {
			return
		}
		if u.OpIdx != 0 {
			return
		}
	}
	// a use buried inside a constant-expression operand is also an escape
	for _, ff := range m.Funcs {
		for _, b := range ff.Blocks {
			for _, in := range b.Instrs {
				for _, op := range in.Operands {
					if cc, ok := op.(*ir.Const); ok && cc.RefersTo(f) {
						return
					}
				}
			}
		}
	}
	c.localFunctions = append(c.localFunctions, f)
}

// allocaSecretSlot creates the two stack slots, stores a fresh random secret
// and loads it back as the function's SSA secret.
func (c *Context) allocaSecretSlot(f *ir.Func) *IPOInfo {
	in := f.Parent.Types
	bld := ir.NewBuilder(f.Parent)
	bld.SetInsertAtFront(f.Entry())
	callerSlot := bld.CreateAlloca(in.Builtins().I32, 4, "CallerSlot")
	calleeSlot := bld.CreateAlloca(in.Builtins().I32, 4, "CalleeSlot")
	secretCI := bld.Int32(c.rng.GetUint32())
	bld.CreateStore(secretCI, callerSlot)
	mySecret := bld.CreateLoad(callerSlot, "MySecret")

	return &IPOInfo{
		CallerSlot: callerSlot,
		CalleeSlot: calleeSlot,
		SecretLI:   mySecret,
		SecretCI:   secretCI,
	}
}

// insertSecretArgument replaces f with a parallel function whose parameter
// list is prefixed by a pointer-to-i32 secret argument, redirects every call
// site, splices the body, and erases f.
func (c *Context) insertSecretArgument(m *ir.Module, f *ir.Func) (*ir.Func, error) {
	in := m.Types
	info := f.FnInfo()

	params := make([]types.TypeID, 0, len(info.Params)+1)
	params = append(params, in.Pointer(in.Builtins().I32))
	params = append(params, info.Params...)
	nfTy := in.FuncOf(params, info.Result, info.Variadic)

	// Insert the new function before the old one, so a module walk won't
	// process it again.
	oldName := f.Name
	f.Name = oldName + ".old"
	nf := m.InsertFuncBefore(f, oldName, nfTy, f.Linkage)
	nf.CopyAttributesFrom(f)
	for i, a := range f.Params {
		nf.Params[i+1].Attrs = append([]string(nil), a.Attrs...)
	}

	// Redirect every call site. The use list is re-snapshotted after each
	// rewrite; each iteration consumes exactly the first remaining use.
	for {
		uses := ir.UsesOf(m, f)
		if len(uses) == 0 {
			break
		}
		u := uses[0]
		call := u.User
		if (call.Op != ir.OpCall && call.Op != ir.OpInvoke) || u.OpIdx != 0 {
			return nil, fmt.Errorf("%s: function %s has a non-call use after survey", PassName, oldName)
		}

		caller := call.Parent.Parent
		secretInfo := c.infoMap[caller]
		if secretInfo == nil {
			return nil, fmt.Errorf("%s: caller %s of %s has no secret slot", PassName, caller.Name, oldName)
		}

		args := make([]ir.Value, 0, len(call.CallArgs())+1)
		args = append(args, secretInfo.CalleeSlot)
		args = append(args, call.CallArgs()...)

		newOps := make([]ir.Value, 0, len(args)+1)
		newOps = append(newOps, nf)
		newOps = append(newOps, args...)

		// Shift the call-site parameter attributes past the secret argument.
		var paramAttrs [][]string
		if len(call.ParamAttrs) > 0 {
			paramAttrs = append(paramAttrs, nil)
			paramAttrs = append(paramAttrs, call.ParamAttrs...)
		}

		newCall := &ir.Instr{
			Op:         call.Op,
			Ty:         call.Ty,
			Name:       call.Name,
			Operands:   newOps,
			Blocks:     append([]*ir.Block(nil), call.Blocks...),
			CallConv:   call.CallConv,
			Tail:       call.Tail,
			ParamAttrs: paramAttrs,
			Loc:        call.Loc,
		}
		blk := call.Parent
		blk.InsertAt(blk.IndexOf(call), newCall)
		ir.ReplaceAllUsesInFunc(caller, call, newCall)
		ir.EraseInstr(call)
	}

	nf.SpliceBodyFrom(f)

	// Transfer uses of the old arguments to the new ones, names included.
	nf.Params[0].Name = "SecretArg"
	for i, old := range f.Params {
		na := nf.Params[i+1]
		ir.ReplaceAllUsesInFunc(nf, old, na)
		na.Name = old.Name
	}

	// Load the secret through the new argument instead of the caller slot.
	bld := ir.NewBuilder(m)
	bld.SetInsertAtFront(nf.Entry())
	mySecret := bld.CreateLoad(nf.Params[0], "MySecret")

	ipoInfo := c.infoMap[f]
	ir.EraseInstr(ipoInfo.SecretLI)
	ipoInfo.SecretLI = mySecret
	c.deadSlots = append(c.deadSlots, ipoInfo.CallerSlot)

	c.infoMap[nf] = ipoInfo
	delete(c.infoMap, f)

	m.EraseFunc(f)
	return nf, nil
}

// computeCallSiteSecretArgument stores, immediately before every call of f,
// the callee's secret derived from the caller's live one:
// CalleeSecret = CallerSecret - (CallerSecretInt - CalleeSecretInt).
func (c *Context) computeCallSiteSecretArgument(m *ir.Module, f *ir.Func) {
	calleeInfo := c.infoMap[f]
	bld := ir.NewBuilder(m)

	for _, u := range ir.UsesOf(m, f) {
		call := u.User
		caller := call.Parent.Parent
		callerInfo := c.infoMap[caller]
		if callerInfo == nil {
			continue
		}

		bld.SetInsertBefore(call)
		// X = CallerSecretInt - CalleeSecretInt
		x := ir.ExprSub(m.Types, callerInfo.SecretCI, calleeInfo.SecretCI)
		calleeSecret := bld.CreateSub(callerInfo.SecretLI, x, "")
		bld.CreateStore(calleeSecret, callerInfo.CalleeSlot)
	}
}
