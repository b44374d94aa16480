// Package cse encrypts constant C strings at compile time and rewrites every
// use to decrypt into a private buffer first. The ciphertext lives in an
// interleaved pool of junk, keys and ciphertext; a plaintext global is erased
// only when it has local linkage and no uses remain after the rewrite.
package cse

import (
	"fmt"
	"strings"

	"goron/internal/diag"
	"goron/internal/ir"
	"goron/internal/obf"
	"goron/internal/obf/ipobf"
	"goron/internal/obf/options"
	"goron/internal/types"
)

// PassName tags diagnostics and errors from this pass.
const PassName = "cse"

// CSPEntry tracks one encrypted constant string.
type CSPEntry struct {
	ID     uint32
	Data   []byte // plaintext bytes, overwritten with ciphertext in place
	EncKey []byte
	Offset uint32 // pool offset of the first key byte

	DecGV     *ir.Global
	DecStatus *ir.Global
	DecFunc   *ir.Func
}

// CSUser tracks a non-string global whose initializer references an
// encrypted string.
type CSUser struct {
	GV        *ir.Global
	DecGV     *ir.Global
	DecStatus *ir.Global
	InitFunc  *ir.Func
}

// StringEncryption is the module pass.
type StringEncryption struct {
	enable   bool
	ipo      *ipobf.Context
	opts     *options.Options
	reporter diag.Reporter

	pool      []*CSPEntry
	entryMap  map[*ir.Global]*CSPEntry
	userMap   map[*ir.Global]*CSUser
	userOrder []*ir.Global

	maybeDead    []*ir.Global
	maybeDeadSet map[*ir.Global]bool

	encryptedStringTable *ir.Global
}

// New builds the pass; randomness comes from the shared ipobf engine.
func New(enable bool, ipo *ipobf.Context, opts *options.Options, r diag.Reporter) *StringEncryption {
	return &StringEncryption{
		enable:       enable,
		ipo:          ipo,
		opts:         opts,
		reporter:     r,
		entryMap:     make(map[*ir.Global]*CSPEntry),
		userMap:      make(map[*ir.Global]*CSUser),
		maybeDeadSet: make(map[*ir.Global]bool),
	}
}

// Name returns the pass tag.
func (p *StringEncryption) Name() string { return PassName }

// Run encrypts every constant C string in m and rewrites all uses.
func (p *StringEncryption) Run(m *ir.Module) (obf.PreservedAnalyses, error) {
	if !p.enable {
		return obf.PreservedAll, nil
	}
	in := m.Types
	zero := ir.NewInt(in, in.Builtins().I32, 0)

	// collect all c strings, and the globals whose initializers use them
	userOrderSeen := make(map[*ir.Global]bool)
	for _, gv := range append([]*ir.Global(nil), m.Globals...) {
		if !gv.Constant || !gv.HasInitializer() {
			continue
		}
		cds, ok := gv.Init.(*ir.Const)
		if !ok || !isCString(cds) {
			continue
		}
		entry := &CSPEntry{
			ID:   uint32(len(p.pool)), //nolint:gosec // G115: pool is small
			Data: append([]byte(nil), cds.Data...),
		}
		decGV := m.NewGlobal(fmt.Sprintf("dec%x%s", entry.ID, gv.Name), cds.Ty,
			ir.PrivateLinkage, ir.NewZero(cds.Ty))
		decGV.Align = gv.Align
		decStatus := m.NewGlobal(fmt.Sprintf("dec_status_%x%s", entry.ID, gv.Name),
			in.Builtins().I32, ir.PrivateLinkage, zero)
		entry.DecGV = decGV
		entry.DecStatus = decStatus
		p.pool = append(p.pool, entry)
		p.entryMap[gv] = entry

		for _, user := range ir.ConstUsers(m, gv) {
			if !userOrderSeen[user] {
				userOrderSeen[user] = true
				p.userOrder = append(p.userOrder, user)
			}
		}
	}

	// encrypt those strings, build corresponding decrypt function
	for _, entry := range p.pool {
		entry.EncKey = p.randomBytes(16, 32)
		for i := range entry.Data {
			entry.Data[i] ^= entry.EncKey[i%len(entry.EncKey)]
		}
		entry.DecFunc = p.buildDecryptFunction(m, entry)
	}

	// build initialization function for supported constant string users
	for _, gv := range p.userOrder {
		if !isValidToEncrypt(in, gv) {
			continue
		}
		decGV := m.NewGlobal("dec_"+gv.Name, gv.Elem, ir.PrivateLinkage,
			ir.NullValue(in, gv.Elem))
		decGV.Align = gv.Align
		decStatus := m.NewGlobal("dec_status_"+gv.Name, in.Builtins().I32,
			ir.PrivateLinkage, zero)
		user := &CSUser{GV: gv, DecGV: decGV, DecStatus: decStatus}
		user.InitFunc = p.buildInitFunction(m, user)
		p.userMap[gv] = user
	}

	// emit the constant string pool
	// | junk bytes | key 1 | encrypted string 1 | junk bytes | key 2 | ...
	var data []byte
	for _, entry := range p.pool {
		data = append(data, p.randomBytes(16, 32)...)
		entry.Offset = uint32(len(data)) //nolint:gosec // G115: pool is small
		data = append(data, entry.EncKey...)
		data = append(data, entry.Data...)
	}
	p.encryptedStringTable = m.NewGlobal("EncryptedStringTable",
		in.ArrayOf(in.Builtins().I8, uint32(len(data))), //nolint:gosec // G115: pool is small
		ir.PrivateLinkage, ir.NewData(in, 8, data))
	p.encryptedStringTable.Constant = true

	// decrypt strings back at every use, switching the plain use to the
	// decrypted buffer
	changed := false
	for _, f := range append([]*ir.Func(nil), m.Funcs...) {
		if f.IsDeclaration() {
			continue
		}
		changed = p.processConstantStringUse(f) || changed
	}
	for _, gv := range p.userOrder {
		if user := p.userMap[gv]; user != nil {
			changed = p.processConstantStringUse(user.InitFunc) || changed
		}
	}

	// delete unused global variables
	p.deleteUnusedGlobalVariable(m)
	for _, entry := range p.pool {
		if !ir.HasUses(m, entry.DecFunc) {
			m.EraseFunc(entry.DecFunc)
			m.EraseGlobal(entry.DecGV)
			m.EraseGlobal(entry.DecStatus)
		}
	}

	if !changed {
		return obf.PreservedAll, nil
	}
	return obf.PreservedNone, nil
}

// randomBytes returns a fresh random buffer with length uniform in
// [minSize, maxSize).
func (p *StringEncryption) randomBytes(minSize, maxSize uint32) []byte {
	n := p.ipo.RandomEngine().GetUint32()
	size := minSize
	if maxSize > minSize {
		size = minSize + n%(maxSize-minSize)
	}
	buf := make([]byte, size)
	p.ipo.RandomEngine().GetBytes(buf)
	return buf
}

// isCString accepts [N x iW] data, W in {8,16,32}, whose elements form a
// null-terminated sequence with no embedded nulls. A lone terminator is not
// a string: nothing would be hidden by encrypting it.
func isCString(c *ir.Const) bool {
	if c.Kind != ir.ConstData {
		return false
	}
	switch c.ElemWidth {
	case 8, 16, 32:
	default:
		return false
	}
	n := c.NumElements()
	if n < 2 {
		return false
	}
	for i := 0; i < n; i++ {
		if c.ElementAsInt(i) == 0 {
			return i == n-1 // last element is null
		}
	}
	return false // null not found
}

func isObjCSelectorPtr(gv *ir.Global) bool {
	return gv.ExternallyInitialized && gv.Linkage.IsLocal() &&
		strings.HasPrefix(gv.Name, "OBJC_SELECTOR_REFERENCES_")
}

func isCFConstantStringTag(in *types.Interner, gv *ir.Global) bool {
	info, ok := in.StructInfo(gv.Elem)
	return ok && info.Name == "struct.__NSConstantString_tag"
}

func isValidToEncrypt(in *types.Interner, gv *ir.Global) bool {
	if !gv.HasInitializer() {
		return false
	}
	if gv.Constant {
		return true
	}
	return isCFConstantStringTag(in, gv) || isObjCSelectorPtr(gv)
}

// buildDecryptFunction synthesizes
//
//	static void goron_decrypt_string(u8 *plain_string, const u8 *data) {
//	  const u8 *key = data;
//	  const u8 *es = &data[key_size];
//	  if (dec_status == 1) return;
//	  for (i = 0; i < data_len; i++)
//	    plain_string[i] = es[i] ^ key[i % key_size];
//	  dec_status = 1;
//	}
func (p *StringEncryption) buildDecryptFunction(m *ir.Module, entry *CSPEntry) *ir.Func {
	in := m.Types
	i8Ptr := in.Pointer(in.Builtins().I8)
	i32 := in.Builtins().I32
	fnTy := in.FuncOf([]types.TypeID{i8Ptr, i8Ptr}, in.Builtins().Void, false)
	decFunc := m.NewFunc(fmt.Sprintf("goron_decrypt_string_%x", entry.ID), fnTy, ir.PrivateLinkage)

	plainString := decFunc.Params[0]
	plainString.Name = "plain_string"
	plainString.Attrs = []string{"nocapture"}
	data := decFunc.Params[1]
	data.Name = "data"
	data.Attrs = []string{"nocapture", "readonly"}

	enter := decFunc.NewBlock("Enter")
	loopBody := decFunc.NewBlock("LoopBody")
	updateDecStatus := decFunc.NewBlock("UpdateDecStatus")
	exit := decFunc.NewBlock("Exit")

	bld := ir.NewBuilder(m)
	one := ir.NewInt(in, i32, 1)
	keySize := ir.NewInt(in, i32, uint64(len(entry.EncKey)))

	bld.SetInsertAtEnd(enter)
	encPtr := bld.CreateGEP(data, []ir.Value{keySize}, true, "")
	decStatus := bld.CreateLoad(entry.DecStatus, "")
	isDecrypted := bld.CreateICmp(ir.PredEQ, decStatus, one, "")
	bld.CreateCondBr(isDecrypted, exit, loopBody)

	bld.SetInsertAtEnd(loopBody)
	loopCounter := bld.CreatePhi(i32, "")
	ir.AddIncoming(loopCounter, ir.NewInt(in, i32, 0), enter)

	encCharPtr := bld.CreateGEP(encPtr, []ir.Value{loopCounter}, true, "")
	encChar := bld.CreateLoad(encCharPtr, "")
	keyIdx := bld.CreateURem(loopCounter, keySize, "")

	keyCharPtr := bld.CreateGEP(data, []ir.Value{keyIdx}, true, "")
	keyChar := bld.CreateLoad(keyCharPtr, "")

	decChar := bld.CreateXor(encChar, keyChar, "")
	decCharPtr := bld.CreateGEP(plainString, []ir.Value{loopCounter}, true, "")
	bld.CreateStore(decChar, decCharPtr)

	newCounter := bld.CreateAdd(loopCounter, one, "")
	ir.AddIncoming(loopCounter, newCounter, loopBody)

	cond := bld.CreateICmp(ir.PredEQ, newCounter, ir.NewInt(in, i32, uint64(len(entry.Data))), "")
	bld.CreateCondBr(cond, updateDecStatus, loopBody)

	bld.SetInsertAtEnd(updateDecStatus)
	bld.CreateStore(one, entry.DecStatus)
	bld.CreateBr(exit)

	bld.SetInsertAtEnd(exit)
	bld.CreateRetVoid()

	return decFunc
}

// buildInitFunction synthesizes the first-use initializer of a constant
// string user, lowering the original initializer into the private twin.
func (p *StringEncryption) buildInitFunction(m *ir.Module, user *CSUser) *ir.Func {
	in := m.Types
	i32 := in.Builtins().I32
	fnTy := in.FuncOf([]types.TypeID{user.DecGV.Type()}, in.Builtins().Void, false)
	initFunc := m.NewFunc("global_variable_init_"+user.GV.Name, fnTy, ir.PrivateLinkage)

	thiz := initFunc.Params[0]
	thiz.Name = "this"
	thiz.Attrs = []string{"nocapture"}

	enter := initFunc.NewBlock("Enter")
	initBlock := initFunc.NewBlock("InitBlock")
	exit := initFunc.NewBlock("Exit")

	bld := ir.NewBuilder(m)
	one := ir.NewInt(in, i32, 1)

	bld.SetInsertAtEnd(enter)
	decStatus := bld.CreateLoad(user.DecStatus, "")
	isDecrypted := bld.CreateICmp(ir.PredEQ, decStatus, one, "")
	bld.CreateCondBr(isDecrypted, exit, initBlock)

	bld.SetInsertAtEnd(initBlock)
	init := user.GV.Init

	// convert the constant initializer into a series of instructions
	p.lowerGlobalConstant(init, bld, thiz)

	if isObjCSelectorPtr(user.GV) {
		// resolve selector
		i8Ptr := in.Pointer(in.Builtins().I8)
		selRegisterName := m.GetOrInsertFunction("sel_registerName",
			in.FuncOf([]types.TypeID{i8Ptr}, i8Ptr, false))
		selector := bld.CreateCall(selRegisterName, []ir.Value{init}, "")
		bld.CreateStore(selector, user.DecGV)
	}

	bld.CreateStore(one, user.DecStatus)
	bld.CreateBr(exit)

	bld.SetInsertAtEnd(exit)
	bld.CreateRetVoid()
	return initFunc
}

// lowerGlobalConstant stores cv into ptr, descending into aggregates
// element-wise via GEPs.
func (p *StringEncryption) lowerGlobalConstant(cv ir.Value, bld *ir.Builder, ptr ir.Value) {
	in := bld.M.Types
	c, ok := cv.(*ir.Const)
	if !ok {
		bld.CreateStore(cv, ptr)
		return
	}
	switch c.Kind {
	case ir.ConstZero:
		bld.CreateStore(c, ptr)
	case ir.ConstArray, ir.ConstStruct:
		for i, elem := range c.Elems {
			gep := bld.CreateGEP(ptr, []ir.Value{bld.Int32(0), ir.NewInt(in, in.Builtins().I32, uint64(i))}, false, "") //nolint:gosec // G115: element index
			p.lowerGlobalConstant(elem, bld, gep)
		}
	default:
		bld.CreateStore(c, ptr)
	}
}

// processConstantStringUse rewrites every use of an encrypted string or of a
// string user inside f, inserting the decrypt or init call before the first
// use in each block. Phi operands are handled at the incoming block's
// terminator, never before the phi itself.
func (p *StringEncryption) processConstantStringUse(f *ir.Func) bool {
	if !p.opts.ToObfuscate(p.enable, f, PassName) {
		return false
	}
	if p.opts.SkipFunction(f.Name) {
		return false
	}
	ir.LowerConstantExpr(f)

	// if a GV has multiple uses in a block, decrypt only at the first one
	decryptedGV := make(map[*ir.Global]bool)
	changed := false
	for _, bb := range f.Blocks {
		clear(decryptedGV)
		for _, inst := range append([]*ir.Instr(nil), bb.Instrs...) {
			if inst.Op == ir.OpPhi {
				for i, incoming := range inst.Operands {
					gv, ok := incoming.(*ir.Global)
					if !ok {
						continue
					}
					insertPt := inst.Blocks[i].Term()
					if p.rewriteUse(inst, gv, insertPt, decryptedGV) {
						changed = true
					}
				}
			} else {
				for _, op := range inst.Operands {
					gv, ok := op.(*ir.Global)
					if !ok {
						continue
					}
					if p.rewriteUse(inst, gv, inst, decryptedGV) {
						changed = true
					}
				}
			}
		}
	}
	return changed
}

// rewriteUse redirects one instruction's use of gv to the decrypted twin,
// emitting the decrypt or init call before insertPt unless this block
// already decrypted gv.
func (p *StringEncryption) rewriteUse(inst *ir.Instr, gv *ir.Global, insertPt *ir.Instr, decryptedGV map[*ir.Global]bool) bool {
	in := inst.Parent.Parent.Parent.Types
	if user, ok := p.userMap[gv]; ok {
		if !decryptedGV[gv] {
			bld := ir.NewBuilder(inst.Parent.Parent.Parent)
			bld.SetInsertBefore(insertPt)
			bld.CreateCall(user.InitFunc, []ir.Value{user.DecGV}, "")
			p.markMaybeDead(gv)
			decryptedGV[gv] = true
		}
		inst.ReplaceUsesOfWith(gv, user.DecGV)
		return true
	}
	if entry, ok := p.entryMap[gv]; ok {
		if !decryptedGV[gv] {
			bld := ir.NewBuilder(inst.Parent.Parent.Parent)
			bld.SetInsertBefore(insertPt)
			outBuf := ir.ExprBitCast(entry.DecGV, in.Pointer(in.Builtins().I8))
			data := ir.ExprGEP(in, p.encryptedStringTable,
				ir.NewInt(in, in.Builtins().I32, 0),
				ir.NewInt(in, in.Builtins().I32, uint64(entry.Offset)))
			bld.CreateCall(entry.DecFunc, []ir.Value{outBuf, data}, "")
			p.markMaybeDead(gv)
			decryptedGV[gv] = true
		}
		inst.ReplaceUsesOfWith(gv, entry.DecGV)
		return true
	}
	return false
}

func (p *StringEncryption) markMaybeDead(gv *ir.Global) {
	if !p.maybeDeadSet[gv] {
		p.maybeDeadSet[gv] = true
		p.maybeDead = append(p.maybeDead, gv)
	}
}

// deleteUnusedGlobalVariable erases local globals that lost their last use,
// iterating to a fixed point because erasing a user global can free the
// string it referenced.
func (p *StringEncryption) deleteUnusedGlobalVariable(m *ir.Module) {
	changed := true
	for changed {
		changed = false
		kept := p.maybeDead[:0]
		for _, gv := range p.maybeDead {
			if !gv.Linkage.IsLocal() {
				kept = append(kept, gv)
				continue
			}
			if gv.Parent == m && !ir.HasUses(m, gv) && len(ir.ConstUsers(m, gv)) == 0 {
				if gv.Init != nil && ir.IsSafeToDestroyConstant(gv.Init) {
					gv.Init = nil
				}
				delete(p.maybeDeadSet, gv)
				m.EraseGlobal(gv)
				changed = true
				continue
			}
			kept = append(kept, gv)
		}
		p.maybeDead = kept
	}
}
