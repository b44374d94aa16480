package cse

import (
	"bytes"
	"strings"
	"testing"

	"goron/internal/diag"
	"goron/internal/ir"
	"goron/internal/obf"
	"goron/internal/obf/ipobf"
	"goron/internal/obf/options"
	"goron/internal/types"
)

func newPass(t *testing.T) *StringEncryption {
	t.Helper()
	ipo := ipobf.NewContext(true, "test-seed")
	return New(true, ipo, options.Default(), diag.NopReporter{})
}

// buildStrlenModule builds:
//
//	static const char s[] = "hello";
//	int main() { return strlen(s); }
func buildStrlenModule(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.NewModule("s3")
	in := m.Types
	i8 := in.Builtins().I8
	i32 := in.Builtins().I32

	s := m.NewGlobal("s", in.ArrayOf(i8, 6), ir.InternalLinkage,
		ir.NewData(in, 8, []byte("hello\x00")))
	s.Constant = true
	s.Align = 1

	strlenFn := m.NewFunc("strlen",
		in.FuncOf([]types.TypeID{in.Pointer(i8)}, i32, false), ir.ExternalLinkage)

	mainFn := m.NewFunc("main", in.FuncOf(nil, i32, false), ir.ExternalLinkage)
	entry := mainFn.NewBlock("entry")
	bld := ir.NewBuilder(m)
	bld.SetInsertAtEnd(entry)
	zero := ir.NewInt(in, i32, 0)
	r := bld.CreateCall(strlenFn, []ir.Value{ir.ExprGEP(in, s, zero, zero)}, "r")
	bld.CreateRet(r)
	return m
}

func TestRun_PoolLayoutAndRecoverability(t *testing.T) {
	m := buildStrlenModule(t)
	p := newPass(t)
	pa, err := p.Run(m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if pa != obf.PreservedNone {
		t.Fatal("CSE claims it preserved everything")
	}
	if err := ir.Validate(m); err != nil {
		t.Fatalf("module invalid after CSE: %v", err)
	}

	table := m.NamedGlobal("EncryptedStringTable")
	if table == nil {
		t.Fatal("pool missing")
	}
	if !table.Constant || table.Linkage != ir.PrivateLinkage {
		t.Error("pool must be a private constant")
	}
	pool := table.Init.(*ir.Const).Data

	if len(p.pool) != 1 {
		t.Fatalf("pool has %d entries, want 1", len(p.pool))
	}
	entry := p.pool[0]
	if len(entry.EncKey) < 16 || len(entry.EncKey) >= 32 {
		t.Errorf("key length %d outside [16,32)", len(entry.EncKey))
	}
	if entry.Offset < 16 || entry.Offset >= 32 {
		t.Errorf("junk prefix %d outside [16,32)", entry.Offset)
	}

	keyLen := uint32(len(entry.EncKey)) //nolint:gosec // G115: key is short
	if !bytes.Equal(pool[entry.Offset:entry.Offset+keyLen], entry.EncKey) {
		t.Error("pool offset does not point at the key")
	}

	// XOR the ciphertext with the repeating key: the plaintext must come back
	ct := pool[entry.Offset+keyLen : entry.Offset+keyLen+6]
	plain := make([]byte, len(ct))
	for i := range ct {
		plain[i] = ct[i] ^ entry.EncKey[i%len(entry.EncKey)]
	}
	if !bytes.Equal(plain, []byte("hello\x00")) {
		t.Errorf("recovered %q, want hello", plain)
	}
	if bytes.Contains(pool, []byte("hello")) {
		t.Error("plaintext survived in the pool")
	}
}

func TestRun_RewritesUseAndErasesPlaintext(t *testing.T) {
	m := buildStrlenModule(t)
	p := newPass(t)
	if _, err := p.Run(m); err != nil {
		t.Fatalf("run: %v", err)
	}

	if m.NamedGlobal("s") != nil {
		t.Error("plaintext global still present")
	}
	decGV := m.NamedGlobal("dec0s")
	if decGV == nil {
		t.Fatal("decryption buffer missing")
	}
	if c, ok := decGV.Init.(*ir.Const); !ok || c.Kind != ir.ConstZero {
		t.Error("decryption buffer is not zero-initialized")
	}
	if m.NamedGlobal("dec_status_0s") == nil {
		t.Error("decryption status flag missing")
	}

	mainFn := m.NamedFunc("main")
	decFunc := m.NamedFunc("goron_decrypt_string_0")
	if decFunc == nil {
		t.Fatal("decrypt function missing")
	}

	// the decrypt call must precede the rewritten use in the same block
	entry := mainFn.Entry()
	decCallAt, useAt := -1, -1
	for i, inst := range entry.Instrs {
		if (inst.Op == ir.OpCall) && inst.Callee() == ir.Value(decFunc) {
			decCallAt = i
		}
		if inst.Op == ir.OpGEP && inst.Operands[0] == ir.Value(decGV) {
			useAt = i
		}
	}
	if decCallAt < 0 {
		t.Fatal("no decrypt call in main")
	}
	if useAt < 0 {
		t.Fatal("use was not rewritten to the decryption buffer")
	}
	if decCallAt > useAt {
		t.Error("decrypt call inserted after the use")
	}
}

func TestRun_DecryptFunctionShape(t *testing.T) {
	m := buildStrlenModule(t)
	p := newPass(t)
	if _, err := p.Run(m); err != nil {
		t.Fatalf("run: %v", err)
	}

	decFunc := m.NamedFunc("goron_decrypt_string_0")
	if decFunc.Linkage != ir.PrivateLinkage {
		t.Error("decrypt function must be private")
	}
	if len(decFunc.Blocks) != 4 {
		t.Fatalf("decrypt function has %d blocks, want 4", len(decFunc.Blocks))
	}
	enter, loop, update, exit := decFunc.Blocks[0], decFunc.Blocks[1], decFunc.Blocks[2], decFunc.Blocks[3]

	// idempotence: Enter tests the status flag and jumps straight to Exit
	term := enter.Term()
	if term.Op != ir.OpCondBr || term.Blocks[0] != exit || term.Blocks[1] != loop {
		t.Error("Enter does not guard on the decryption status")
	}

	// LoopBody carries the counter in a phi fed from Enter and itself
	phi := loop.Instrs[0]
	if phi.Op != ir.OpPhi || len(phi.Operands) != 2 {
		t.Fatal("loop counter phi malformed")
	}
	if phi.Blocks[0] != enter || phi.Blocks[1] != loop {
		t.Error("phi incoming blocks are not Enter and LoopBody")
	}
	if lt := loop.Term(); lt.Op != ir.OpCondBr || lt.Blocks[0] != update || lt.Blocks[1] != loop {
		t.Error("loop does not exit into UpdateDecStatus")
	}

	// UpdateDecStatus flips the flag exactly once
	var storesOne bool
	for _, inst := range update.Instrs {
		if inst.Op == ir.OpStore {
			if c, ok := inst.Operands[0].(*ir.Const); ok && c.Kind == ir.ConstInt && c.IntVal() == 1 {
				storesOne = true
			}
		}
	}
	if !storesOne {
		t.Error("UpdateDecStatus does not set the flag")
	}
	if exit.Term().Op != ir.OpRet {
		t.Error("Exit does not return")
	}
}

func TestRun_PhiUsesDecryptInPredecessor(t *testing.T) {
	m := ir.NewModule("s4")
	in := m.Types
	i8 := in.Builtins().I8
	arrTy := in.ArrayOf(i8, 4)
	bld := ir.NewBuilder(m)

	yes := m.NewGlobal("yes", arrTy, ir.PrivateLinkage, ir.NewData(in, 8, []byte("yes\x00")))
	yes.Constant = true
	nay := m.NewGlobal("nay", arrTy, ir.PrivateLinkage, ir.NewData(in, 8, []byte("nay\x00")))
	nay.Constant = true

	use := m.NewFunc("use", in.FuncOf([]types.TypeID{in.Pointer(arrTy)}, in.Builtins().Void, false), ir.ExternalLinkage)

	f := m.NewFunc("f", in.FuncOf([]types.TypeID{in.Builtins().I1}, in.Builtins().Void, false), ir.InternalLinkage)
	f.Params[0].Name = "c"
	entry := f.NewBlock("entry")
	byes := f.NewBlock("byes")
	bnay := f.NewBlock("bnay")
	merge := f.NewBlock("merge")

	bld.SetInsertAtEnd(entry)
	bld.CreateCondBr(f.Params[0], byes, bnay)
	bld.SetInsertAtEnd(byes)
	bld.CreateBr(merge)
	bld.SetInsertAtEnd(bnay)
	bld.CreateBr(merge)
	bld.SetInsertAtEnd(merge)
	phi := bld.CreatePhi(in.Pointer(arrTy), "msg")
	ir.AddIncoming(phi, yes, byes)
	ir.AddIncoming(phi, nay, bnay)
	bld.CreateCall(use, []ir.Value{phi}, "")
	bld.CreateRetVoid()

	p := newPass(t)
	if _, err := p.Run(m); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := ir.Validate(m); err != nil {
		t.Fatalf("module invalid after CSE: %v", err)
	}

	// no call may sit in front of the phi
	if merge.Instrs[0].Op != ir.OpPhi {
		t.Fatal("something was inserted before the phi")
	}

	// each incoming value decrypts in its own predecessor
	for i, pred := range []*ir.Block{byes, bnay} {
		decGV, ok := phi.Operands[i].(*ir.Global)
		if !ok || decGV.Name == "yes" || decGV.Name == "nay" {
			t.Fatalf("incoming %d still references the plaintext", i)
		}
		foundCall := false
		for _, inst := range pred.Instrs {
			if inst.Op == ir.OpCall {
				if callee, ok := inst.Callee().(*ir.Func); ok && strings.HasPrefix(callee.Name, "goron_decrypt_string") {
					foundCall = true
				}
			}
		}
		if !foundCall {
			t.Errorf("no decrypt call in predecessor %s", pred.Name)
		}
	}
}

func TestRun_ConstantStructUser(t *testing.T) {
	m := ir.NewModule("user")
	in := m.Types
	i8 := in.Builtins().I8
	i32 := in.Builtins().I32
	i8p := in.Pointer(i8)
	bld := ir.NewBuilder(m)

	s := m.NewGlobal("s", in.ArrayOf(i8, 6), ir.PrivateLinkage,
		ir.NewData(in, 8, []byte("hello\x00")))
	s.Constant = true

	pairTy := in.StructOf("struct.pair", []types.TypeID{i8p, i32})
	zero := ir.NewInt(in, i32, 0)
	pair := m.NewGlobal("pair", pairTy, ir.InternalLinkage,
		ir.NewStruct(pairTy, []ir.Value{ir.ExprGEP(in, s, zero, zero), ir.NewInt(in, i32, 5)}))
	pair.Constant = true

	use := m.NewFunc("use", in.FuncOf([]types.TypeID{in.Pointer(pairTy)}, in.Builtins().Void, false), ir.ExternalLinkage)
	mainFn := m.NewFunc("main", in.FuncOf(nil, i32, false), ir.ExternalLinkage)
	entry := mainFn.NewBlock("entry")
	bld.SetInsertAtEnd(entry)
	bld.CreateCall(use, []ir.Value{pair}, "")
	bld.CreateRet(ir.NewInt(in, i32, 0))

	p := newPass(t)
	if _, err := p.Run(m); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := ir.Validate(m); err != nil {
		t.Fatalf("module invalid after CSE: %v", err)
	}

	initFunc := m.NamedFunc("global_variable_init_pair")
	if initFunc == nil {
		t.Fatal("user init function missing")
	}
	decPair := m.NamedGlobal("dec_pair")
	if decPair == nil {
		t.Fatal("user twin missing")
	}

	// main now initializes the twin before using it
	var initCallAt, useAt = -1, -1
	for i, inst := range entry.Instrs {
		if inst.Op != ir.OpCall {
			continue
		}
		switch inst.Callee() {
		case ir.Value(initFunc):
			initCallAt = i
			if inst.CallArgs()[0] != ir.Value(decPair) {
				t.Error("init call does not receive the twin")
			}
		case ir.Value(use):
			useAt = i
			if inst.CallArgs()[0] != ir.Value(decPair) {
				t.Error("use still references the original global")
			}
		}
	}
	if initCallAt < 0 || useAt < 0 || initCallAt > useAt {
		t.Error("init call not inserted before the use")
	}

	// the init function decrypts the string it lowers
	decryptsInside := false
	for _, b := range initFunc.Blocks {
		for _, inst := range b.Instrs {
			if inst.Op == ir.OpCall {
				if callee, ok := inst.Callee().(*ir.Func); ok && strings.HasPrefix(callee.Name, "goron_decrypt_string") {
					decryptsInside = true
				}
			}
		}
	}
	if !decryptsInside {
		t.Error("init function does not decrypt the referenced string")
	}

	// both originals become unreferenced and are swept
	if m.NamedGlobal("pair") != nil {
		t.Error("original user global still present")
	}
	if m.NamedGlobal("s") != nil {
		t.Error("original string still present")
	}
}

func TestIsCString(t *testing.T) {
	in := types.NewInterner()
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"plain", []byte("hi\x00"), true},
		{"no_null", []byte("hi"), false},
		{"embedded_null", []byte("h\x00i\x00"), false},
		{"lone_terminator", []byte{0}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ir.NewData(in, 8, tt.data)
			if got := isCString(c); got != tt.want {
				t.Errorf("isCString(%q) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}

func TestRun_UnusedStringKeepsNothing(t *testing.T) {
	m := ir.NewModule("unused")
	in := m.Types
	s := m.NewGlobal("s", in.ArrayOf(in.Builtins().I8, 6), ir.PrivateLinkage,
		ir.NewData(in, 8, []byte("hello\x00")))
	s.Constant = true

	mainFn := m.NewFunc("main", in.FuncOf(nil, in.Builtins().I32, false), ir.ExternalLinkage)
	entry := mainFn.NewBlock("entry")
	bld := ir.NewBuilder(m)
	bld.SetInsertAtEnd(entry)
	bld.CreateRet(ir.NewInt(in, in.Builtins().I32, 0))

	p := newPass(t)
	if _, err := p.Run(m); err != nil {
		t.Fatalf("run: %v", err)
	}

	// nobody called the decryptor, so the helper trio is swept
	if m.NamedFunc("goron_decrypt_string_0") != nil {
		t.Error("unused decrypt function kept")
	}
	if m.NamedGlobal("dec0s") != nil || m.NamedGlobal("dec_status_0s") != nil {
		t.Error("unused decryption globals kept")
	}
}

func TestRun_SecondUseInBlockSkipsDecrypt(t *testing.T) {
	m := buildStrlenModule(t)
	in := m.Types
	i32 := in.Builtins().I32
	mainFn := m.NamedFunc("main")
	s := m.NamedGlobal("s")
	strlenFn := m.NamedFunc("strlen")

	// add a second use of s in the same block
	entry := mainFn.Entry()
	bld := ir.NewBuilder(m)
	bld.SetInsertBefore(entry.Term())
	zero := ir.NewInt(in, i32, 0)
	bld.CreateCall(strlenFn, []ir.Value{ir.ExprGEP(in, s, zero, zero)}, "r2")

	p := newPass(t)
	if _, err := p.Run(m); err != nil {
		t.Fatalf("run: %v", err)
	}

	decFunc := m.NamedFunc("goron_decrypt_string_0")
	calls := 0
	for _, inst := range entry.Instrs {
		if inst.Op == ir.OpCall && inst.Callee() == ir.Value(decFunc) {
			calls++
		}
	}
	if calls != 1 {
		t.Errorf("block decrypts %d times, want once", calls)
	}
}
