package pipeline_test

import (
	"context"
	"strings"
	"testing"

	"goron/internal/ir"
	"goron/internal/obf/options"
	"goron/internal/obf/pipeline"
	"goron/internal/types"
)

// buildCombinedModule builds the S2+S3 shape: a branching static function,
// a constant string, and a main using both.
func buildCombinedModule(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.NewModule("s6")
	in := m.Types
	i8 := in.Builtins().I8
	i32 := in.Builtins().I32
	bld := ir.NewBuilder(m)

	s := m.NewGlobal("s", in.ArrayOf(i8, 6), ir.InternalLinkage,
		ir.NewData(in, 8, []byte("hello\x00")))
	s.Constant = true

	strlenFn := m.NewFunc("strlen",
		in.FuncOf([]types.TypeID{in.Pointer(i8)}, i32, false), ir.ExternalLinkage)

	f := m.NewFunc("f", in.FuncOf([]types.TypeID{i32}, i32, false), ir.InternalLinkage)
	f.Params[0].Name = "x"
	entry := f.NewBlock("entry")
	pos := f.NewBlock("pos")
	neg := f.NewBlock("neg")
	bld.SetInsertAtEnd(entry)
	cmp := bld.CreateICmp(ir.PredSGT, f.Params[0], ir.NewInt(in, i32, 0), "cmp")
	bld.CreateCondBr(cmp, pos, neg)
	bld.SetInsertAtEnd(pos)
	bld.CreateRet(ir.NewInt(in, i32, 1))
	bld.SetInsertAtEnd(neg)
	bld.CreateRet(ir.NewInt(in, i32, 2))

	mainFn := m.NewFunc("main", in.FuncOf(nil, i32, false), ir.ExternalLinkage)
	me := mainFn.NewBlock("entry")
	bld.SetInsertAtEnd(me)
	zero := ir.NewInt(in, i32, 0)
	a := bld.CreateCall(f, []ir.Value{ir.NewInt(in, i32, 7)}, "a")
	b := bld.CreateCall(f, []ir.Value{ir.NewInt(in, i32, uint64(^uint32(0)))}, "b")
	n := bld.CreateCall(strlenFn, []ir.Value{ir.ExprGEP(in, s, zero, zero)}, "n")
	t1 := bld.CreateAdd(a, b, "")
	t2 := bld.CreateAdd(t1, n, "")
	bld.CreateRet(t2)
	return m
}

func TestRunModule_Combined(t *testing.T) {
	m := buildCombinedModule(t)
	opts := options.Default()
	opts.Seed = "s6-seed"

	res, err := pipeline.RunModule(m, opts)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if !res.Changed {
		t.Error("pipeline reports no change")
	}
	if err := ir.Validate(m); err != nil {
		t.Fatalf("module invalid after pipeline: %v", err)
	}

	dump := ir.DumpString(m)
	for _, want := range []string{
		"f_IndirectBrTargets",
		"EncryptedStringTable",
		"goron_decrypt_string_0",
		"%SecretArg",
		"indirectbr",
	} {
		if !strings.Contains(dump, want) {
			t.Errorf("combined output misses %q", want)
		}
	}
	if strings.Contains(dump, `c"hello`) {
		t.Error("plaintext string survived the pipeline")
	}
	// no secret available is a per-function warning; with IPO on there must
	// be none for f
	for _, d := range res.Bag.Items() {
		if d.Symbol == "f" {
			t.Errorf("unexpected diagnostic for f: %+v", d)
		}
	}
}

func TestRunModule_Deterministic(t *testing.T) {
	opts := options.Default()
	opts.Seed = "fixed"

	m1 := buildCombinedModule(t)
	m2 := buildCombinedModule(t)
	if _, err := pipeline.RunModule(m1, opts); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if _, err := pipeline.RunModule(m2, opts); err != nil {
		t.Fatalf("run 2: %v", err)
	}

	d1, d2 := ir.DumpString(m1), ir.DumpString(m2)
	if d1 != d2 {
		t.Error("same seed produced different modules")
	}

	m3 := buildCombinedModule(t)
	opts3 := options.Default()
	opts3.Seed = "different"
	if _, err := pipeline.RunModule(m3, opts3); err != nil {
		t.Fatalf("run 3: %v", err)
	}
	if ir.DumpString(m3) == d1 {
		t.Error("different seeds produced identical modules")
	}
}

func TestRunModules_Parallel(t *testing.T) {
	opts := options.Default()
	mods := []*ir.Module{
		buildCombinedModule(t),
		buildCombinedModule(t),
		buildCombinedModule(t),
	}
	results, err := pipeline.RunModules(context.Background(), mods, opts, 2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	want := ir.DumpString(results[0].Module)
	for i, res := range results[1:] {
		if ir.DumpString(res.Module) != want {
			t.Errorf("module %d transformed differently from module 0", i+1)
		}
	}
}

func TestRunModule_DisabledPassesPreserve(t *testing.T) {
	m := buildCombinedModule(t)
	before := ir.DumpString(m)

	opts := options.Default()
	opts.Passes = options.PassToggles{}
	res, err := pipeline.RunModule(m, opts)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if res.Changed {
		t.Error("disabled pipeline still claims changes")
	}
	if after := ir.DumpString(m); after != before {
		t.Error("disabled pipeline modified the module")
	}
}

func TestRunModule_SerializeAfterObfuscation(t *testing.T) {
	m := buildCombinedModule(t)
	if _, err := pipeline.RunModule(m, options.Default()); err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	var sb strings.Builder
	if err := ir.DumpModule(&sb, m); err != nil {
		t.Fatalf("dump: %v", err)
	}
	// the obfuscated module must round-trip through the codec, block
	// addresses and all
	path := t.TempDir() + "/s6.obf.mir"
	if err := ir.WriteModuleFile(path, m); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := ir.ReadModuleFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ir.DumpString(loaded) != sb.String() {
		t.Error("obfuscated module changed across serialization")
	}
}
