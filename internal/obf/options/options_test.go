package options_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"goron/internal/ir"
	"goron/internal/obf/options"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goron.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
seed = "test-seed"

[passes]
ipobf = true
indbr = false
cse = true

[filter]
skip_functions = ["init_*", "main"]
skip_sections = [".text.startup"]
`)
	o, err := options.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if o.Seed != "test-seed" {
		t.Errorf("seed = %q", o.Seed)
	}
	if !o.Passes.IPObf || o.Passes.Indbr || !o.Passes.Cse {
		t.Errorf("toggles = %+v", o.Passes)
	}
	if !o.SkipFunction("init_table") {
		t.Error("init_table should match init_*")
	}
	if !o.SkipFunction("main") {
		t.Error("main should be skipped")
	}
	if o.SkipFunction("helper") {
		t.Error("helper should not be skipped")
	}
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `seed = "x"`)
	o, err := options.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !o.Passes.IPObf || !o.Passes.Indbr || !o.Passes.Cse {
		t.Errorf("partial config lost pass defaults: %+v", o.Passes)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `sedd = "typo"`)
	_, err := options.Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "unknown key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSkipFunction_OnlyList(t *testing.T) {
	o := options.Default()
	o.Filter.OnlyFunctions = []string{"hot_*"}
	if o.SkipFunction("hot_path") {
		t.Error("hot_path is allow-listed")
	}
	if !o.SkipFunction("cold_path") {
		t.Error("cold_path is outside the allow-list")
	}
}

func TestToObfuscate(t *testing.T) {
	m := ir.NewModule("t")
	in := m.Types
	void := in.Builtins().Void

	body := m.NewFunc("body", in.FuncOf(nil, void, false), ir.InternalLinkage)
	body.NewBlock("entry")
	decl := m.NewFunc("decl", in.FuncOf(nil, void, false), ir.ExternalLinkage)
	forced := m.NewFunc("forced", in.FuncOf(nil, void, false), ir.InternalLinkage)
	forced.NewBlock("entry")
	forced.Annotations = []string{"+indbr"}
	exempt := m.NewFunc("exempt", in.FuncOf(nil, void, false), ir.InternalLinkage)
	exempt.NewBlock("entry")
	exempt.Annotations = []string{"-indbr"}
	startup := m.NewFunc("startup", in.FuncOf(nil, void, false), ir.InternalLinkage)
	startup.NewBlock("entry")
	startup.Section = ".text.startup"

	o := options.Default()
	o.Filter.SkipSections = []string{".text.startup"}

	tests := []struct {
		name   string
		enable bool
		f      *ir.Func
		want   bool
	}{
		{"enabled_body", true, body, true},
		{"disabled_body", false, body, false},
		{"declaration", true, decl, false},
		{"forced_overrides_disable", false, forced, true},
		{"annotation_exempts", true, exempt, false},
		{"section_skipped", true, startup, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := o.ToObfuscate(tt.enable, tt.f, "indbr"); got != tt.want {
				t.Errorf("ToObfuscate = %v, want %v", got, tt.want)
			}
		})
	}
}
