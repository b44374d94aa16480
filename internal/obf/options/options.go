// Package options loads and answers the "should this be obfuscated" policy:
// per-pass enable switches, the PRNG seed, and function/section filters.
package options

import (
	"fmt"
	"path"

	"github.com/BurntSushi/toml"

	"goron/internal/ir"
)

// PassToggles enables or disables individual passes.
type PassToggles struct {
	IPObf bool `toml:"ipobf"`
	Indbr bool `toml:"indbr"`
	Cse   bool `toml:"cse"`
}

// Filter restricts which functions the passes touch.
type Filter struct {
	// SkipFunctions are glob patterns; a match exempts the function.
	SkipFunctions []string `toml:"skip_functions"`
	// OnlyFunctions, when non-empty, is an allow-list of glob patterns.
	OnlyFunctions []string `toml:"only_functions"`
	// SkipSections exempts functions placed in the named sections.
	SkipSections []string `toml:"skip_sections"`
}

// Options is the loaded obfuscation policy.
type Options struct {
	Seed   string      `toml:"seed"`
	Passes PassToggles `toml:"passes"`
	Filter Filter      `toml:"filter"`
}

// Default returns the policy used when no config file is given: every pass
// on, nothing filtered.
func Default() *Options {
	return &Options{
		Seed:   "goron",
		Passes: PassToggles{IPObf: true, Indbr: true, Cse: true},
	}
}

// Load parses a TOML policy file. Absent sections keep their defaults.
func Load(file string) (*Options, error) {
	o := Default()
	meta, err := toml.DecodeFile(file, o)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", file, err)
	}
	for _, k := range meta.Undecoded() {
		return nil, fmt.Errorf("%s: unknown key %q", file, k)
	}
	return o, nil
}

// SkipFunction reports whether the named function is exempted by the filter
// lists.
func (o *Options) SkipFunction(name string) bool {
	if len(o.Filter.OnlyFunctions) > 0 && !matchAny(o.Filter.OnlyFunctions, name) {
		return true
	}
	return matchAny(o.Filter.SkipFunctions, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ToObfuscate is the global predicate every pass consults first. Function
// annotations win over the enable flag: "-<tag>" exempts the function,
// "+<tag>" forces it. Declarations are never obfuscated.
func (o *Options) ToObfuscate(enable bool, f *ir.Func, tag string) bool {
	if f == nil || f.IsDeclaration() {
		return false
	}
	for _, a := range f.Annotations {
		switch a {
		case "-" + tag:
			return false
		case "+" + tag:
			return true
		}
	}
	for _, s := range o.Filter.SkipSections {
		if f.Section != "" && f.Section == s {
			return false
		}
	}
	return enable
}
