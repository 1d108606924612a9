package grammar

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"pyp/internal/tag"
	"pyp/internal/transform"
)

// versionConstraint is the range of grammar-file schema versions this
// build understands. Bumped alongside breaking changes to Spec below.
var versionConstraint = mustConstraint("^1.0.0")

func mustConstraint(c string) *semver.Constraints {
	parsed, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return parsed
}

// Spec is the YAML shape of a custom grammar file: a flat list of
// regions, each opened by one literal and closed by any of a set of
// literals, optionally with a continuation-flavored opener/closer pair
// (spec.md §4.H). Every region shares the same nested string-escape
// grammar as the built-in default, toggled per region by StringEscaping
// — general recursive nesting between user-defined regions is left to
// a future schema revision (see DESIGN.md).
type Spec struct {
	GrammarVersion string       `yaml:"grammarVersion"`
	Continuations  bool         `yaml:"continuations"`
	Regions        []RegionSpec `yaml:"regions"`
}

// RegionSpec is one named region definition.
type RegionSpec struct {
	Name               string   `yaml:"name"`
	Opener             string   `yaml:"opener"`
	Closers            []string `yaml:"closers"`
	ContinuationOpener string   `yaml:"continuationOpener,omitempty"`
	ContinuationCloser string   `yaml:"continuationCloser,omitempty"`
	StringEscaping     bool     `yaml:"stringEscaping"`
}

// RegionHooks maps a RegionSpec's Name to the transform.Func that should
// run when that region's own payload fires (grammar files can't encode
// Go functions, so the caller supplies the evaluator binding by name).
type RegionHooks map[string]transform.Func

// LoadFile reads and parses a YAML grammar definition from path.
func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("grammar: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a YAML grammar definition and validates its declared
// schema version against this build's supported range.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("grammar: parse: %w", err)
	}

	v, err := semver.NewVersion(spec.GrammarVersion)
	if err != nil {
		return nil, fmt.Errorf("grammar: invalid grammarVersion %q: %w", spec.GrammarVersion, err)
	}
	if !versionConstraint.Check(v) {
		return nil, fmt.Errorf("grammar: schema version %s not supported by this build (want %s)", v, versionConstraint)
	}
	if len(spec.Regions) == 0 {
		return nil, fmt.Errorf("grammar: no regions defined")
	}
	return &spec, nil
}

// Build assembles a custom Spec into a buildable tag.Group, wiring each
// region's Self hook from hooks and sharing a continuation hook across
// every continuation-enabled region (mirroring Default's single shared
// Continuation callback).
func (s *Spec) Build(hooks RegionHooks, continuationHook transform.Func) (*tag.Group, error) {
	root := tag.NewGroup()
	children := stringEscapeGroup()

	for _, r := range s.Regions {
		if r.Opener == "" || len(r.Closers) == 0 {
			return nil, fmt.Errorf("grammar: region %q needs an opener and at least one closer", r.Name)
		}

		closing := tag.NewGroup()
		for _, c := range r.Closers {
			closing.Add(tag.New(c, 0, tag.FlagNone, nil, nil))
		}
		if s.Continuations && r.ContinuationCloser != "" {
			closing.Add(tag.New(r.ContinuationCloser, 0, tag.FlagContinuation, nil, nil))
		}

		regionChildren := (*tag.Group)(nil)
		if r.StringEscaping {
			regionChildren = children
		}

		th := &transform.Hooks{
			Self:         hooks[r.Name],
			Continuation: continuationHook,
		}

		root.Add(tag.New(r.Opener, 0, tag.FlagNone, closing, regionChildren).WithProcessingInfo(th))

		if s.Continuations && r.ContinuationOpener != "" {
			root.Add(tag.New(r.ContinuationOpener, 0, tag.FlagContinuation, closing, regionChildren).WithProcessingInfo(th))
		}
	}

	return root, nil
}
