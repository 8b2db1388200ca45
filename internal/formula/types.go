// Package formula defines the formula model and the loaders for formula files.
//
// A formula describes how to fetch, verify and install one version of a
// package. Formula files may be written in a sandboxed Lua DSL, TOML or YAML.
package formula

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

// Formula is an immutable description of one package version.
type Formula struct {
	Name        string
	Version     version.Version
	Description string
	Homepage    string
	URL         string
	Checksum    Checksum
	License     string

	// Dependencies are installed before this formula.
	Dependencies []Dependency

	// Steps run in order after the artifact is verified.
	Steps []Step

	// Caveats is a text/template rendered after installation.
	Caveats string

	// Signature optionally points at a detached OpenPGP signature.
	Signature *Signature

	// Livecheck optionally describes how to discover upstream releases.
	Livecheck *Livecheck

	// Tap is the name of the tap the formula was loaded from.
	Tap string
	// Source is the file the formula was loaded from.
	Source string
}

// ID returns "name@version".
func (f *Formula) ID() string {
	return f.Name + "@" + f.Version.String()
}

// Dependency is an edge from a formula to a required formula.
type Dependency struct {
	Name       string
	Constraint version.Constraint
}

// String returns "name" or "name@constraint".
func (d Dependency) String() string {
	if d.Constraint.IsLatest() {
		return d.Name
	}
	return d.Name + "@" + d.Constraint.String()
}

// ParseDependency parses "name" or "name@constraint".
func ParseDependency(s string) (Dependency, error) {
	spec, err := ParseSpec(s)
	if err != nil {
		return Dependency{}, err
	}
	c, err := version.ParseConstraint(spec.Constraint)
	if err != nil {
		return Dependency{}, fmt.Errorf("dependency %q: %w", s, err)
	}
	return Dependency{Name: spec.Name, Constraint: c}, nil
}

// Step is one install step. Action selects the executor; Args are passed to it
// verbatim.
type Step struct {
	Action string
	Args   map[string]string
}

// Arg returns the named argument or "".
func (s Step) Arg(key string) string {
	return s.Args[key]
}

// String renders the step for logs and error messages.
func (s Step) String() string {
	if len(s.Args) == 0 {
		return s.Action
	}
	keys := make([]string, 0, len(s.Args))
	for k := range s.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s.Args[k])
	}
	return s.Action + "(" + strings.Join(parts, ", ") + ")"
}

// Signature locates a detached OpenPGP signature and the keyring that signed it.
// Keyring is relative to the tap root unless absolute.
type Signature struct {
	URL     string `toml:"url" yaml:"url"`
	Keyring string `toml:"keyring" yaml:"keyring"`
}

// Livecheck describes an upstream page and a regex whose first capture group
// (or whole match) is a version string.
type Livecheck struct {
	URL   string `toml:"url" yaml:"url"`
	Regex string `toml:"regex" yaml:"regex"`
}
