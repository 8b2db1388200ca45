// Package tap builds the formula registry from tap directories and manages
// git-backed taps on disk.
package tap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

// Registry is an immutable index of formulas keyed by name. It is safe for
// concurrent use once built.
type Registry struct {
	byName map[string][]*formula.Formula // newest first
}

// NewRegistry indexes formulas. It rejects duplicate (name, version) pairs
// and dependency cycles between formula names.
func NewRegistry(formulas []*formula.Formula) (*Registry, error) {
	r := &Registry{byName: make(map[string][]*formula.Formula)}

	for _, f := range formulas {
		for _, prev := range r.byName[f.Name] {
			if prev.Version.Equal(f.Version) {
				return nil, kerr.Newf(kerr.CodeInvalidFormula, "duplicate formula %s in %s and %s",
					f.ID(), describeOrigin(prev), describeOrigin(f)).
					With("formula", f.ID())
			}
		}
		r.byName[f.Name] = append(r.byName[f.Name], f)
	}

	for _, fs := range r.byName {
		formula.SortByVersionDescending(fs)
	}

	if cycle := r.findCycle(); cycle != nil {
		return nil, kerr.Newf(kerr.CodeInvalidFormula, "dependency cycle: %s", strings.Join(cycle, " -> ")).
			With("cycle", cycle)
	}

	return r, nil
}

func describeOrigin(f *formula.Formula) string {
	switch {
	case f.Source != "":
		return f.Source
	case f.Tap != "":
		return "tap " + f.Tap
	default:
		return "<memory>"
	}
}

// findCycle runs a depth-first search over name-level edges and returns the
// first cycle found, closed on its starting name.
func (r *Registry) findCycle() []string {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(r.byName))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		switch state[name] {
		case inProgress:
			for i, n := range stack {
				if n == name {
					return append(append([]string{}, stack[i:]...), name)
				}
			}
		case done:
			return nil
		}

		state[name] = inProgress
		stack = append(stack, name)
		for _, dep := range r.dependencyNames(name) {
			if _, known := r.byName[dep]; !known {
				continue
			}
			if cycle := visit(dep); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range r.Names() {
		if cycle := visit(name); cycle != nil {
			return cycle
		}
	}
	return nil
}

// dependencyNames returns the union of dependency names across every
// version of name, sorted.
func (r *Registry) dependencyNames(name string) []string {
	set := map[string]struct{}{}
	for _, f := range r.byName[name] {
		for _, d := range f.Dependencies {
			set[d.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the newest formula named name whose version satisfies
// constraint. A malformed constraint yields CodeAmbiguousConstraint; no
// match yields CodeNotFound.
func (r *Registry) Lookup(name, constraint string) (*formula.Formula, error) {
	c, err := version.ParseConstraint(constraint)
	if err != nil {
		return nil, err
	}
	return r.LookupConstraint(name, c)
}

// LookupConstraint is Lookup with a parsed constraint.
func (r *Registry) LookupConstraint(name string, c version.Constraint) (*formula.Formula, error) {
	fs, ok := r.byName[name]
	if !ok {
		return nil, kerr.Newf(kerr.CodeNotFound, "no formula named %q", name).With("formula", name)
	}
	for _, f := range fs {
		if c.Check(f.Version) {
			return f, nil
		}
	}
	return nil, kerr.Newf(kerr.CodeNotFound, "no version of %s satisfies %q", name, c.String()).
		With("formula", name).
		With("available", versionStrings(fs))
}

// Has reports whether any version of name exists.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Versions lists the known versions of name, newest first.
func (r *Registry) Versions(name string) []version.Version {
	fs := r.byName[name]
	vs := make([]version.Version, len(fs))
	for i, f := range fs {
		vs[i] = f.Version
	}
	return vs
}

// Names lists every formula name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every formula ordered by name, newest version first.
func (r *Registry) All() []*formula.Formula {
	var all []*formula.Formula
	for _, name := range r.Names() {
		all = append(all, r.byName[name]...)
	}
	return all
}

// Len returns the number of formulas.
func (r *Registry) Len() int {
	n := 0
	for _, fs := range r.byName {
		n += len(fs)
	}
	return n
}

// ResolveDependencies picks the newest satisfying version for every
// transitive dependency of f, greedily and without backtracking. The result
// lists dependencies before their dependents and excludes f itself.
func (r *Registry) ResolveDependencies(f *formula.Formula) ([]*formula.Formula, error) {
	chosen := map[string]*formula.Formula{}
	var order []*formula.Formula

	var walk func(parent *formula.Formula, path []string) error
	walk = func(parent *formula.Formula, path []string) error {
		for _, dep := range parent.Dependencies {
			if prev, ok := chosen[dep.Name]; ok {
				if !dep.Constraint.Check(prev.Version) {
					return kerr.Newf(kerr.CodeNotFound,
						"%s requires %s but %s was already selected", parent.ID(), dep, prev.ID()).
						With("formula", dep.Name)
				}
				continue
			}
			for _, p := range path {
				if p == dep.Name {
					return kerr.Newf(kerr.CodeInvalidFormula, "dependency cycle: %s -> %s",
						strings.Join(path, " -> "), dep.Name)
				}
			}

			target, err := r.LookupConstraint(dep.Name, dep.Constraint)
			if err != nil {
				return kerr.Wrapf(err, kerr.CodeOf(err), "resolve dependency of %s", parent.ID())
			}
			if err := walk(target, append(path, dep.Name)); err != nil {
				return err
			}
			chosen[dep.Name] = target
			order = append(order, target)
		}
		return nil
	}

	if err := walk(f, []string{f.Name}); err != nil {
		return nil, err
	}
	return order, nil
}

func versionStrings(fs []*formula.Formula) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Version.String()
	}
	return out
}

// String summarises the registry for debug logs.
func (r *Registry) String() string {
	return fmt.Sprintf("registry(%d names, %d formulas)", len(r.byName), r.Len())
}
