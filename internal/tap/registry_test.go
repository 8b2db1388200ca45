package tap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
	"github.com/ZebulonRouseFrantzich/keg/internal/platform"
	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

func mkFormula(t *testing.T, name, ver string, deps ...string) *formula.Formula {
	t.Helper()
	f := &formula.Formula{
		Name:     name,
		Version:  version.MustParse(ver),
		URL:      "https://example.com/" + name + "-" + ver + ".tar.gz",
		Checksum: formula.Unchecked(),
	}
	for _, d := range deps {
		dep, err := formula.ParseDependency(d)
		if err != nil {
			t.Fatalf("ParseDependency(%q) error = %v", d, err)
		}
		f.Dependencies = append(f.Dependencies, dep)
	}
	return f
}

func mustRegistry(t *testing.T, fs ...*formula.Formula) *Registry {
	t.Helper()
	r, err := NewRegistry(fs)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestLookup(t *testing.T) {
	r := mustRegistry(t,
		mkFormula(t, "jq", "1.0.0"),
		mkFormula(t, "jq", "2.0.0"),
		mkFormula(t, "jq", "1.2.0"),
		mkFormula(t, "jq", "2.1.0-rc1"),
	)

	tests := []struct {
		constraint string
		want       string
	}{
		{"", "2.1.0-rc1"},
		{"latest", "2.1.0-rc1"},
		{"<2", "1.2.0"},
		{"1", "1.0.0"},
		{"1.0", "1.0.0"},
		{"1.*", "1.2.0"},
		{"=1.0.0", "1.0.0"},
		{">=1.1,<2", "1.2.0"},
		{"~>1.0", "1.2.0"},
		{"!=2.1.0-rc1", "2.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			f, err := r.Lookup("jq", tt.constraint)
			if err != nil {
				t.Fatalf("Lookup(jq, %q) error = %v", tt.constraint, err)
			}
			if f.Version.String() != tt.want {
				t.Errorf("Lookup(jq, %q) = %s, want %s", tt.constraint, f.Version, tt.want)
			}
		})
	}
}

func TestLookup_LatestOfThree(t *testing.T) {
	r := mustRegistry(t,
		mkFormula(t, "foo", "1.0.0"),
		mkFormula(t, "foo", "1.2.0"),
		mkFormula(t, "foo", "2.0.0"),
	)
	f, err := r.Lookup("foo", "latest")
	if err != nil {
		t.Fatal(err)
	}
	if f.ID() != "foo@2.0.0" {
		t.Errorf("Lookup(foo, latest) = %s, want foo@2.0.0", f.ID())
	}
}

func TestLookup_Errors(t *testing.T) {
	r := mustRegistry(t, mkFormula(t, "jq", "1.6"))

	tests := []struct {
		name       string
		formula    string
		constraint string
		code       kerr.Code
	}{
		{"unknown_name", "yq", "", kerr.CodeNotFound},
		{"no_matching_version", "jq", ">=2", kerr.CodeNotFound},
		{"bare_version_is_exact", "jq", "1", kerr.CodeNotFound},
		{"malformed_constraint", "jq", ">=>1", kerr.CodeAmbiguousConstraint},
		{"empty_clause", "jq", ">=1,", kerr.CodeAmbiguousConstraint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Lookup(tt.formula, tt.constraint)
			if err == nil {
				t.Fatal("Lookup() succeeded, want error")
			}
			if got := kerr.CodeOf(err); got != tt.code {
				t.Errorf("CodeOf(%v) = %s, want %s", err, got, tt.code)
			}
		})
	}
}

func TestNewRegistry_Duplicate(t *testing.T) {
	a := mkFormula(t, "jq", "1.6")
	a.Tap = "core/one"
	b := mkFormula(t, "jq", "1.6.0")
	b.Tap = "core/two"

	_, err := NewRegistry([]*formula.Formula{a, b})
	if !errors.Is(err, kerr.ErrInvalidFormula) {
		t.Fatalf("NewRegistry() error = %v, want invalid formula", err)
	}
	if !strings.Contains(err.Error(), "core/one") || !strings.Contains(err.Error(), "core/two") {
		t.Errorf("error %q should name both taps", err)
	}
}

func TestNewRegistry_Cycle(t *testing.T) {
	tests := []struct {
		name     string
		formulas func(t *testing.T) []*formula.Formula
	}{
		{"self_via_two", func(t *testing.T) []*formula.Formula {
			return []*formula.Formula{mkFormula(t, "a", "1", "b"), mkFormula(t, "b", "1", "a")}
		}},
		{"three", func(t *testing.T) []*formula.Formula {
			return []*formula.Formula{
				mkFormula(t, "a", "1", "b"),
				mkFormula(t, "b", "1", "c"),
				mkFormula(t, "c", "1", "a"),
			}
		}},
		{"through_old_version", func(t *testing.T) []*formula.Formula {
			return []*formula.Formula{
				mkFormula(t, "a", "2", "b"),
				mkFormula(t, "b", "1"),
				mkFormula(t, "b", "0.9", "a"),
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.formulas(t))
			if !errors.Is(err, kerr.ErrInvalidFormula) {
				t.Fatalf("NewRegistry() error = %v, want cycle error", err)
			}
			if !strings.Contains(err.Error(), "cycle") {
				t.Errorf("error %q does not mention cycle", err)
			}
		})
	}
}

func TestNewRegistry_MissingDependencyIsNotACycle(t *testing.T) {
	r := mustRegistry(t, mkFormula(t, "a", "1", "ghost"))
	if !r.Has("a") || r.Has("ghost") {
		t.Errorf("Has() mismatch: names = %v", r.Names())
	}
}

func TestRegistryListing(t *testing.T) {
	r := mustRegistry(t,
		mkFormula(t, "zlib", "1.3"),
		mkFormula(t, "jq", "1.6"),
		mkFormula(t, "jq", "1.7.1"),
	)

	if got := strings.Join(r.Names(), ","); got != "jq,zlib" {
		t.Errorf("Names() = %s", got)
	}
	vs := r.Versions("jq")
	if len(vs) != 2 || vs[0].String() != "1.7.1" {
		t.Errorf("Versions(jq) = %v", vs)
	}
	all := r.All()
	if len(all) != 3 || all[0].ID() != "jq@1.7.1" || all[2].ID() != "zlib@1.3" {
		t.Errorf("All() order wrong: %v", all)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d", r.Len())
	}
	if len(r.Versions("missing")) != 0 {
		t.Error("Versions(missing) should be empty")
	}
}

func TestResolveDependencies(t *testing.T) {
	r := mustRegistry(t,
		mkFormula(t, "app", "1.0", "libb", "liba@<2"),
		mkFormula(t, "libb", "1.0", "liba"),
		mkFormula(t, "liba", "1.5"),
		mkFormula(t, "liba", "2.0"),
	)
	app, _ := r.Lookup("app", "")

	t.Run("conflicting_greedy_choice", func(t *testing.T) {
		// libb picks liba 2.0 first, then app's liba@<2 cannot be satisfied.
		_, err := r.ResolveDependencies(app)
		if !errors.Is(err, kerr.ErrNotFound) {
			t.Fatalf("ResolveDependencies() error = %v, want not found", err)
		}
	})

	r = mustRegistry(t,
		mkFormula(t, "app", "1.0", "liba@<2", "libb"),
		mkFormula(t, "libb", "1.0", "liba"),
		mkFormula(t, "liba", "1.5"),
		mkFormula(t, "liba", "2.0"),
		mkFormula(t, "libc", "1.0"),
	)
	app, _ = r.Lookup("app", "")

	t.Run("ordered", func(t *testing.T) {
		deps, err := r.ResolveDependencies(app)
		if err != nil {
			t.Fatalf("ResolveDependencies() error = %v", err)
		}
		var ids []string
		for _, d := range deps {
			ids = append(ids, d.ID())
		}
		if got := strings.Join(ids, ","); got != "liba@1.5,libb@1.0" {
			t.Errorf("ResolveDependencies() = %s", got)
		}
	})

	t.Run("missing_dependency", func(t *testing.T) {
		r := mustRegistry(t, mkFormula(t, "app", "1", "ghost"))
		app, _ := r.Lookup("app", "")
		_, err := r.ResolveDependencies(app)
		if !errors.Is(err, kerr.ErrNotFound) {
			t.Fatalf("error = %v, want not found", err)
		}
	})
}

func writeTapFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	core := t.TempDir()
	writeTapFile(t, core, "Formula/jq.toml", `
name = "jq"
version = "1.7.1"
url = "https://example.com/jq.tar.gz"
unchecked = true
depends_on = ["oniguruma"]
`)
	writeTapFile(t, core, "Formula/oniguruma.lua", `
for _, v in ipairs({ "6.9.8", "6.9.9" }) do
  formula { name = "oniguruma", version = v, url = "https://example.com/onig-" .. v .. "-" .. platform.key .. ".tgz", unchecked = true }
end
`)
	writeTapFile(t, core, "Formula/.hidden/ignored.toml", `not = "parsed"`)
	writeTapFile(t, core, "README.md", "# core")

	flat := t.TempDir()
	writeTapFile(t, flat, "fd.yaml", "name: fd\nversion: 10.2.0\nurl: https://example.com/fd.tgz\nunchecked: true\n")

	r, err := Load(context.Background(), platform.Static("linux", "amd64"),
		Source{Name: "acme/core", Path: core},
		Source{Name: "local/flat", Path: flat},
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4 (%v)", r.Len(), r.All())
	}
	onig, err := r.Lookup("oniguruma", "")
	if err != nil {
		t.Fatal(err)
	}
	if onig.Version.String() != "6.9.9" || !strings.HasSuffix(onig.URL, "linux_amd64.tgz") {
		t.Errorf("oniguruma = %s %s", onig.ID(), onig.URL)
	}
	if onig.Tap != "acme/core" {
		t.Errorf("Tap = %q", onig.Tap)
	}
	fd, _ := r.Lookup("fd", "")
	if fd == nil || fd.Tap != "local/flat" {
		t.Errorf("fd tap = %v", fd)
	}
}

func TestLoad_ReportsAllErrors(t *testing.T) {
	dir := t.TempDir()
	writeTapFile(t, dir, "Formula/a.toml", `name = "a"`)
	writeTapFile(t, dir, "Formula/b.lua", `formula {`)
	writeTapFile(t, dir, "Formula/c.toml", "name = \"c\"\nversion = \"1\"\nurl = \"https://x/c\"\nunchecked = true\n")

	_, err := Load(context.Background(), nil, Source{Name: "t/t", Path: dir})
	if !errors.Is(err, kerr.ErrInvalidFormula) {
		t.Fatalf("Load() error = %v, want invalid formula", err)
	}
	for _, want := range []string{"a.toml", "b.lua"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(context.Background(), nil, Source{Name: "t/t", Path: filepath.Join(t.TempDir(), "nope")})
	if err == nil {
		t.Fatal("Load() succeeded for a missing directory")
	}
}

func TestLoad_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeTapFile(t, dir, "x.toml", "name = \"x\"\nversion = \"1\"\nurl = \"https://x/x\"\nunchecked = true\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Load(ctx, nil, Source{Name: "t/t", Path: dir}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Load() error = %v, want context.Canceled", err)
	}
}
