package install

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

func newStepContext(t *testing.T) *StepContext {
	t.Helper()
	dir := t.TempDir()
	artifact := filepath.Join(dir, "tool")
	if err := os.WriteFile(artifact, []byte("artifact"), 0o644); err != nil {
		t.Fatal(err)
	}
	stage := filepath.Join(dir, "stage")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	return &StepContext{
		Formula:  &formula.Formula{Name: "tool", Version: version.MustParse("1.0")},
		Artifact: artifact,
		Stage:    stage,
		Prefix:   filepath.Join(dir, "Cellar", "tool", "1.0"),
		Root:     dir,
		Logger:   zerolog.Nop(),
	}
}

func step(action string, kv ...string) formula.Step {
	s := formula.Step{Action: action, Args: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		s.Args[kv[i]] = kv[i+1]
	}
	return s
}

func execute(t *testing.T, sc *StepContext, s formula.Step) error {
	t.Helper()
	x, ok := NewExecutors().Lookup(s.Action)
	if !ok {
		t.Fatalf("no executor for %q", s.Action)
	}
	return x.Execute(context.Background(), sc, s)
}

func TestCopyAndBin(t *testing.T) {
	sc := newStepContext(t)

	if err := execute(t, sc, step(ActionCopy, "to", "libexec/tool")); err != nil {
		t.Fatalf("copy error = %v", err)
	}
	if got := readFile(t, filepath.Join(sc.Stage, "libexec", "tool")); got != "artifact" {
		t.Errorf("copied content = %q", got)
	}
	if err := execute(t, sc, step(ActionCopy, "from", "libexec/tool", "to", "share/tool.bak", "mode", "0600")); err != nil {
		t.Fatalf("copy within keg error = %v", err)
	}
	info, err := os.Stat(filepath.Join(sc.Stage, "share", "tool.bak"))
	if err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	if err := execute(t, sc, step(ActionBin, "path", "libexec/tool", "name", "tl")); err != nil {
		t.Fatalf("bin error = %v", err)
	}
	links := sc.Links()
	if len(links) != 1 || links[0].Name != "tl" || links[0].Target != "libexec/tool" {
		t.Errorf("Links() = %+v", links)
	}
	info, err = os.Stat(filepath.Join(sc.Stage, "libexec", "tool"))
	if err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		t.Errorf("bin target not executable: %v", info.Mode())
	}
}

func TestStepErrors(t *testing.T) {
	tests := []struct {
		name string
		step formula.Step
	}{
		{"bin_missing_path_arg", step(ActionBin)},
		{"bin_missing_file", step(ActionBin, "path", "bin/none")},
		{"bin_bad_link_name", step(ActionBin, "path", "a", "name", "../x")},
		{"copy_missing_to", step(ActionCopy)},
		{"copy_escape", step(ActionCopy, "to", "../outside")},
		{"write_absolute", step(ActionWrite, "path", "/etc/motd", "content", "x")},
		{"write_bad_mode", step(ActionWrite, "path", "f", "mode", "rwx")},
		{"chmod_missing_mode", step(ActionChmod, "path", "a")},
		{"chmod_bad_mode", step(ActionChmod, "path", "a", "mode", "99999")},
		{"run_missing_argv", step(ActionRun)},
		{"extract_bad_strip", step(ActionExtract, "strip", "-1")},
		{"extract_unknown_format", step(ActionExtract, "format", "rar")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := newStepContext(t)
			if err := os.WriteFile(filepath.Join(sc.Stage, "a"), []byte("a"), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := execute(t, sc, tt.step); err == nil {
				t.Errorf("%s succeeded, want error", tt.step)
			}
		})
	}
}

func TestWriteAndChmod(t *testing.T) {
	sc := newStepContext(t)

	if err := execute(t, sc, step(ActionWrite, "path", "etc/tool.conf", "content", "key = 1\n")); err != nil {
		t.Fatalf("write error = %v", err)
	}
	if got := readFile(t, filepath.Join(sc.Stage, "etc", "tool.conf")); got != "key = 1\n" {
		t.Errorf("content = %q", got)
	}

	if err := execute(t, sc, step(ActionChmod, "path", "etc/tool.conf", "mode", "0600")); err != nil {
		t.Fatalf("chmod error = %v", err)
	}
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(filepath.Join(sc.Stage, "etc", "tool.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestRun(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	sc := newStepContext(t)
	var stdout bytes.Buffer
	sc.Stdout = &stdout

	argv := strings.Join([]string{"sh", "-c", `echo "$KEG_FINAL_PREFIX" > marker; echo done`}, "\n")
	if err := execute(t, sc, step(ActionRun, "argv", argv)); err != nil {
		t.Fatalf("run error = %v", err)
	}
	if got := strings.TrimSpace(readFile(t, filepath.Join(sc.Stage, "marker"))); got != sc.Prefix {
		t.Errorf("marker = %q, want %q", got, sc.Prefix)
	}
	if strings.TrimSpace(stdout.String()) != "done" {
		t.Errorf("stdout = %q", stdout.String())
	}

	if err := execute(t, sc, step(ActionRun, "argv", "sh\n-c\nexit 3")); err == nil {
		t.Error("non-zero exit should fail the step")
	}
}

func TestExecutors_Register(t *testing.T) {
	e := NewExecutors()
	if got := e.Actions(); strings.Join(got, ",") != strings.Join(BuiltinActions(), ",") {
		t.Errorf("Actions() = %v, want %v", got, BuiltinActions())
	}

	called := false
	e.Register("custom", ExecutorFunc(func(context.Context, *StepContext, formula.Step) error {
		called = true
		return nil
	}))
	x, ok := e.Lookup("custom")
	if !ok {
		t.Fatal("custom executor not registered")
	}
	if err := x.Execute(context.Background(), newStepContext(t), step("custom")); err != nil || !called {
		t.Errorf("custom executor: called=%v err=%v", called, err)
	}
	if _, ok := e.Lookup("missing"); ok {
		t.Error("Lookup(missing) succeeded")
	}
}

func TestResolveWithin(t *testing.T) {
	base := filepath.Join(t.TempDir(), "stage")
	tests := []struct {
		rel     string
		wantErr bool
	}{
		{"", false},
		{"bin/tool", false},
		{"a/../b", false},
		{"..", true},
		{"../stage2/x", true},
		{"/abs", true},
	}
	for _, tt := range tests {
		_, err := resolveWithin(base, tt.rel)
		if (err != nil) != tt.wantErr {
			t.Errorf("resolveWithin(%q) error = %v, wantErr %v", tt.rel, err, tt.wantErr)
		}
	}
}

func TestResolveWithin_Symlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	base := filepath.Join(dir, "stage")
	outside := filepath.Join(dir, "outside")
	for _, d := range []string{filepath.Join(base, "libexec"), outside} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range []string{filepath.Join(base, "libexec", "tool"), filepath.Join(outside, "tool")} {
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	links := map[string]string{
		"inside": "libexec/tool",
		"escape": "../outside/tool",
		"updir":  "..",
		"dangle": "../outside/missing",
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(base, name)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		rel     string
		wantErr bool
	}{
		{"inside", false},
		{"libexec/tool", false},
		{"escape", true},
		{"dangle", true},
		{"updir/outside/tool", true},
		{"updir/new.txt", true},
	}
	for _, tt := range tests {
		_, err := resolveWithin(base, tt.rel)
		if (err != nil) != tt.wantErr {
			t.Errorf("resolveWithin(%q) error = %v, wantErr %v", tt.rel, err, tt.wantErr)
		}
	}
}

func TestBin_RejectsEscapingSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	sc := newStepContext(t)
	// sc.Artifact lives next to the stage, outside it.
	if err := os.Symlink(sc.Artifact, filepath.Join(sc.Stage, "tool")); err != nil {
		t.Fatal(err)
	}
	before, err := os.Stat(sc.Artifact)
	if err != nil {
		t.Fatal(err)
	}

	if err := execute(t, sc, step(ActionBin, "path", "tool")); err == nil {
		t.Fatal("bin through an escaping symlink succeeded")
	}
	after, err := os.Stat(sc.Artifact)
	if err != nil {
		t.Fatal(err)
	}
	if after.Mode() != before.Mode() {
		t.Errorf("artifact mode changed from %v to %v", before.Mode(), after.Mode())
	}
}
