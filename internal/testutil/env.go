// Package testutil provides utilities for testing keg in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// kegVars are cleared so a developer's own configuration never leaks into
// tests. Empty values count as unset.
var kegVars = []string{
	"KEG_ROOT",
	"KEG_TMPDIR",
	"KEG_TIMEOUT",
	"KEG_CACHE_DIR",
	"KEG_TAPS_DIR",
	"KEG_TAP_PATH",
	"KEG_RETRIES",
	"KEG_JOBS",
}

// Env describes the isolated directories created by SetupTestEnv.
type Env struct {
	Dir    string // temp root holding everything below
	Config string // XDG_CONFIG_HOME
	Data   string // XDG_DATA_HOME
	Root   string // default keg root, <Data>/keg
	Cache  string // default keg cache, <XDG_CACHE_HOME>/keg
	Temp   string // KEG_TMPDIR
}

// SetupTestEnv points the XDG base directories at a fresh temp directory and
// clears every KEG_* variable except KEG_TMPDIR, which it sets.
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := Env{
		Dir:    tmpDir,
		Config: filepath.Join(tmpDir, "config"),
		Data:   filepath.Join(tmpDir, "data"),
		Root:   filepath.Join(tmpDir, "data", "keg"),
		Cache:  filepath.Join(tmpDir, "cache", "keg"),
		Temp:   filepath.Join(tmpDir, "tmp"),
	}

	for _, name := range kegVars {
		t.Setenv(name, "")
	}
	t.Setenv("XDG_CONFIG_HOME", env.Config)
	t.Setenv("XDG_DATA_HOME", env.Data)
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmpDir, "cache"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmpDir, "state"))
	t.Setenv("KEG_TMPDIR", env.Temp)
	t.Setenv("NO_COLOR", "1")

	for _, dir := range []string{env.Config, env.Data, env.Temp} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}
	return env
}
