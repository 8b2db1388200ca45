package install

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
)

// StepContext is what an executor may touch. All relative paths in step
// arguments resolve inside Stage; executors must not write outside it.
type StepContext struct {
	Formula  *formula.Formula
	Artifact string // verified download
	Stage    string // staging keg, renamed to Prefix on success
	Prefix   string // final keg location
	Root     string
	Stdout   io.Writer
	Stderr   io.Writer
	Logger   zerolog.Logger

	links []Link
}

// Link asks for Root/bin/Name to point at Target inside the keg.
type Link struct {
	Name   string
	Target string // relative to the keg
}

// AddLink registers a bin link to create once the keg is in place.
func (sc *StepContext) AddLink(name, target string) {
	sc.links = append(sc.links, Link{Name: name, Target: target})
}

// Links returns the bin links requested so far.
func (sc *StepContext) Links() []Link {
	return sc.links
}

// Resolve maps a relative step path into the stage and rejects anything that
// would escape it.
func (sc *StepContext) Resolve(rel string) (string, error) {
	return resolveWithin(sc.Stage, rel)
}

func resolveWithin(base, rel string) (string, error) {
	if rel == "" {
		return filepath.Clean(base), nil
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	target := filepath.Join(base, filepath.FromSlash(rel))
	clean := filepath.Clean(base)
	if !within(clean, target) {
		return "", fmt.Errorf("illegal path %q: escapes the keg", rel)
	}
	if err := checkNoSymlinkParents(clean, target); err != nil {
		return "", err
	}
	info, err := os.Lstat(target)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return target, nil
	}
	// A symlink already in the keg may be used only when it resolves inside.
	realBase, err := filepath.EvalSymlinks(clean)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", fmt.Errorf("illegal path %q: %w", rel, err)
	}
	if !within(realBase, resolved) {
		return "", fmt.Errorf("illegal path %q: symlink escapes the keg", rel)
	}
	return target, nil
}

func within(base, target string) bool {
	return target == base || strings.HasPrefix(target, base+string(os.PathSeparator))
}

// checkNoSymlinkParents fails when a directory between base and target
// exists as a symlink. Components that do not exist yet are fine.
func checkNoSymlinkParents(base, target string) error {
	rel, err := filepath.Rel(base, filepath.Dir(target))
	if err != nil {
		return err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return nil
	}
	dir := base
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		dir = filepath.Join(dir, part)
		info, err := os.Lstat(dir)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("illegal path %s: parent %s is a symlink", target, dir)
		}
	}
	return nil
}

// StepExecutor runs one install step.
type StepExecutor interface {
	Execute(ctx context.Context, sc *StepContext, step formula.Step) error
}

// ExecutorFunc adapts a function to StepExecutor.
type ExecutorFunc func(ctx context.Context, sc *StepContext, step formula.Step) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, sc *StepContext, step formula.Step) error {
	return f(ctx, sc, step)
}

// Built-in action names.
const (
	ActionExtract = "extract"
	ActionBin     = "bin"
	ActionCopy    = "copy"
	ActionWrite   = "write"
	ActionChmod   = "chmod"
	ActionRun     = "run"
)

// BuiltinActions lists the actions every Executors starts with.
func BuiltinActions() []string {
	return []string{ActionBin, ActionChmod, ActionCopy, ActionExtract, ActionRun, ActionWrite}
}

// Executors maps action names to executors. It is safe for concurrent use.
type Executors struct {
	mu sync.RWMutex
	m  map[string]StepExecutor
}

// NewExecutors returns a set holding the built-in actions.
func NewExecutors() *Executors {
	e := &Executors{m: make(map[string]StepExecutor)}
	e.Register(ActionExtract, ExecutorFunc(extractStep))
	e.Register(ActionBin, ExecutorFunc(binStep))
	e.Register(ActionCopy, ExecutorFunc(copyStep))
	e.Register(ActionWrite, ExecutorFunc(writeStep))
	e.Register(ActionChmod, ExecutorFunc(chmodStep))
	e.Register(ActionRun, ExecutorFunc(runStep))
	return e
}

// Register adds or replaces the executor for action.
func (e *Executors) Register(action string, x StepExecutor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m[action] = x
}

// Lookup returns the executor for action.
func (e *Executors) Lookup(action string) (StepExecutor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	x, ok := e.m[action]
	return x, ok
}

// Actions returns the registered action names, sorted.
func (e *Executors) Actions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.m))
	for name := range e.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseMode(s string, def os.FileMode) (os.FileMode, error) {
	if s == "" {
		return def, nil
	}
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil || m > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q: want octal like 0755", s)
	}
	return os.FileMode(m), nil
}

func requireArg(step formula.Step, key string) (string, error) {
	v := strings.TrimSpace(step.Arg(key))
	if v == "" {
		return "", fmt.Errorf("%s: missing %q argument", step.Action, key)
	}
	return v, nil
}
