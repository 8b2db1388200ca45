package install

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
)

// binStep marks a keg file as an executable to link into Root/bin.
// Args: path (inside the keg), name (link name, defaults to the base name).
func binStep(_ context.Context, sc *StepContext, step formula.Step) error {
	rel, err := requireArg(step, "path")
	if err != nil {
		return err
	}
	target, err := sc.Resolve(rel)
	if err != nil {
		return fmt.Errorf("bin: %w", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("bin: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("bin: %s is not a regular file", rel)
	}
	if err := os.Chmod(target, info.Mode().Perm()|0o111); err != nil {
		return fmt.Errorf("bin: set executable: %w", err)
	}

	name := step.Arg("name")
	if name == "" {
		name = filepath.Base(target)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("bin: invalid link name %q", name)
	}

	relTarget, err := filepath.Rel(sc.Stage, target)
	if err != nil {
		return fmt.Errorf("bin: %w", err)
	}
	sc.AddLink(name, filepath.ToSlash(relTarget))
	return nil
}

// copyStep copies a file inside the keg, or the artifact itself when from is
// omitted. Args: from, to, mode.
func copyStep(ctx context.Context, sc *StepContext, step formula.Step) error {
	to, err := requireArg(step, "to")
	if err != nil {
		return err
	}
	dst, err := sc.Resolve(to)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	src := sc.Artifact
	if from := step.Arg("from"); from != "" {
		if src, err = sc.Resolve(from); err != nil {
			return fmt.Errorf("copy: %w", err)
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("copy: %s is a directory", src)
	}

	mode, err := parseMode(step.Arg("mode"), info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFile(dst, in, mode); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	// OpenFile only applies the mode to new files.
	return os.Chmod(dst, mode)
}

// writeStep writes literal content to a keg file. Args: path, content, mode.
func writeStep(_ context.Context, sc *StepContext, step formula.Step) error {
	rel, err := requireArg(step, "path")
	if err != nil {
		return err
	}
	dst, err := sc.Resolve(rel)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	mode, err := parseMode(step.Arg("mode"), 0o644)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := writeFile(dst, strings.NewReader(step.Arg("content")), mode); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return os.Chmod(dst, mode)
}

// chmodStep changes the mode of a keg path. Args: path, mode.
func chmodStep(_ context.Context, sc *StepContext, step formula.Step) error {
	rel, err := requireArg(step, "path")
	if err != nil {
		return err
	}
	raw, err := requireArg(step, "mode")
	if err != nil {
		return err
	}
	target, err := sc.Resolve(rel)
	if err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	mode, err := parseMode(raw, 0)
	if err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Chmod(target, mode); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	return nil
}

// runStep executes a command without a shell. Args: argv (one argument per
// line), dir (working directory inside the keg, default the keg root).
//
// The command sees KEG_PREFIX (the staging keg), KEG_FINAL_PREFIX,
// KEG_ARTIFACT and KEG_ROOT in its environment.
func runStep(ctx context.Context, sc *StepContext, step formula.Step) error {
	raw, err := requireArg(step, "argv")
	if err != nil {
		return err
	}
	var argv []string
	for _, a := range strings.Split(raw, "\n") {
		if a = strings.TrimRight(a, "\r"); a != "" {
			argv = append(argv, a)
		}
	}

	dir, err := sc.Resolve(step.Arg("dir"))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"KEG_PREFIX="+sc.Stage,
		"KEG_FINAL_PREFIX="+sc.Prefix,
		"KEG_ARTIFACT="+sc.Artifact,
		"KEG_ROOT="+sc.Root,
	)
	cmd.Stdout = writerOr(sc.Stdout)
	cmd.Stderr = writerOr(sc.Stderr)

	sc.Logger.Debug().Strs("argv", argv).Str("dir", dir).Msg("running install command")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("run %s: %w", argv[0], err)
	}
	return nil
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
