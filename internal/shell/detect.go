package shell

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// DetectShell returns the user's shell from $SHELL or, when that names an
// unsupported shell, from the parent process.
func DetectShell(ctx context.Context) *DetectionResult {
	if env := os.Getenv("SHELL"); env != "" {
		if s := ParseShell(env); s.IsValid() {
			return &DetectionResult{Shell: s, Source: SourceEnv, Path: env}
		}
	}
	if s, path := parentShell(ctx); s.IsValid() {
		return &DetectionResult{Shell: s, Source: SourceParent, Path: path}
	}
	return &DetectionResult{Shell: ShellUnknown, Source: SourceNone}
}

// ParseShell maps a shell name or binary path to a ShellType. A leading "-"
// (login shell) is ignored.
//
//	/bin/bash -> bash
//	-zsh      -> zsh
//	/bin/sh   -> unknown
func ParseShell(nameOrPath string) ShellType {
	base := strings.TrimPrefix(strings.ToLower(filepath.Base(nameOrPath)), "-")
	s := ShellType(base)
	if !s.IsValid() {
		return ShellUnknown
	}
	return s
}

func parentShell(ctx context.Context) (ShellType, string) {
	parent, err := process.NewProcessWithContext(ctx, int32(os.Getppid()))
	if err != nil {
		return ShellUnknown, ""
	}
	if exe, err := parent.ExeWithContext(ctx); err == nil {
		if s := ParseShell(exe); s.IsValid() {
			return s, exe
		}
	}
	name, err := parent.NameWithContext(ctx)
	if err != nil {
		return ShellUnknown, ""
	}
	return ParseShell(name), name
}

// ValidateShell returns an *UnsupportedShellError unless s is supported.
func ValidateShell(s ShellType) error {
	if !s.IsValid() {
		return &UnsupportedShellError{Shell: s.String()}
	}
	return nil
}

// GetSupportedShells lists the shells shellenv supports.
func GetSupportedShells() []ShellType {
	return append([]ShellType(nil), supportedShells...)
}
