package shell

import (
	"fmt"
	"strings"
)

// ShellType names a shell keg can emit shellenv scripts for.
type ShellType string

const (
	ShellBash    ShellType = "bash"
	ShellZsh     ShellType = "zsh"
	ShellFish    ShellType = "fish"
	ShellUnknown ShellType = "unknown"
)

var supportedShells = []ShellType{ShellBash, ShellZsh, ShellFish}

func (s ShellType) String() string {
	return string(s)
}

// IsValid reports whether s is one of the supported shells.
func (s ShellType) IsValid() bool {
	for _, known := range supportedShells {
		if s == known {
			return true
		}
	}
	return false
}

// SetupOptions controls SetupIntegration.
type SetupOptions struct {
	Force  bool // add the line even when the rc file already has one
	Backup bool // copy the rc file to <rc>.keg-backup first
	DryRun bool
}

// SetupResult reports what SetupIntegration did, or would do under DryRun.
type SetupResult struct {
	Shell             ShellType
	RCFile            string
	Added             bool
	AlreadyPresent    bool
	BackupPath        string
	ActivationCommand string
}

// DetectSource records where DetectShell found the shell.
type DetectSource string

const (
	SourceEnv    DetectSource = "$SHELL"
	SourceParent DetectSource = "parent process"
	SourceNone   DetectSource = "none"
)

// DetectionResult is the outcome of DetectShell.
type DetectionResult struct {
	Shell  ShellType
	Source DetectSource
	Path   string // shell binary or process name, when known
}

// RCFileError reports a failure reading or writing an rc file.
type RCFileError struct {
	Path    string
	Message string
	Cause   error
}

func (e *RCFileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rc file %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("rc file %s: %s", e.Path, e.Message)
}

func (e *RCFileError) Unwrap() error {
	return e.Cause
}

// UnsupportedShellError is returned for shells other than bash, zsh and fish.
type UnsupportedShellError struct {
	Shell string
}

func (e *UnsupportedShellError) Error() string {
	names := make([]string, len(supportedShells))
	for i, s := range supportedShells {
		names[i] = s.String()
	}
	return fmt.Sprintf("unsupported shell %q (supported: %s)", e.Shell, strings.Join(names, ", "))
}
