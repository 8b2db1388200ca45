package shell

import (
	"context"
	"testing"
)

func TestDetectShell(t *testing.T) {
	tests := []struct {
		name      string
		shellEnv  string
		wantShell ShellType
	}{
		{"Bash from SHELL", "/bin/bash", ShellBash},
		{"Zsh from SHELL", "/usr/bin/zsh", ShellZsh},
		{"Fish from SHELL", "/usr/local/bin/fish", ShellFish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SHELL", tt.shellEnv)

			result := DetectShell(context.Background())
			if result.Shell != tt.wantShell {
				t.Errorf("DetectShell() shell = %v, want %v", result.Shell, tt.wantShell)
			}
			if result.Source != SourceEnv {
				t.Errorf("DetectShell() source = %q, want %q", result.Source, SourceEnv)
			}
			if result.Path != tt.shellEnv {
				t.Errorf("DetectShell() path = %q, want %q", result.Path, tt.shellEnv)
			}
		})
	}
}

func TestDetectShell_FallsBackFromUnknownShell(t *testing.T) {
	t.Setenv("SHELL", "/bin/ksh")

	// The parent process decides the outcome; only the source is stable.
	result := DetectShell(context.Background())
	if result.Source == SourceEnv {
		t.Errorf("DetectShell() trusted an unsupported $SHELL: %+v", result)
	}
	if result.Shell.IsValid() != (result.Source == SourceParent) {
		t.Errorf("DetectShell() = %+v, inconsistent source", result)
	}
}

func TestParseShell(t *testing.T) {
	tests := []struct {
		path string
		want ShellType
	}{
		{"/bin/bash", ShellBash},
		{"/usr/local/bin/zsh", ShellZsh},
		{"/opt/homebrew/bin/FISH", ShellFish},
		{"-zsh", ShellZsh},
		{"bash", ShellBash},
		{"/bin/sh", ShellUnknown},
		{"", ShellUnknown},
	}
	for _, tt := range tests {
		if got := ParseShell(tt.path); got != tt.want {
			t.Errorf("ParseShell(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestValidateShell(t *testing.T) {
	for _, s := range GetSupportedShells() {
		if err := ValidateShell(s); err != nil {
			t.Errorf("ValidateShell(%s) error = %v", s, err)
		}
	}
	err := ValidateShell(ShellUnknown)
	if _, ok := err.(*UnsupportedShellError); !ok {
		t.Errorf("ValidateShell(unknown) error = %v, want UnsupportedShellError", err)
	}
	if want := `unsupported shell "unknown" (supported: bash, zsh, fish)`; err.Error() != want {
		t.Errorf("error = %q, want %q", err, want)
	}
}
