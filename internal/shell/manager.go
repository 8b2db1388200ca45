package shell

import "fmt"

// Manager installs the shellenv activation line into rc files under home.
type Manager struct {
	home string
}

// NewManager creates a manager for the user whose home directory is home.
func NewManager(home string) (*Manager, error) {
	if home == "" {
		return nil, fmt.Errorf("home directory is required")
	}
	return &Manager{home: home}, nil
}

// SetupIntegration adds the activation line to shell's rc file.
func (m *Manager) SetupIntegration(shell ShellType, opts SetupOptions) (*SetupResult, error) {
	rcPath, err := RCFilePath(m.home, shell)
	if err != nil {
		return nil, err
	}
	activationCmd, err := GenerateActivationCommand(shell)
	if err != nil {
		return nil, err
	}

	hasActivation, err := HasActivationLine(rcPath)
	if err != nil {
		return nil, fmt.Errorf("check activation line: %w", err)
	}

	result := &SetupResult{
		Shell:             shell,
		RCFile:            rcPath,
		AlreadyPresent:    hasActivation,
		ActivationCommand: activationCmd,
	}
	if (hasActivation && !opts.Force) || opts.DryRun {
		return result, nil
	}

	exists, err := RCFileExists(rcPath)
	if err != nil {
		return nil, fmt.Errorf("check RC file: %w", err)
	}
	if !exists {
		if err := CreateRCFile(rcPath); err != nil {
			return nil, fmt.Errorf("create RC file: %w", err)
		}
	} else if opts.Backup {
		result.BackupPath, err = BackupRCFile(rcPath)
		if err != nil {
			return nil, fmt.Errorf("backup RC file: %w", err)
		}
	}

	if err := AddActivationLine(rcPath, activationCmd); err != nil {
		return nil, fmt.Errorf("add activation line: %w", err)
	}
	result.Added = true
	return result, nil
}
