package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/keg/internal/shell"
)

func newShellenvCmd(a *app) *cobra.Command {
	var (
		install bool
		opts    shell.SetupOptions
	)
	cmd := &cobra.Command{
		Use:   "shellenv [bash|zsh|fish]",
		Short: "Print the shell setup that puts keg's bin directory on PATH",
		Long: `Shellenv prints commands that export KEG_ROOT and add <root>/bin to PATH.
Evaluate it from your shell's rc file:

  eval "$(keg shellenv bash)"      # ~/.bashrc
  eval "$(keg shellenv zsh)"       # ~/.zshrc
  keg shellenv fish | source       # ~/.config/fish/config.fish

With --install the line is added to the rc file for you. Without a shell
argument the current shell is detected.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := resolveShell(cmd, args)
			if err != nil {
				return err
			}
			if install {
				return a.installShellenv(sh, opts)
			}
			script, err := shell.Env(sh, a.settings.Root)
			if err != nil {
				return err
			}
			a.printer.Printf("%s", script)
			return nil
		},
	}
	cmd.Flags().BoolVar(&install, "install", false, "add the activation line to the shell's rc file")
	cmd.Flags().BoolVar(&opts.Backup, "backup", true, "back up the rc file before changing it")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "show what --install would change")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "add the line even if one is already present")
	return cmd
}

func resolveShell(cmd *cobra.Command, args []string) (shell.ShellType, error) {
	if len(args) == 1 {
		sh := shell.ParseShell(args[0])
		if !sh.IsValid() {
			return "", &shell.UnsupportedShellError{Shell: args[0]}
		}
		return sh, nil
	}
	det := shell.DetectShell(cmd.Context())
	if !det.Shell.IsValid() {
		return "", fmt.Errorf("could not detect your shell; pass one of bash, zsh or fish")
	}
	return det.Shell, nil
}

func (a *app) installShellenv(sh shell.ShellType, opts shell.SetupOptions) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("find home directory: %w", err)
	}
	m, err := shell.NewManager(home)
	if err != nil {
		return err
	}
	res, err := m.SetupIntegration(sh, opts)
	if err != nil {
		return err
	}

	switch {
	case opts.DryRun && res.AlreadyPresent && !opts.Force:
		a.printer.Println(res.RCFile, "already activates keg")
	case opts.DryRun:
		a.printer.Printf("Would add to %s:\n  %s\n", res.RCFile, res.ActivationCommand)
	case res.Added:
		if res.BackupPath != "" {
			a.printer.Heading("Backed up %s to %s", res.RCFile, res.BackupPath)
		}
		a.printer.Success("Added %q to %s", res.ActivationCommand, res.RCFile)
		a.printer.Println("Restart your shell or run:", res.ActivationCommand)
	default:
		a.printer.Println(res.RCFile, "already activates keg")
	}
	return nil
}
