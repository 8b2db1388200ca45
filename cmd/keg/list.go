package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/keg/internal/service"
	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

func newListCmd(a *app) *cobra.Command {
	var installed bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List available or installed formulas",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.svc.List(cmd.Context(), installed)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				if installed {
					a.printer.Println("No formulas installed.")
				} else {
					a.printer.Println("No formulas found. Add a tap with 'keg tap add'.")
				}
				return nil
			}
			return a.printer.Table([]string{"NAME", "VERSIONS", "INSTALLED", "TAP", "DESCRIPTION"}, listRows(entries))
		},
	}
	cmd.Flags().BoolVar(&installed, "installed", false, "only list installed formulas")
	return cmd
}

func listRows(entries []service.ListEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		inst := ""
		if e.Installed != nil {
			inst = e.Installed.Version
		}
		rows = append(rows, []string{e.Name, joinVersions(e.Versions), inst, e.Tap, e.Description})
	}
	return rows
}

func joinVersions(vs []version.Version) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>[@version]",
		Short: "Show a formula and its install status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.svc.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printer.Printf("%s", formatInfo(info))
			return nil
		},
	}
}

func formatInfo(info *service.Info) string {
	f := info.Formula
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", f.ID(), f.Description)
	if f.Homepage != "" {
		fmt.Fprintf(&b, "Homepage: %s\n", f.Homepage)
	}
	if f.License != "" {
		fmt.Fprintf(&b, "License: %s\n", f.License)
	}
	if f.Tap != "" {
		fmt.Fprintf(&b, "Tap: %s\n", f.Tap)
	}
	fmt.Fprintf(&b, "Versions: %s\n", joinVersions(info.Versions))
	fmt.Fprintf(&b, "Checksum: %s\n", f.Checksum)
	if len(f.Dependencies) > 0 {
		deps := make([]string, len(f.Dependencies))
		for i, d := range f.Dependencies {
			deps[i] = d.Name
			if !d.Constraint.IsLatest() {
				deps[i] += " " + d.Constraint.String()
			}
		}
		fmt.Fprintf(&b, "Depends on: %s\n", strings.Join(deps, ", "))
	}

	switch {
	case info.Installed == nil:
		b.WriteString("Not installed\n")
	case info.Outdated:
		fmt.Fprintf(&b, "Installed: %s (outdated)\n", info.Installed.Version)
	default:
		fmt.Fprintf(&b, "Installed: %s\n", info.Installed.Version)
	}
	if len(info.Dependents) > 0 {
		fmt.Fprintf(&b, "Required by: %s\n", strings.Join(info.Dependents, ", "))
	}
	return b.String()
}

func newUninstallCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "uninstall <name>...",
		Aliases: []string{"remove", "rm"},
		Short:   "Remove installed formulas",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				rec, err := a.svc.Uninstall(cmd.Context(), name, force)
				if err != nil {
					return err
				}
				a.printer.Success("Uninstalled %s@%s", rec.Formula, rec.Version)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "uninstall even if other formulas depend on it")
	return cmd
}
