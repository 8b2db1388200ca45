package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/ZebulonRouseFrantzich/keg/internal/tap"
)

func newTapCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tap",
		Short: "Manage formula taps",
		Long: `Taps are git repositories of formulas, stored as <user>/<repo> under the
taps directory. Formulas live in the repository's Formula/ directory.`,
	}
	cmd.AddCommand(
		newTapAddCmd(a),
		newTapUpdateCmd(a),
		newTapListCmd(a),
		newTapRemoveCmd(a),
		newTapNewCmd(a),
	)
	return cmd
}

func newTapAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <user/repo> [url]",
		Short: "Clone a tap",
		Long: `Add clones a tap. Without a URL, https://github.com/<user>/keg-<repo> is
cloned.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := ""
			if len(args) == 2 {
				url = args[1]
			}
			t, err := a.svc.Taps().Add(cmd.Context(), args[0], url)
			if err != nil {
				return err
			}
			a.printer.Success("Tapped %s (%s)", t.Name, shortCommit(t.Commit))
			return nil
		},
	}
}

func newTapUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update [user/repo...]",
		Short: "Pull the latest formulas for taps",
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.svc.Taps().Update(cmd.Context(), args...)
			for _, r := range results {
				switch {
				case r.Err != nil:
					a.printer.Error("%s: %v", r.Tap.Name, r.Err)
					err = multierr.Append(err, r.Err)
				case r.Updated:
					a.printer.Success("Updated %s to %s", r.Tap.Name, shortCommit(r.Tap.Commit))
				default:
					a.printer.Println(r.Tap.Name, "is up to date")
				}
			}
			return err
		},
	}
}

func newTapListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed taps",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			taps, err := a.svc.Taps().List(cmd.Context())
			if err != nil {
				return err
			}
			if len(taps) == 0 {
				a.printer.Println("No taps installed.")
				return nil
			}
			return a.printer.Table([]string{"TAP", "COMMIT", "REMOTE"}, tapRows(taps))
		},
	}
}

func tapRows(taps []tap.Tap) [][]string {
	rows := make([][]string, len(taps))
	for i, t := range taps {
		rows[i] = []string{t.Name, shortCommit(t.Commit), t.Remote}
	}
	return rows
}

func newTapRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <user/repo>",
		Aliases: []string{"rm"},
		Short:   "Delete a tap",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.Taps().Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success("Untapped %s", args[0])
			return nil
		},
	}
}

func newTapNewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new <user/repo>",
		Short: "Create an empty local tap repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.svc.Taps().Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printer.Success("Created %s", t.Name)
			a.printer.Println(t.Path)
			return nil
		},
	}
}

func shortCommit(c string) string {
	if c == "" {
		return "-"
	}
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
