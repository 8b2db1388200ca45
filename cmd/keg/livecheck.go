package main

import (
	"github.com/spf13/cobra"
)

func newLivecheckCmd(a *app) *cobra.Command {
	var outdatedOnly bool
	cmd := &cobra.Command{
		Use:   "livecheck [name...]",
		Short: "Check upstream for versions newer than the formulas",
		Long: `Livecheck fetches each formula's livecheck page and extracts versions with its
regex. Without names, every formula with a livecheck block is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.svc.Livecheck(cmd.Context(), args...)
			for _, r := range results {
				if outdatedOnly && !r.Outdated {
					continue
				}
				a.printer.Println(r.String())
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&outdatedOnly, "outdated", false, "only print formulas with a newer upstream version")
	return cmd
}
