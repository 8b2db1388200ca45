package main

import (
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/keg/internal/install"
)

func newInstallCmd(a *app) *cobra.Command {
	var (
		opts install.Options
		jobs int
	)
	cmd := &cobra.Command{
		Use:   "install <name>[@version]...",
		Short: "Install formulas and their dependencies",
		Long: `Install resolves each formula, downloads its artifact, verifies the checksum
and runs the install steps. A version may be pinned with name@version or
constrained with name@">=1.2,<2".

Several formulas are installed concurrently, bounded by --jobs. A failure
does not stop the other installs; the exit code reflects the first failure.`,
		Example: `  keg install jq
  keg install jq@1.7 yq
  keg install --force ripgrep@">=14"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcomes, err := a.svc.InstallAll(cmd.Context(), args, opts, jobs)
			for _, o := range outcomes {
				if o.Err != nil || o.Result == nil {
					continue
				}
				if o.Result.AlreadyInstalled {
					a.printer.Println(o.Result.Formula.ID(), "(already installed)")
					continue
				}
				a.printer.Println(o.Result.Formula.ID())
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "reinstall even if the version is already installed")
	cmd.Flags().BoolVar(&opts.IgnoreDependencies, "ignore-dependencies", false, "install only the named formulas")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "number of concurrent installs (default from settings)")
	return cmd
}
