package main

import (
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved settings",
		Long: `Config prints every setting as the environment variable that overrides it.
Settings come from defaults, the config file, .env files and KEG_*
variables, in increasing order of precedence.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.settings.ConfigFile != "" {
				a.printer.Heading("Config file: %s", a.settings.ConfigFile)
			}
			for _, kv := range a.settings.Env() {
				a.printer.Printf("%s=%s\n", kv[0], kv[1])
			}
			return nil
		},
	}
}
