package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
	"github.com/ZebulonRouseFrantzich/keg/internal/logging"
	"github.com/ZebulonRouseFrantzich/keg/internal/service"
	"github.com/ZebulonRouseFrantzich/keg/internal/settings"
	"github.com/ZebulonRouseFrantzich/keg/internal/ui"
)

// app holds the state shared by every command of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	verbosity  int
	configFile string
	format     string

	logger   zerolog.Logger
	printer  *ui.Printer
	settings *settings.Settings
	svc      *service.Service

	// serviceOptions lets tests inject a platform, clock or git client.
	serviceOptions func(*service.Options)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	return a.execute(ctx, args)
}

func (a *app) execute(ctx context.Context, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return kerr.ExitOK
	}
	if a.printer == nil {
		a.printer = ui.NewPrinter(a.stdout, a.stderr, ui.FormatText)
	}
	a.printer.Error("%v", err)
	return kerr.ExitCode(err)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "keg",
		Short: "Install command-line tools from formula taps",
		Long: `keg installs tools described by formulas. Formulas live in taps, git
repositories or local directories of Lua, TOML or YAML files. Every download
is checked against the formula's checksum before anything is installed.`,
		Version:           Version,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	root.SetVersionTemplate("keg {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.CountVarP(&a.verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	flags.StringVar(&a.configFile, "config", "", "config file (default is $XDG_CONFIG_HOME/keg/config.yaml)")
	flags.StringVar(&a.format, "format", "auto", "output format: auto, term or text")

	root.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "management", Title: "Management Commands:"},
	)

	for _, cmd := range []*cobra.Command{
		newInstallCmd(a),
		newVerifyCmd(a),
		newListCmd(a),
		newInfoCmd(a),
		newUninstallCmd(a),
	} {
		cmd.GroupID = "core"
		root.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{
		newTapCmd(a),
		newAuditCmd(a),
		newLivecheckCmd(a),
		newConfigCmd(a),
		newShellenvCmd(a),
	} {
		cmd.GroupID = "management"
		root.AddCommand(cmd)
	}
	return root
}

// setup runs before every command: it resolves the output format, the
// logger and the settings, then builds the service.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	format, err := ui.ParseFormat(a.format)
	if err != nil {
		return err
	}
	if out, ok := a.stdout.(*os.File); ok {
		format = format.Resolve(out)
	} else if format == ui.FormatAuto {
		format = ui.FormatText
	}
	a.printer = ui.NewPrinter(a.stdout, a.stderr, format)

	a.logger = logging.Setup(a.stderr, a.verbosity)
	a.logger.Debug().Str("command", cmd.CommandPath()).Msg("command started")

	a.settings, err = settings.Load(settings.Options{ConfigFile: a.configFile})
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if a.settings.ConfigFile != "" {
		a.logger.Info().Str("path", a.settings.ConfigFile).Msg("using config file")
	}

	opts := service.Options{
		Settings: a.settings,
		Logger:   a.logger,
		Notifier: ui.NewNotifier(a.printer),
		Stdout:   a.stderr,
		Stderr:   a.stderr,
	}
	if a.serviceOptions != nil {
		a.serviceOptions(&opts)
	}
	a.svc, err = service.New(opts)
	return err
}
