package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/keg/internal/verify"
)

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <name>[@version]",
		Short: "Download and verify a formula's artifact without installing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, res, err := a.svc.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printer.Println(describeVerification(f.ID(), res))
			if res.Warning != "" {
				a.printer.Warning("%s: %s", f.ID(), res.Warning)
			}
			return nil
		},
	}
}

func describeVerification(id string, res *verify.Result) string {
	var line string
	switch res.Method {
	case verify.MethodUnchecked:
		line = id + ": unchecked"
	case verify.MethodOpenPGP:
		line = id + ": OK"
	default:
		line = fmt.Sprintf("%s: OK (%s:%s)", id, res.Method, res.Digest)
	}
	if res.Signer != "" {
		line += fmt.Sprintf(" signed by %s", res.Signer)
	}
	return line
}
