package main

import (
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/keg/internal/audit"
)

func newAuditCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "audit [name...]",
		Short: "Check formulas for missing checksums, insecure URLs and other problems",
		Long: `Audit checks every formula in every tap, or only the named ones. Errors make
the command fail; warnings fail it only with --strict.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.svc.Audit(cmd.Context(), args...)
			if err != nil {
				return err
			}
			for _, f := range report.Findings {
				a.printer.Println(f.String())
			}
			a.printer.Heading("Audited %d formula(s): %d error(s), %d warning(s)",
				report.Audited, report.Errors(), report.Warnings())
			return auditErr(report, strict)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	return cmd
}

func auditErr(report *audit.Report, strict bool) error {
	if strict && report.Warnings() > 0 {
		for i := range report.Findings {
			report.Findings[i].Severity = audit.SeverityError
		}
	}
	return report.Err()
}
