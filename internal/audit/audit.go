// Package audit checks formulas for problems that loading alone does not
// reject: weak integrity settings, insecure URLs, unknown install actions
// and unresolvable dependencies.
package audit

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Rule names.
const (
	RuleChecksum     = "checksum"
	RuleURL          = "url"
	RuleLicense      = "license"
	RuleAction       = "action"
	RuleCaveats      = "caveats"
	RuleLivecheck    = "livecheck"
	RuleDependencies = "dependencies"
	RuleSignature    = "signature"
)

// Finding is one problem in one formula.
type Finding struct {
	Formula  string // name@version
	Rule     string
	Severity Severity
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s [%s] %s", f.Formula, f.Severity, f.Rule, f.Message)
}

// Resolver finds dependency targets. *tap.Registry implements it.
type Resolver interface {
	All() []*formula.Formula
	LookupConstraint(name string, c version.Constraint) (*formula.Formula, error)
}

// Auditor runs every rule over a registry.
type Auditor struct {
	registry Resolver
	actions  map[string]bool
}

// New creates an Auditor. actions are the install step actions that have a
// registered executor.
func New(registry Resolver, actions []string) *Auditor {
	known := make(map[string]bool, len(actions))
	for _, a := range actions {
		known[a] = true
	}
	return &Auditor{registry: registry, actions: known}
}

// Report is the outcome of an audit run.
type Report struct {
	Audited  int
	Findings []Finding
}

// Errors counts findings of error severity.
func (r *Report) Errors() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Warnings counts findings of warning severity.
func (r *Report) Warnings() int {
	return len(r.Findings) - r.Errors()
}

// Err returns a CodeInvalidFormula error when any finding is an error.
func (r *Report) Err() error {
	n := r.Errors()
	if n == 0 {
		return nil
	}
	return kerr.Newf(kerr.CodeInvalidFormula, "audit found %d error(s) in %d formula(s)", n, r.Audited).
		With("errors", n)
}

// Run audits every formula in the registry, or only those named.
func (a *Auditor) Run(names ...string) *Report {
	filter := map[string]bool{}
	for _, n := range names {
		filter[n] = true
	}

	report := &Report{}
	for _, f := range a.registry.All() {
		if len(filter) > 0 && !filter[f.Name] {
			continue
		}
		report.Audited++
		report.Findings = append(report.Findings, a.Formula(f)...)
	}
	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Formula < report.Findings[j].Formula
	})
	return report
}

// Formula runs every rule over f.
func (a *Auditor) Formula(f *formula.Formula) []Finding {
	var out []Finding
	add := func(rule string, sev Severity, format string, args ...any) {
		out = append(out, Finding{Formula: f.ID(), Rule: rule, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	switch {
	case f.Checksum.IsMissing():
		add(RuleChecksum, SeverityError, "no checksum; declare one or mark the formula unchecked")
	case f.Checksum.IsUnchecked():
		add(RuleChecksum, SeverityWarning, "artifact is unchecked")
	}

	checkURL(f.URL, "url", add)

	if strings.TrimSpace(f.License) == "" {
		add(RuleLicense, SeverityWarning, "license is not declared")
	}

	for i, s := range f.Steps {
		if !a.actions[s.Action] {
			add(RuleAction, SeverityError, "step %d uses unknown action %q", i+1, s.Action)
		}
	}

	if f.Caveats != "" {
		if _, err := template.New("caveats").Option("missingkey=error").Parse(f.Caveats); err != nil {
			add(RuleCaveats, SeverityError, "caveats do not parse: %v", err)
		}
	}

	if f.Livecheck != nil {
		if _, err := regexp.Compile(f.Livecheck.Regex); err != nil {
			add(RuleLivecheck, SeverityError, "regex does not compile: %v", err)
		}
		checkURL(f.Livecheck.URL, "livecheck url", add)
	}

	if f.Signature != nil {
		checkURL(f.Signature.URL, "signature url", add)
	}

	for _, dep := range f.Dependencies {
		if _, err := a.registry.LookupConstraint(dep.Name, dep.Constraint); err != nil {
			add(RuleDependencies, SeverityError, "%s is not resolvable: %v", dep, err)
		}
	}

	return out
}

func checkURL(raw, field string, add func(string, Severity, string, ...any)) {
	u, err := url.Parse(raw)
	if err != nil {
		add(RuleURL, SeverityError, "%s %q does not parse: %v", field, raw, err)
		return
	}
	switch u.Scheme {
	case "https":
	case "http":
		add(RuleURL, SeverityWarning, "%s uses plain http", field)
	default:
		add(RuleURL, SeverityError, "%s has unsupported scheme %q", field, u.Scheme)
	}
}
