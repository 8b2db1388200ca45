package formula

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/template"

	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

// Document is the file-format neutral shape of a formula as written by tap
// authors. Every loader produces Documents and Build turns them into Formulas.
type Document struct {
	Name        string           `toml:"name" yaml:"name"`
	Version     string           `toml:"version" yaml:"version"`
	Description string           `toml:"description" yaml:"description"`
	Homepage    string           `toml:"homepage" yaml:"homepage"`
	URL         string           `toml:"url" yaml:"url"`
	SHA256      string           `toml:"sha256" yaml:"sha256"`
	Checksum    string           `toml:"checksum" yaml:"checksum"`
	Unchecked   bool             `toml:"unchecked" yaml:"unchecked"`
	License     string           `toml:"license" yaml:"license"`
	DependsOn   []string         `toml:"depends_on" yaml:"depends_on"`
	Install     []map[string]any `toml:"install" yaml:"install"`
	Caveats     string           `toml:"caveats" yaml:"caveats"`
	Signature   *Signature       `toml:"signature" yaml:"signature"`
	Livecheck   *Livecheck       `toml:"livecheck" yaml:"livecheck"`
}

// ParseError represents a formula file error with a friendly message.
type ParseError struct {
	Source  string // File the error came from (may be empty)
	Message string // User-friendly message
	Detail  string // Technical details (raw parser error)
}

func (e *ParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s: %s", e.Source, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// ValidationError represents a formula validation error.
type ValidationError struct {
	Formula string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	prefix := "formula validation failed"
	if e.Formula != "" {
		prefix += " for " + e.Formula
	}
	if e.Field != "" {
		return prefix + ": " + e.Field + ": " + e.Message
	}
	return prefix + ": " + e.Message
}

// Build converts a Document into a validated Formula.
func Build(doc Document) (*Formula, error) {
	f := &Formula{
		Name:        strings.TrimSpace(doc.Name),
		Description: doc.Description,
		Homepage:    doc.Homepage,
		URL:         strings.TrimSpace(doc.URL),
		License:     strings.TrimSpace(doc.License),
		Caveats:     doc.Caveats,
		Signature:   doc.Signature,
		Livecheck:   doc.Livecheck,
	}

	if err := ValidateName(f.Name); err != nil {
		return nil, &ValidationError{Formula: doc.Name, Field: "name", Message: err.Error()}
	}

	v, err := version.Parse(doc.Version)
	if err != nil {
		return nil, &ValidationError{Formula: f.Name, Field: "version", Message: err.Error()}
	}
	f.Version = v

	sum, err := buildChecksum(doc)
	if err != nil {
		return nil, &ValidationError{Formula: f.ID(), Field: "checksum", Message: err.Error()}
	}
	f.Checksum = sum

	for i, raw := range doc.DependsOn {
		dep, err := ParseDependency(raw)
		if err != nil {
			return nil, &ValidationError{Formula: f.ID(), Field: fmt.Sprintf("depends_on[%d]", i), Message: err.Error()}
		}
		if dep.Name == f.Name {
			return nil, &ValidationError{Formula: f.ID(), Field: fmt.Sprintf("depends_on[%d]", i), Message: "formula cannot depend on itself"}
		}
		f.Dependencies = append(f.Dependencies, dep)
	}

	for i, raw := range doc.Install {
		step, err := buildStep(raw)
		if err != nil {
			return nil, &ValidationError{Formula: f.ID(), Field: fmt.Sprintf("install[%d]", i), Message: err.Error()}
		}
		f.Steps = append(f.Steps, step)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return f, nil
}

// buildChecksum enforces that a checksum is given at most once and that
// "unchecked" is never combined with a digest.
func buildChecksum(doc Document) (Checksum, error) {
	var given []string
	if doc.SHA256 != "" {
		s := doc.SHA256
		if !strings.Contains(s, ":") {
			s = AlgorithmSHA256 + ":" + s
		}
		given = append(given, s)
	}
	if doc.Checksum != "" {
		given = append(given, doc.Checksum)
	}

	switch {
	case len(given) > 1:
		return Checksum{}, fmt.Errorf("both sha256 and checksum are set")
	case len(given) == 1 && doc.Unchecked:
		return Checksum{}, fmt.Errorf("a formula marked unchecked cannot also declare a checksum")
	case len(given) == 1:
		return ParseChecksum(given[0])
	case doc.Unchecked:
		return Unchecked(), nil
	default:
		// Missing: kept so audit can report it and verification fails closed.
		return Checksum{}, nil
	}
}

func buildStep(raw map[string]any) (Step, error) {
	actionVal, ok := raw["action"]
	if !ok {
		return Step{}, fmt.Errorf("missing action")
	}
	action, ok := actionVal.(string)
	if !ok || strings.TrimSpace(action) == "" {
		return Step{}, fmt.Errorf("action must be a non-empty string")
	}

	step := Step{Action: strings.TrimSpace(action), Args: map[string]string{}}
	for k, v := range raw {
		if k == "action" {
			continue
		}
		step.Args[k] = stringify(v)
	}
	return step, nil
}

// stringify renders scalar and list argument values. Lists are joined with
// newlines so argv-style arguments survive every file format.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, "\n")
	case []string:
		return strings.Join(val, "\n")
	default:
		return fmt.Sprint(val)
	}
}

// Validate checks structural invariants that every loader must uphold.
// A missing checksum is not a validation error here; see Checksum.IsMissing.
func (f *Formula) Validate() error {
	if err := ValidateName(f.Name); err != nil {
		return &ValidationError{Formula: f.Name, Field: "name", Message: err.Error()}
	}
	if f.Version.IsZero() {
		return &ValidationError{Formula: f.Name, Field: "version", Message: "version is required"}
	}
	if f.URL == "" {
		return &ValidationError{Formula: f.ID(), Field: "url", Message: "url is required"}
	}
	u, err := url.Parse(f.URL)
	if err != nil {
		return &ValidationError{Formula: f.ID(), Field: "url", Message: err.Error()}
	}
	if u.Scheme == "" {
		return &ValidationError{Formula: f.ID(), Field: "url", Message: "url must be absolute"}
	}

	seen := make(map[string]bool, len(f.Dependencies))
	for _, dep := range f.Dependencies {
		if seen[dep.Name] {
			return &ValidationError{Formula: f.ID(), Field: "depends_on", Message: fmt.Sprintf("duplicate dependency %q", dep.Name)}
		}
		seen[dep.Name] = true
	}

	if f.Caveats != "" {
		if _, err := template.New("caveats").Option("missingkey=error").Parse(f.Caveats); err != nil {
			return &ValidationError{Formula: f.ID(), Field: "caveats", Message: err.Error()}
		}
	}

	if f.Signature != nil && (f.Signature.URL == "" || f.Signature.Keyring == "") {
		return &ValidationError{Formula: f.ID(), Field: "signature", Message: "signature needs both url and keyring"}
	}

	if f.Livecheck != nil && (f.Livecheck.URL == "" || f.Livecheck.Regex == "") {
		return &ValidationError{Formula: f.ID(), Field: "livecheck", Message: "livecheck needs both url and regex"}
	}

	return nil
}

// SortByVersionDescending orders formulas newest first.
func SortByVersionDescending(fs []*Formula) {
	sort.SliceStable(fs, func(i, j int) bool {
		return fs[i].Version.Compare(fs[j].Version) > 0
	})
}
