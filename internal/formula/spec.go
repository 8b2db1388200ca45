package formula

import (
	"fmt"
	"regexp"
	"strings"
)

// namePattern matches valid formula names. "@" is reserved as the
// name/constraint separator.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+._-]*$`)

// Spec is a user-supplied "name[@constraint]" reference.
type Spec struct {
	Name       string
	Constraint string
}

// String returns the spec in "name[@constraint]" form.
func (s Spec) String() string {
	if s.Constraint == "" {
		return s.Name
	}
	return s.Name + "@" + s.Constraint
}

// ParseSpec parses a formula reference.
// Examples: "ripgrep", "ripgrep@14.1.0", "jq@>=1.6,<2", "node@latest"
func ParseSpec(spec string) (Spec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Spec{}, fmt.Errorf("empty formula reference")
	}

	name, constraint, _ := strings.Cut(spec, "@")
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return Spec{}, err
	}

	return Spec{Name: name, Constraint: strings.TrimSpace(constraint)}, nil
}

// ValidateName checks a formula name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("formula name cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("formula name too long (%d chars, max 128)", len(name))
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid formula name %q (lowercase letters, digits, '+', '.', '_', '-')", name)
	}
	return nil
}
