package version

import (
	"strings"

	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
)

// LatestKeyword selects the newest available version.
const LatestKeyword = "latest"

type operator string

const (
	opEQ          operator = "="
	opNE          operator = "!="
	opGT          operator = ">"
	opGE          operator = ">="
	opLT          operator = "<"
	opLE          operator = "<="
	opPessimistic operator = "~>"
	opCaret       operator = "^"
	opPrefix      operator = ".*"
)

// operators in match order: two-character operators before their prefixes.
var operators = []operator{opGE, opLE, "==", opNE, opPessimistic, opGT, opLT, opEQ, opCaret}

type clause struct {
	op operator
	v  Version
}

func (c clause) check(v Version) bool {
	cmp := v.Compare(c.v)
	switch c.op {
	case opEQ:
		return cmp == 0
	case opNE:
		return cmp != 0
	case opGT:
		return cmp > 0
	case opGE:
		return cmp >= 0
	case opLT:
		return cmp < 0
	case opLE:
		return cmp <= 0
	case opPessimistic:
		keep := c.v.numericLen() - 1
		return cmp >= 0 && v.Compare(c.v.bump(keep)) < 0
	case opCaret:
		return cmp >= 0 && v.Compare(c.v.bump(1)) < 0
	case opPrefix:
		return cmp == 0 || v.hasPrefix(c.v)
	default:
		return false
	}
}

// Constraint is a parsed version constraint. The zero value matches every
// version.
type Constraint struct {
	raw     string
	clauses []clause
}

// Latest returns the constraint that matches every version.
func Latest() Constraint {
	return Constraint{raw: LatestKeyword}
}

// ParseConstraint parses a comma-separated list of clauses such as
// ">=1.2, <2". The empty string, "latest" and "*" match any version. A bare
// version is an exact match, so "1.7" matches 1.7 and 1.7.0 but not 1.7.1.
// A trailing ".*" matches by component prefix: "1.2.*" matches 1.2, 1.2.0
// and 1.2.7 but not 1.20.
//
// Malformed input returns a kerr error with CodeAmbiguousConstraint.
func ParseConstraint(s string) (Constraint, error) {
	raw := strings.TrimSpace(s)
	switch strings.ToLower(raw) {
	case "", LatestKeyword, "*":
		return Constraint{raw: LatestKeyword}, nil
	}

	parts := strings.Split(raw, ",")
	clauses := make([]clause, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return Constraint{}, kerr.Newf(kerr.CodeAmbiguousConstraint, "constraint %q has an empty clause", raw)
		}
		c, err := parseClause(part)
		if err != nil {
			return Constraint{}, kerr.Wrapf(err, kerr.CodeAmbiguousConstraint, "constraint %q", raw)
		}
		clauses = append(clauses, c)
	}

	return Constraint{raw: raw, clauses: clauses}, nil
}

func parseClause(s string) (clause, error) {
	op := opEQ
	rest := s
	for _, candidate := range operators {
		if strings.HasPrefix(s, string(candidate)) {
			op = candidate
			rest = strings.TrimSpace(s[len(candidate):])
			break
		}
	}
	if op == "==" {
		op = opEQ
	}
	if strings.EqualFold(rest, LatestKeyword) || rest == "*" {
		return clause{}, kerr.Newf(kerr.CodeAmbiguousConstraint, "%q cannot be combined with other clauses", rest)
	}
	if trimmed, ok := strings.CutSuffix(rest, string(opPrefix)); ok {
		if op != opEQ || s != rest {
			return clause{}, kerr.Newf(kerr.CodeAmbiguousConstraint, "wildcard %q cannot follow an operator", s)
		}
		op, rest = opPrefix, trimmed
	}

	v, err := Parse(rest)
	if err != nil {
		return clause{}, err
	}
	return clause{op: op, v: v}, nil
}

// MustParseConstraint is like ParseConstraint but panics on error.
func MustParseConstraint(s string) Constraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// IsLatest reports whether the constraint matches every version.
func (c Constraint) IsLatest() bool {
	return len(c.clauses) == 0
}

// Check reports whether v satisfies every clause.
func (c Constraint) Check(v Version) bool {
	for _, cl := range c.clauses {
		if !cl.check(v) {
			return false
		}
	}
	return true
}

// String returns the constraint as written, or "latest".
func (c Constraint) String() string {
	if c.raw == "" {
		return LatestKeyword
	}
	return c.raw
}
