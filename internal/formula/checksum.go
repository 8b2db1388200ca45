package formula

import (
	"fmt"
	"strings"
)

// Supported digest algorithms.
const (
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA512 = "sha512"
)

// UncheckedKeyword marks a formula that explicitly opts out of verification.
const UncheckedKeyword = "unchecked"

// Checksum is the integrity expectation for an artifact. The zero value is a
// missing checksum, which verification treats as a mismatch.
type Checksum struct {
	Algorithm string
	Digest    string
	unchecked bool
}

// Unchecked returns the explicit "skip verification" marker.
func Unchecked() Checksum {
	return Checksum{unchecked: true}
}

// ParseChecksum parses "sha256:<hex>", "sha512:<hex>", a bare hex digest
// (algorithm inferred from length) or the "unchecked" keyword.
func ParseChecksum(s string) (Checksum, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Checksum{}, fmt.Errorf("checksum is empty")
	}
	if strings.EqualFold(s, UncheckedKeyword) {
		return Unchecked(), nil
	}

	algo, digest, found := strings.Cut(s, ":")
	if !found {
		digest = s
		switch len(s) {
		case 64:
			algo = AlgorithmSHA256
		case 128:
			algo = AlgorithmSHA512
		default:
			return Checksum{}, fmt.Errorf("cannot infer algorithm for %d-character digest", len(s))
		}
	}

	algo = strings.ToLower(strings.TrimSpace(algo))
	digest = strings.TrimSpace(digest)
	want := digestLength(algo)
	if want == 0 {
		return Checksum{}, fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
	if !isHexDigest(digest, want) {
		return Checksum{}, fmt.Errorf("%s digest must be %d hex characters", algo, want)
	}

	return Checksum{Algorithm: algo, Digest: strings.ToLower(digest)}, nil
}

// IsUnchecked reports whether the formula opted out of verification.
func (c Checksum) IsUnchecked() bool {
	return c.unchecked
}

// IsMissing reports whether there is neither a digest nor an Unchecked marker.
func (c Checksum) IsMissing() bool {
	return !c.unchecked && c.Digest == ""
}

// String returns "algo:digest", "unchecked" or "".
func (c Checksum) String() string {
	switch {
	case c.unchecked:
		return UncheckedKeyword
	case c.Digest == "":
		return ""
	default:
		return c.Algorithm + ":" + c.Digest
	}
}

func digestLength(algo string) int {
	switch algo {
	case AlgorithmSHA256:
		return 64
	case AlgorithmSHA512:
		return 128
	default:
		return 0
	}
}

func isHexDigest(value string, expectedLen int) bool {
	if len(value) != expectedLen {
		return false
	}
	for _, ch := range value {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') && (ch < 'A' || ch > 'F') {
			return false
		}
	}
	return true
}
