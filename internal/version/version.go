// Package version implements formula version ordering and constraint matching.
//
// Versions are compared as ordered tuples of tokens rather than as strings, so
// "1.9" sorts before "1.10". A token is a run of digits (compared numerically)
// or a run of letters (compared lexically, case-insensitive). Tokens are
// separated by '.', '-', '_' or '+'.
package version

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidVersion is returned for strings that cannot be parsed as versions.
var ErrInvalidVersion = errors.New("invalid version")

type token struct {
	numeric bool
	num     uint64
	str     string
}

func (t token) compare(o token) int {
	switch {
	case t.numeric && o.numeric:
		switch {
		case t.num < o.num:
			return -1
		case t.num > o.num:
			return 1
		}
		return 0
	case t.numeric:
		// Numbers sort after letters: 1.0.1 > 1.0.rc1
		return 1
	case o.numeric:
		return -1
	default:
		return strings.Compare(t.str, o.str)
	}
}

func (t token) String() string {
	if t.numeric {
		return strconv.FormatUint(t.num, 10)
	}
	return t.str
}

// Version is a parsed, comparable version.
type Version struct {
	raw    string
	tokens []token
}

// Parse parses s into a Version. A leading "v" is accepted and ignored. The
// first token must be numeric.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	body := raw
	if len(body) > 1 && (body[0] == 'v' || body[0] == 'V') && unicode.IsDigit(rune(body[1])) {
		body = body[1:]
	}
	if body == "" {
		return Version{}, fmt.Errorf("%w: empty string", ErrInvalidVersion)
	}

	var tokens []token
	var cur strings.Builder
	curDigits := false
	lastSep := true

	flush := func() error {
		if cur.Len() == 0 {
			return nil
		}
		text := cur.String()
		cur.Reset()
		if curDigits {
			n, err := strconv.ParseUint(text, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: numeric component %q out of range", ErrInvalidVersion, text)
			}
			tokens = append(tokens, token{numeric: true, num: n})
			return nil
		}
		tokens = append(tokens, token{str: strings.ToLower(text)})
		return nil
	}

	for _, r := range body {
		switch {
		case r == '.' || r == '-' || r == '_' || r == '+':
			if lastSep {
				return Version{}, fmt.Errorf("%w: %q has an empty component", ErrInvalidVersion, raw)
			}
			if err := flush(); err != nil {
				return Version{}, err
			}
			lastSep = true
		case unicode.IsDigit(r) || unicode.IsLetter(r):
			isDigit := unicode.IsDigit(r)
			if cur.Len() > 0 && isDigit != curDigits {
				if err := flush(); err != nil {
					return Version{}, err
				}
			}
			curDigits = isDigit
			cur.WriteRune(r)
			lastSep = false
		default:
			return Version{}, fmt.Errorf("%w: %q contains %q", ErrInvalidVersion, raw, r)
		}
	}
	if lastSep {
		return Version{}, fmt.Errorf("%w: %q ends with a separator", ErrInvalidVersion, raw)
	}
	if err := flush(); err != nil {
		return Version{}, err
	}
	if !tokens[0].numeric {
		return Version{}, fmt.Errorf("%w: %q must start with a number", ErrInvalidVersion, raw)
	}

	return Version{raw: raw, tokens: tokens}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as originally written.
func (v Version) String() string {
	return v.raw
}

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool {
	return len(v.tokens) == 0
}

// Compare returns -1, 0 or 1 when v is less than, equal to or greater than o.
//
// Missing trailing numeric tokens count as zero, so 1.0 == 1.0.0. A trailing
// alphabetic token marks a pre-release, so 1.0.0-rc1 < 1.0.0.
func (v Version) Compare(o Version) int {
	n := len(v.tokens)
	if len(o.tokens) > n {
		n = len(o.tokens)
	}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(v.tokens):
			return -compareMissing(o.tokens[i])
		case i >= len(o.tokens):
			return compareMissing(v.tokens[i])
		}
		if c := v.tokens[i].compare(o.tokens[i]); c != 0 {
			return c
		}
	}
	return 0
}

// compareMissing compares a present token against an absent one.
func compareMissing(t token) int {
	if !t.numeric {
		return -1
	}
	if t.num == 0 {
		return 0
	}
	return 1
}

// Equal reports whether v and o compare equal.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

// LessThan reports whether v sorts before o.
func (v Version) LessThan(o Version) bool {
	return v.Compare(o) < 0
}

// hasPrefix reports whether v's tokens start with p's tokens.
func (v Version) hasPrefix(p Version) bool {
	if len(p.tokens) > len(v.tokens) {
		return false
	}
	for i, t := range p.tokens {
		if t.compare(v.tokens[i]) != 0 {
			return false
		}
	}
	return true
}

// bump returns the smallest version that is not matched by a pessimistic
// constraint on v: the last numeric component before the final one is
// incremented and everything after it is dropped.
func (v Version) bump(keep int) Version {
	var nums []uint64
	for _, t := range v.tokens {
		if !t.numeric {
			break
		}
		nums = append(nums, t.num)
	}
	if keep > len(nums) {
		keep = len(nums)
	}
	if keep < 1 {
		keep = 1
	}
	nums = nums[:keep]
	nums[keep-1]++

	parts := make([]string, len(nums))
	tokens := make([]token, len(nums))
	for i, n := range nums {
		parts[i] = strconv.FormatUint(n, 10)
		tokens[i] = token{numeric: true, num: n}
	}
	return Version{raw: strings.Join(parts, "."), tokens: tokens}
}

// numericLen returns the number of leading numeric tokens.
func (v Version) numericLen() int {
	n := 0
	for _, t := range v.tokens {
		if !t.numeric {
			break
		}
		n++
	}
	return n
}

// SortDescending sorts versions from newest to oldest.
func SortDescending(vs []Version) {
	sort.SliceStable(vs, func(i, j int) bool {
		return vs[i].Compare(vs[j]) > 0
	})
}

// Max returns the greatest version in vs and false if vs is empty.
func Max(vs []Version) (Version, bool) {
	if len(vs) == 0 {
		return Version{}, false
	}
	best := vs[0]
	for _, v := range vs[1:] {
		if v.Compare(best) > 0 {
			best = v
		}
	}
	return best, true
}
