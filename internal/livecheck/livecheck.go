// Package livecheck discovers the newest upstream release of a formula by
// scraping a page named in the formula with a regular expression.
package livecheck

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

// Fetcher retrieves a page. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Result is the outcome of checking one formula.
type Result struct {
	Formula  string
	Current  version.Version // newest version in the registry
	Latest   version.Version // newest version found upstream
	Versions []version.Version
	Outdated bool
}

// Checker runs livechecks.
type Checker struct {
	fetcher Fetcher
	logger  zerolog.Logger
}

// New returns a Checker that fetches pages with f.
func New(f Fetcher, logger zerolog.Logger) *Checker {
	return &Checker{fetcher: f, logger: logger}
}

// Check fetches f's livecheck page and reports the greatest version found and
// whether it is newer than f.
func (c *Checker) Check(ctx context.Context, f *formula.Formula) (*Result, error) {
	if f.Livecheck == nil {
		return nil, kerr.Newf(kerr.CodeInvalidFormula, "%s has no livecheck block", f.Name).With("formula", f.Name)
	}
	re, err := regexp.Compile(f.Livecheck.Regex)
	if err != nil {
		return nil, kerr.Wrapf(err, kerr.CodeInvalidFormula, "%s: livecheck regex", f.Name).With("formula", f.Name)
	}

	page, err := c.fetcher.Fetch(ctx, f.Livecheck.URL)
	if err != nil {
		return nil, err
	}

	versions := Extract(re, page)
	if len(versions) == 0 {
		return nil, kerr.Newf(kerr.CodeNotFound, "%s: no versions matched %s at %s", f.Name, f.Livecheck.Regex, f.Livecheck.URL).
			With("formula", f.Name)
	}
	latest, _ := version.Max(versions)

	res := &Result{
		Formula:  f.Name,
		Current:  f.Version,
		Latest:   latest,
		Versions: versions,
		Outdated: latest.Compare(f.Version) > 0,
	}
	c.logger.Debug().Str("formula", f.Name).Str("current", f.Version.String()).
		Str("latest", latest.String()).Int("candidates", len(versions)).Msg("livecheck")
	return res, nil
}

// Extract returns the distinct versions matched by re in page, newest first.
// The first capture group is used when the regex has one, the whole match
// otherwise. Matches that do not parse as versions are skipped.
func Extract(re *regexp.Regexp, page []byte) []version.Version {
	seen := map[string]bool{}
	var out []version.Version
	for _, m := range re.FindAllSubmatch(page, -1) {
		raw := m[0]
		if len(m) > 1 {
			raw = m[1]
		}
		v, err := version.Parse(string(raw))
		if err != nil {
			continue
		}
		key := v.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	version.SortDescending(out)
	return out
}

// String renders "name current -> latest".
func (r *Result) String() string {
	if r.Outdated {
		return fmt.Sprintf("%s %s -> %s", r.Formula, r.Current, r.Latest)
	}
	return fmt.Sprintf("%s %s (up to date)", r.Formula, r.Current)
}
