package platform

import (
	"fmt"
	"strings"
)

var familyMap = map[string]string{
	"debian":   FamilyDebian,
	"ubuntu":   FamilyDebian,
	"rhel":     FamilyRHEL,
	"centos":   FamilyRHEL,
	"rocky":    FamilyRHEL,
	"fedora":   FamilyFedora,
	"suse":     FamilySUSE,
	"opensuse": FamilySUSE,
	"arch":     FamilyArch,
	"manjaro":  FamilyArch,
	"alpine":   FamilyAlpine,
	"gentoo":   FamilyGentoo,
}

var archMap = map[string]string{
	"amd64":   "amd64",
	"x86_64":  "amd64",
	"x64":     "amd64",
	"arm64":   "arm64",
	"aarch64": "arm64",
	"386":     "386",
	"i386":    "386",
	"i686":    "386",
	"x86":     "386",
	"arm":     "arm",
	"armv6l":  "arm",
	"armv7l":  "arm",
}

// normalizeArch maps GOARCH and uname-style names to GOARCH names.
func normalizeArch(arch string) (string, error) {
	if a, ok := archMap[strings.ToLower(strings.TrimSpace(arch))]; ok {
		return a, nil
	}
	return "", fmt.Errorf("unsupported architecture: %s", arch)
}

// NormalizeArch is normalizeArch for callers outside the package, such as
// step executors matching archive names.
func NormalizeArch(arch string) (string, error) {
	return normalizeArch(arch)
}

func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func mapFamily(family string) string {
	if canonical, ok := familyMap[normalizeID(family)]; ok {
		return canonical
	}
	return FamilyUnknown
}
