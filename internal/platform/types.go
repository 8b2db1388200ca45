// Package platform describes the host keg runs on. Formulas see it as a
// read-only Lua table so a single formula file can pick the right artifact
// URL and checksum per OS and architecture.
package platform

import (
	"context"
	"strings"
)

// Linux distribution families.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyGentoo  = "gentoo"
	FamilyUnknown = "unknown"
)

// Info is the detected host.
type Info struct {
	OS            string // GOOS, e.g. "linux", "darwin"
	Arch          string // normalized, e.g. "amd64", "arm64", "386", "arm"
	ArchRaw       string // value before normalization
	Distro        string // Linux distribution ID, e.g. "ubuntu"
	Family        string // canonical distribution family
	DistroVersion string
}

// Static returns an Info for a fixed OS and architecture. Used when loading
// formulas for a platform other than the host, and in tests.
func Static(goos, goarch string) *Info {
	arch, err := normalizeArch(goarch)
	if err != nil {
		arch = goarch
	}
	return &Info{OS: goos, Arch: arch, ArchRaw: goarch}
}

// Key returns "<os>_<arch>", the form used by platform.select in formulas.
func (i *Info) Key() string {
	return i.OS + "_" + i.Arch
}

// Triple returns "<os>-<arch>", the form commonly used in release asset names.
func (i *Info) Triple() string {
	return i.OS + "-" + i.Arch
}

// String implements fmt.Stringer.
func (i *Info) String() string {
	var b strings.Builder
	b.WriteString(i.Triple())
	if i.Distro != "" {
		b.WriteString(" (")
		b.WriteString(i.Distro)
		if i.DistroVersion != "" {
			b.WriteString(" ")
			b.WriteString(i.DistroVersion)
		}
		b.WriteString(")")
	}
	return b.String()
}

func (i *Info) IsLinux() bool   { return i.OS == "linux" }
func (i *Info) IsMacOS() bool   { return i.OS == "darwin" }
func (i *Info) IsWindows() bool { return i.OS == "windows" }

// IsAppleSilicon reports macOS on arm64.
func (i *Info) IsAppleSilicon() bool {
	return i.IsMacOS() && i.Arch == "arm64"
}

// InFamily reports whether the host is Linux in the given family.
func (i *Info) InFamily(family string) bool {
	return i.IsLinux() && i.Family == family
}

// Detector detects the host platform.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector always returns the same Info.
type StaticDetector struct {
	Info *Info
}

// Detect implements Detector.
func (d StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info := *d.Info
	return &info, nil
}
