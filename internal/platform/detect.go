package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// HostDetector detects the running host.
type HostDetector struct{}

// NewDetector returns a Detector for the running host.
func NewDetector() Detector {
	return HostDetector{}
}

// Detect uses runtime for OS and architecture and gopsutil for the Linux
// distribution. A failed distribution lookup is not an error; formulas
// rarely need it. A cancelled context is.
func (HostDetector) Detect(ctx context.Context) (*Info, error) {
	arch, err := normalizeArch(runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	info := &Info{OS: runtime.GOOS, Arch: arch, ArchRaw: runtime.GOARCH}

	if !info.IsLinux() {
		return info, nil
	}

	id, family, ver, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}

	if id = normalizeID(id); id != "" {
		info.Distro = id
		info.Family = mapFamily(family)
		info.DistroVersion = normalizeID(ver)
	}
	return info, nil
}
