package platform

import (
	"context"
	"runtime"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func evalLua(t *testing.T, info *Info, code string) lua.LValue {
	t.Helper()
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, info); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}
	if err := L.DoString(code); err != nil {
		t.Fatalf("DoString(%q) error = %v", code, err)
	}
	got := L.Get(-1)
	L.Pop(1)
	return got
}

func TestInjectPlatformTable_Fields(t *testing.T) {
	info := &Info{OS: "linux", Arch: "amd64", ArchRaw: "x86_64", Distro: "ubuntu", Family: FamilyDebian, DistroVersion: "24.04"}

	tests := []struct {
		name string
		code string
		want string
	}{
		{"os", `return platform.os`, "linux"},
		{"arch", `return platform.arch`, "amd64"},
		{"arch_raw", `return platform.arch_raw`, "x86_64"},
		{"key", `return platform.key`, "linux_amd64"},
		{"triple", `return platform.triple`, "linux-amd64"},
		{"is_linux", `return platform.is_linux`, "true"},
		{"is_macos", `return platform.is_macos`, "false"},
		{"distro_id", `return platform.distro.id`, "ubuntu"},
		{"distro_family", `return platform.distro.family`, "debian"},
		{"distro_version", `return platform.distro.version`, "24.04"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalLua(t, info, tt.code).String(); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestInjectPlatformTable_NoDistroOnMacOS(t *testing.T) {
	got := evalLua(t, Static("darwin", "arm64"), `return platform.distro`)
	if got.Type() != lua.LTNil {
		t.Errorf("platform.distro = %v, want nil", got)
	}
	if got := evalLua(t, Static("darwin", "arm64"), `return platform.is_apple_silicon`); got != lua.LTrue {
		t.Errorf("is_apple_silicon = %v, want true", got)
	}
}

func TestInjectPlatformTable_ReadOnly(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, Static("linux", "amd64")); err != nil {
		t.Fatal(err)
	}

	for _, code := range []string{
		`platform.os = "windows"`,
		`platform.new_field = 1`,
		`setmetatable(platform, {})`,
	} {
		if err := L.DoString(code); err == nil {
			t.Errorf("DoString(%q) succeeded, want error", code)
		}
	}
}

func TestInjectPlatformTable_When(t *testing.T) {
	info := Static("linux", "amd64")
	if got := evalLua(t, info, `return platform.when(platform.is_linux, "yes")`).String(); got != "yes" {
		t.Errorf("when(true) = %q, want yes", got)
	}
	if got := evalLua(t, info, `return platform.when(platform.is_macos, "yes")`); got.Type() != lua.LTNil {
		t.Errorf("when(false) = %v, want nil", got)
	}
}

func TestInjectPlatformTable_Select(t *testing.T) {
	code := `return platform.select{
		linux_amd64 = "linux-x64.tar.gz",
		darwin = "macos-universal.tar.gz",
		default = "source.tar.gz",
	}`

	tests := []struct {
		name string
		info *Info
		want string
	}{
		{"exact_key", Static("linux", "amd64"), "linux-x64.tar.gz"},
		{"os_only", Static("darwin", "arm64"), "macos-universal.tar.gz"},
		{"default", Static("linux", "arm64"), "source.tar.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalLua(t, tt.info, code).String(); got != tt.want {
				t.Errorf("select = %q, want %q", got, tt.want)
			}
		})
	}

	if got := evalLua(t, Static("windows", "amd64"), `return platform.select{ linux = "x" }`); got.Type() != lua.LTNil {
		t.Errorf("select without match = %v, want nil", got)
	}
}

func TestNormalizeArch(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"amd64", "amd64", false},
		{"x86_64", "amd64", false},
		{"aarch64", "arm64", false},
		{"ARM64", "arm64", false},
		{"i686", "386", false},
		{"armv7l", "arm", false},
		{"riscv64", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeArch(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeArch(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeArch(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMapFamily(t *testing.T) {
	tests := map[string]string{
		"debian":   FamilyDebian,
		"Ubuntu":   FamilyDebian,
		" rhel ":   FamilyRHEL,
		"opensuse": FamilySUSE,
		"plan9":    FamilyUnknown,
		"":         FamilyUnknown,
	}
	for in, want := range tests {
		if got := mapFamily(in); got != want {
			t.Errorf("mapFamily(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInfoString(t *testing.T) {
	info := &Info{OS: "linux", Arch: "arm64", Distro: "alpine", DistroVersion: "3.20"}
	if got, want := info.String(), "linux-arm64 (alpine 3.20)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := Static("darwin", "x86_64").String(), "darwin-amd64"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestHostDetector(t *testing.T) {
	info, err := NewDetector().Detect(context.Background())
	if err != nil {
		if _, archErr := normalizeArch(runtime.GOARCH); archErr != nil {
			t.Skipf("host architecture %s not supported", runtime.GOARCH)
		}
		t.Fatalf("Detect() error = %v", err)
	}
	if info.OS != runtime.GOOS {
		t.Errorf("OS = %q, want %q", info.OS, runtime.GOOS)
	}
	if info.ArchRaw != runtime.GOARCH {
		t.Errorf("ArchRaw = %q, want %q", info.ArchRaw, runtime.GOARCH)
	}
	if !info.IsLinux() && info.Distro != "" {
		t.Errorf("Distro = %q on non-Linux host", info.Distro)
	}
}

func TestStaticDetector(t *testing.T) {
	d := StaticDetector{Info: Static("linux", "amd64")}
	info, err := d.Detect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	info.OS = "changed"
	if d.Info.OS != "linux" {
		t.Error("Detect returned the shared Info instead of a copy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(ctx); err == nil {
		t.Error("Detect with cancelled context succeeded")
	}
}
