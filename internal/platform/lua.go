package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// InjectPlatformTable installs a read-only global "platform" table:
//
//	platform.os, platform.arch, platform.key ("linux_amd64"), platform.triple
//	platform.is_linux, platform.is_macos, platform.is_windows, platform.is_apple_silicon
//	platform.distro = { id, family, version } or nil
//	platform.when(cond, value)
//	platform.select{ linux_amd64 = ..., darwin = ..., default = ... }
func InjectPlatformTable(L *lua.LState, info *Info) error {
	t := L.NewTable()

	L.SetField(t, "os", lua.LString(info.OS))
	L.SetField(t, "arch", lua.LString(info.Arch))
	L.SetField(t, "arch_raw", lua.LString(info.ArchRaw))
	L.SetField(t, "key", lua.LString(info.Key()))
	L.SetField(t, "triple", lua.LString(info.Triple()))

	L.SetField(t, "is_linux", lua.LBool(info.IsLinux()))
	L.SetField(t, "is_macos", lua.LBool(info.IsMacOS()))
	L.SetField(t, "is_windows", lua.LBool(info.IsWindows()))
	L.SetField(t, "is_apple_silicon", lua.LBool(info.IsAppleSilicon()))

	if info.IsLinux() && info.Distro != "" {
		d := L.NewTable()
		L.SetField(d, "id", lua.LString(info.Distro))
		L.SetField(d, "family", lua.LString(info.Family))
		L.SetField(d, "version", lua.LString(info.DistroVersion))
		L.SetField(t, "distro", d)
	}

	L.SetField(t, "when", L.NewFunction(func(L *lua.LState) int {
		if L.CheckBool(1) {
			L.Push(L.Get(2))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	// select looks up the most specific key first: os_arch, then os, then default.
	L.SetField(t, "select", L.NewFunction(func(L *lua.LState) int {
		choices := L.CheckTable(1)
		for _, key := range []string{info.Key(), info.OS, "default"} {
			if v := choices.RawGetString(key); v.Type() != lua.LTNil {
				L.Push(v)
				return 1
			}
		}
		L.Push(lua.LNil)
		return 1
	}))

	L.SetGlobal("platform", readOnly(L, t))
	return nil
}

// readOnly wraps table in an empty proxy whose metatable forwards reads and
// rejects writes.
func readOnly(L *lua.LState, table *lua.LTable) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", table)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("platform table is read-only")
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)
	return proxy
}
