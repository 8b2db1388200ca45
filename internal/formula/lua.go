package formula

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/keg/internal/platform"
)

// Lua DSL field names
const (
	luaFuncFormula     = "formula"
	luaFieldName       = "name"
	luaFieldVersion    = "version"
	luaFieldDesc       = "description"
	luaFieldHomepage   = "homepage"
	luaFieldURL        = "url"
	luaFieldSHA256     = "sha256"
	luaFieldChecksum   = "checksum"
	luaFieldUnchecked  = "unchecked"
	luaFieldLicense    = "license"
	luaFieldDependsOn  = "depends_on"
	luaFieldInstall    = "install"
	luaFieldCaveats    = "caveats"
	luaFieldSignature  = "signature"
	luaFieldLivecheck  = "livecheck"
	luaFieldKeyring    = "keyring"
	luaFieldRegex      = "regex"
	luaFieldAction     = "action"
	luaFieldDepVersion = "version"
)

// LuaParser evaluates Lua formula files. Each call to formula { ... } in a
// file declares one formula version.
type LuaParser struct {
	platform *platform.Info
}

// NewLuaParser creates a parser. When info is non-nil a read-only "platform"
// table is available to formula code.
func NewLuaParser(info *platform.Info) *LuaParser {
	return &LuaParser{platform: info}
}

// ParseString evaluates Lua source and returns the declared formulas.
func (p *LuaParser) ParseString(ctx context.Context, code string) ([]*Formula, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.platform != nil {
		if err := platform.InjectPlatformTable(L, p.platform); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	var docs []Document
	L.SetGlobal(luaFuncFormula, L.NewFunction(func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		doc, err := documentFromTable(tbl)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		docs = append(docs, doc)
		return 0
	}))

	if err := L.DoString(code); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ParseError{Message: "Lua error", Detail: err.Error()}
	}

	if len(docs) == 0 {
		return nil, &ParseError{Message: "no formula declared", Detail: "expected at least one formula { ... } call"}
	}

	formulas := make([]*Formula, 0, len(docs))
	for _, doc := range docs {
		f, err := Build(doc)
		if err != nil {
			return nil, err
		}
		formulas = append(formulas, f)
	}
	return formulas, nil
}

// documentFromTable extracts a Document from the table passed to formula.
func documentFromTable(tbl *lua.LTable) (Document, error) {
	var doc Document
	var err error

	strFields := []struct {
		key  string
		dest *string
	}{
		{luaFieldName, &doc.Name},
		{luaFieldVersion, &doc.Version},
		{luaFieldDesc, &doc.Description},
		{luaFieldHomepage, &doc.Homepage},
		{luaFieldURL, &doc.URL},
		{luaFieldSHA256, &doc.SHA256},
		{luaFieldChecksum, &doc.Checksum},
		{luaFieldLicense, &doc.License},
		{luaFieldCaveats, &doc.Caveats},
	}
	for _, field := range strFields {
		if *field.dest, err = stringField(tbl, field.key); err != nil {
			return Document{}, err
		}
	}

	if v := tbl.RawGetString(luaFieldUnchecked); v.Type() != lua.LTNil {
		b, ok := v.(lua.LBool)
		if !ok {
			return Document{}, fmt.Errorf("field %q must be a boolean", luaFieldUnchecked)
		}
		doc.Unchecked = bool(b)
	}

	if doc.DependsOn, err = extractDependencies(tbl.RawGetString(luaFieldDependsOn)); err != nil {
		return Document{}, err
	}

	if doc.Install, err = extractSteps(tbl.RawGetString(luaFieldInstall)); err != nil {
		return Document{}, err
	}

	if v := tbl.RawGetString(luaFieldSignature); v.Type() == lua.LTTable {
		sig := &Signature{}
		if sig.URL, err = stringField(v.(*lua.LTable), luaFieldURL); err != nil {
			return Document{}, fmt.Errorf("signature: %w", err)
		}
		if sig.Keyring, err = stringField(v.(*lua.LTable), luaFieldKeyring); err != nil {
			return Document{}, fmt.Errorf("signature: %w", err)
		}
		doc.Signature = sig
	}

	if v := tbl.RawGetString(luaFieldLivecheck); v.Type() == lua.LTTable {
		lc := &Livecheck{}
		if lc.URL, err = stringField(v.(*lua.LTable), luaFieldURL); err != nil {
			return Document{}, fmt.Errorf("livecheck: %w", err)
		}
		if lc.Regex, err = stringField(v.(*lua.LTable), luaFieldRegex); err != nil {
			return Document{}, fmt.Errorf("livecheck: %w", err)
		}
		doc.Livecheck = lc
	}

	return doc, nil
}

// stringField reads an optional string field. Numbers are rejected so that a
// version written as 1.10 is not silently read as 1.1.
func stringField(tbl *lua.LTable, key string) (string, error) {
	v := tbl.RawGetString(key)
	switch v.Type() {
	case lua.LTNil:
		return "", nil
	case lua.LTString:
		return v.String(), nil
	default:
		return "", fmt.Errorf("field %q must be a string, got %s", key, v.Type())
	}
}

// extractDependencies accepts strings ("zlib", "zlib@>=1.2") and tables
// ({ name = "zlib", version = ">=1.2" }).
func extractDependencies(v lua.LValue) ([]string, error) {
	if v.Type() == lua.LTNil {
		return nil, nil
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("field %q must be a table", luaFieldDependsOn)
	}

	var deps []string
	for i := 1; i <= tbl.Len(); i++ {
		item := tbl.RawGetInt(i)
		switch item.Type() {
		case lua.LTNil:
			// platform.when(...) returned nil
			continue
		case lua.LTString:
			deps = append(deps, item.String())
		case lua.LTTable:
			name, err := stringField(item.(*lua.LTable), luaFieldName)
			if err != nil {
				return nil, fmt.Errorf("depends_on[%d]: %w", i, err)
			}
			constraint, err := stringField(item.(*lua.LTable), luaFieldDepVersion)
			if err != nil {
				return nil, fmt.Errorf("depends_on[%d]: %w", i, err)
			}
			if constraint != "" {
				name += "@" + constraint
			}
			deps = append(deps, name)
		default:
			return nil, fmt.Errorf("depends_on[%d]: unexpected %s", i, item.Type())
		}
	}
	return deps, nil
}

// extractSteps reads the install list in order. A bare string is shorthand
// for a step without arguments.
func extractSteps(v lua.LValue) ([]map[string]any, error) {
	if v.Type() == lua.LTNil {
		return nil, nil
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("field %q must be a table", luaFieldInstall)
	}

	var steps []map[string]any
	for i := 1; i <= tbl.Len(); i++ {
		item := tbl.RawGetInt(i)
		switch item.Type() {
		case lua.LTNil:
			continue
		case lua.LTString:
			steps = append(steps, map[string]any{luaFieldAction: item.String()})
		case lua.LTTable:
			step := map[string]any{}
			var convErr error
			item.(*lua.LTable).ForEach(func(key, value lua.LValue) {
				if convErr != nil {
					return
				}
				if key.Type() != lua.LTString {
					convErr = fmt.Errorf("install[%d]: step keys must be strings", i)
					return
				}
				step[key.String()] = luaToGo(value)
			})
			if convErr != nil {
				return nil, convErr
			}
			steps = append(steps, step)
		default:
			return nil, fmt.Errorf("install[%d]: unexpected %s", i, item.Type())
		}
	}
	return steps, nil
}

// luaToGo converts scalars to strings and array tables to []any.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LTable:
		items := make([]any, 0, val.Len())
		for i := 1; i <= val.Len(); i++ {
			items = append(items, luaToGo(val.RawGetInt(i)))
		}
		return items
	case lua.LBool:
		return bool(val)
	default:
		if v.Type() == lua.LTNil {
			return nil
		}
		return v.String()
	}
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, trim the traceback.
func FormatError(err error, verbose bool) string {
	if parseErr, ok := err.(*ParseError); ok {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
