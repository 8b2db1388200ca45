package formula

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/keg/internal/platform"
)

// Extensions recognised as formula files.
var Extensions = []string{".lua", ".toml", ".yaml", ".yml"}

// IsFormulaFile reports whether path has a formula file extension.
func IsFormulaFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ParseTOML decodes a single TOML formula.
func ParseTOML(data []byte) (*Formula, error) {
	var doc Document
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Message: "TOML error", Detail: err.Error()}
	}
	return Build(doc)
}

// ParseYAML decodes a single YAML formula.
func ParseYAML(data []byte) (*Formula, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Message: "YAML error", Detail: err.Error()}
	}
	return Build(doc)
}

// LoadFile reads and parses one formula file. Lua files may declare several
// versions; TOML and YAML files declare exactly one.
func LoadFile(ctx context.Context, path string, info *platform.Info) ([]*Formula, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read formula file: %w", err)
	}

	var formulas []*Formula
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		formulas, err = NewLuaParser(info).ParseString(ctx, string(data))
	case ".toml":
		var f *Formula
		if f, err = ParseTOML(data); err == nil {
			formulas = []*Formula{f}
		}
	case ".yaml", ".yml":
		var f *Formula
		if f, err = ParseYAML(data); err == nil {
			formulas = []*Formula{f}
		}
	default:
		return nil, fmt.Errorf("unsupported formula file: %s", path)
	}
	if err != nil {
		if parseErr, ok := err.(*ParseError); ok {
			parseErr.Source = path
			return nil, parseErr
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	for _, f := range formulas {
		f.Source = path
	}
	return formulas, nil
}
