package install

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
)

// Notifier receives progress from the installer. Implementations must be safe
// for concurrent use when installs run in parallel.
type Notifier interface {
	StateChanged(formula string, from, to State)
	Warning(formula, message string)
	Caveats(formula, text string)
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) StateChanged(string, State, State) {}
func (NopNotifier) Warning(string, string) {}
func (NopNotifier) Caveats(string, string) {}

// CaveatData is the data available to a caveats template.
type CaveatData struct {
	Name    string
	Version string
	Prefix  string
	BinDir  string
	Root    string
}

// RenderCaveats executes the formula's caveats template. An empty template
// renders to "".
func RenderCaveats(f *formula.Formula, data CaveatData) (string, error) {
	if f.Caveats == "" {
		return "", nil
	}
	tmpl, err := template.New(f.Name).Option("missingkey=error").Parse(f.Caveats)
	if err != nil {
		return "", fmt.Errorf("parse caveats: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render caveats: %w", err)
	}
	return buf.String(), nil
}
