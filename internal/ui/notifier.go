package ui

import (
	"github.com/ZebulonRouseFrantzich/keg/internal/install"
)

// Notifier reports installer progress through a Printer.
type Notifier struct {
	p *Printer
}

var _ install.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier printing to p.
func NewNotifier(p *Printer) *Notifier {
	return &Notifier{p: p}
}

// StateChanged prints a line when an install starts a new phase or fails.
func (n *Notifier) StateChanged(formula string, from, to install.State) {
	switch to {
	case install.StateResolved:
		n.p.Heading("Fetching %s", formula)
	case install.StateFetched:
		n.p.Heading("Verifying %s", formula)
	case install.StateVerified:
		n.p.Heading("Installing %s", formula)
	case install.StateInstalled:
		n.p.Success("Installed %s", formula)
	case install.StateFailed:
		n.p.Error("%s failed after %s", formula, from)
	}
}

// Warning prints an installer warning.
func (n *Notifier) Warning(formula, message string) {
	n.p.Warning("%s: %s", formula, message)
}

// Caveats prints rendered caveats.
func (n *Notifier) Caveats(formula, text string) {
	n.p.Caveats(formula, text)
}
