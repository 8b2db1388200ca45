package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pterm/pterm"
)

var (
	headingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// Printer writes user-facing output. Results go to Out; progress, warnings
// and errors go to Err. It is safe for concurrent use.
type Printer struct {
	Out    io.Writer
	Err    io.Writer
	Format Format
	// Width wraps rendered caveats. Zero leaves wrapping to glamour.
	Width int

	mu sync.Mutex
}

// NewPrinter creates a Printer. format must not be FormatAuto; see
// Format.Resolve.
func NewPrinter(out, errOut io.Writer, format Format) *Printer {
	return &Printer{Out: out, Err: errOut, Format: format}
}

func (p *Printer) styled() bool {
	return p.Format == FormatTerminal
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.styled() {
		return text
	}
	return s.Render(text)
}

// Heading prints "==> text" to Err.
func (p *Printer) Heading(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.Err, "%s %s\n", p.style(headingStyle, "==>"), fmt.Sprintf(format, args...))
}

// Success prints a confirmation line to Err.
func (p *Printer) Success(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.Err, "%s %s\n", p.style(successStyle, "✓"), fmt.Sprintf(format, args...))
}

// Warning prints "Warning: text" to Err.
func (p *Printer) Warning(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.Err, "%s %s\n", p.style(warningStyle, "Warning:"), fmt.Sprintf(format, args...))
}

// Error prints "Error: text" to Err.
func (p *Printer) Error(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.Err, "%s %s\n", p.style(errorStyle, "Error:"), fmt.Sprintf(format, args...))
}

// Println writes a result line to Out.
func (p *Printer) Println(args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.Out, args...)
}

// Printf writes formatted results to Out.
func (p *Printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.Out, format, args...)
}

// Markdown renders text as markdown in terminal mode and returns it
// unchanged otherwise, or when rendering fails.
func (p *Printer) Markdown(text string) string {
	if !p.styled() {
		return text
	}
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if p.Width > 0 {
		opts = append(opts, glamour.WithWordWrap(p.Width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}

// Caveats prints a formula's rendered caveats to Out under a heading.
func (p *Printer) Caveats(formula, text string) {
	body := p.Markdown(text)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.Out, "%s Caveats for %s\n%s", p.style(headingStyle, "==>"), formula, body)
	if !strings.HasSuffix(body, "\n") {
		fmt.Fprintln(p.Out)
	}
}

// Table prints rows under header to Out.
func (p *Printer) Table(header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)

	table := pterm.DefaultTable.WithHasHeader().WithData(data)
	if !p.styled() {
		table = table.
			WithSeparator("  ").
			WithStyle(pterm.NewStyle()).
			WithSeparatorStyle(pterm.NewStyle()).
			WithHeaderStyle(pterm.NewStyle())
	}
	out, err := table.Srender()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = fmt.Fprintln(p.Out, out)
	return err
}
