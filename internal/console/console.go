// Package console prints a running debate for a human reader.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/alienxp03/deepdiscussion/internal/core"
)

const width = 80

// Printer writes entries and notices to w. Colors are used only on a terminal
// and when NO_COLOR is unset.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	color bool

	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	notice  lipgloss.Style
	agree   lipgloss.Style
	reject  lipgloss.Style
	final   lipgloss.Style
	divider string

	md *glamour.TermRenderer
}

// New returns a printer that detects color support on w.
func New(w io.Writer) *Printer {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = term.IsTerminal(int(f.Fd())) && os.Getenv("NO_COLOR") == ""
	}
	return newPrinter(w, useColor)
}

// NewPlain returns a printer that never emits escape codes.
func NewPlain(w io.Writer) *Printer {
	return newPrinter(w, false)
}

func newPrinter(w io.Writer, color bool) *Printer {
	p := &Printer{w: w, color: color, divider: strings.Repeat("─", 60)}
	if color {
		p.title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#B4BEFE"))
		p.label = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89B4FA"))
		p.muted = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
		p.notice = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
		p.agree = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A6E3A1"))
		p.reject = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F38BA8"))
		p.final = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A6E3A1")).
			Border(lipgloss.RoundedBorder()).Padding(0, 1)
	}
	// Render falls back to the raw text when the renderer is unavailable.
	style := glamour.WithStandardStyle("notty")
	if color {
		style = glamour.WithAutoStyle()
	}
	if r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width)); err == nil {
		p.md = r
	}
	return p
}

// Header prints the question and roster at the start of a debate.
func (p *Printer) Header(debateID, question string, participants []core.Participant) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.printf("\n%s\n", p.title.Render("💬 "+question))
	p.printf("   ID: %s\n", debateID)
	p.printf("   参与者 (%d):\n", len(participants))
	for _, m := range participants {
		if m.Provider == "" {
			p.printf("     • %s\n", m.ID)
			continue
		}
		model := ""
		if m.Model != "" && m.Model != m.ID {
			model = "/" + m.Model
		}
		p.printf("     • %s (%s%s)\n", m.ID, m.Provider, model)
	}
	p.printf("%s\n", p.muted.Render(p.divider))
}

// Entry prints one recorded entry. It matches engine.Callbacks.OnEntry.
func (p *Printer) Entry(e core.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case core.KindQuestion:
		return
	case core.KindHostChange:
		p.printf("\n%s\n", p.notice.Render("» "+e.Label()))
	case core.KindCritique:
		p.printf("\n%s %s\n", p.label.Render(e.Label()), p.verdict(e))
		p.printf("%s\n", strings.TrimSpace(e.Text))
	case core.KindFinalSolution:
		p.printf("\n%s\n", p.muted.Render(strings.Repeat("═", 60)))
		p.printf("%s\n", p.final.Render(fmt.Sprintf("🏁 最佳方案 (%s, 第 %d 轮, %s)", e.Participant, e.Round, e.Reason)))
		p.printf("%s\n", p.markdown(e.Text))
		if len(e.Ledger) > 0 {
			p.printf("%s\n", p.muted.Render("挑战次数: "+core.FormatLedger(e.Ledger)))
		}
	default:
		p.printf("\n%s\n", p.label.Render(e.Label()))
		p.printf("%s\n", strings.TrimSpace(e.Text))
	}
}

// Notice prints an engine announcement. It matches engine.Callbacks.OnNotice.
func (p *Printer) Notice(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s\n", p.notice.Render(msg))
}

// Markdown renders md for the terminal.
func (p *Printer) Markdown(md string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s\n", p.markdown(md))
}

func (p *Printer) verdict(e core.Entry) string {
	switch {
	case e.Severe:
		return p.reject.Render("[严重不足]")
	case e.Agreement == core.AgreementNo:
		return p.reject.Render("[不同意]")
	default:
		return p.agree.Render("[同意]")
	}
}

func (p *Printer) markdown(md string) string {
	if p.md == nil {
		return md
	}
	out, err := p.md.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}
