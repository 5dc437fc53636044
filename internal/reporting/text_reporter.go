package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

const maxMessageWidth = 96

// TextReporter prints a terminal summary. Colors are only used when the
// writer is a terminal.
type TextReporter struct {
	w io.WriteCloser

	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	dim     lipgloss.Style
	bold    lipgloss.Style
}

func NewTextReporter(w io.WriteCloser) *TextReporter {
	re := lipgloss.NewRenderer(w)
	return &TextReporter{
		w:       w,
		success: re.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}),
		warning: re.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),
		failure: re.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).Bold(true),
		dim:     re.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),
		bold:    re.NewStyle().Bold(true),
	}
}

func (r *TextReporter) Write(report *schemas.RunReport) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s  %s\n",
		r.bold.Render("Scenario"), report.Scenario, r.dim.Render("run "+report.ID))

	nameWidth := 0
	for _, o := range report.Steps {
		nameWidth = max(nameWidth, runewidth.StringWidth(o.Name))
	}
	for _, o := range report.Steps {
		fmt.Fprintf(&b, "  %2d %s %s %-8s %s\n",
			o.Index,
			r.statusStyle(o.Status).Render(fmt.Sprintf("%-7s", o.Status)),
			runewidth.FillRight(o.Name, nameWidth),
			o.Duration().Round(time.Millisecond),
			r.dim.Render(runewidth.Truncate(r.detail(o), maxMessageWidth, "...")))
	}

	counts := report.Counts()
	fmt.Fprintf(&b, "\n%s %s  (%d ok, %d warnings, %d errors, %d skipped, %d events, %s)\n",
		r.bold.Render("Verdict"),
		r.verdictStyle(report.Verdict).Render(strings.ToUpper(report.Verdict.String())),
		counts[schemas.StatusSuccess], counts[schemas.StatusWarning],
		counts[schemas.StatusError], counts[schemas.StatusSkipped],
		len(report.Events), report.Duration().Round(time.Millisecond))
	if report.TimedOut {
		b.WriteString(r.failure.Render("Run timed out.") + "\n")
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *TextReporter) Close() error { return r.w.Close() }

func (r *TextReporter) detail(o schemas.StepOutcome) string {
	msg := o.Message
	if o.ErrorKind != schemas.KindNone {
		msg = fmt.Sprintf("[%s] %s", o.ErrorKind, msg)
	}
	if len(o.Events) > 0 {
		msg += fmt.Sprintf(" (%d events)", len(o.Events))
	}
	return msg
}

func (r *TextReporter) statusStyle(s schemas.StepStatus) lipgloss.Style {
	switch s {
	case schemas.StatusSuccess:
		return r.success
	case schemas.StatusWarning:
		return r.warning
	case schemas.StatusError:
		return r.failure
	default:
		return r.dim
	}
}

func (r *TextReporter) verdictStyle(v schemas.Verdict) lipgloss.Style {
	switch v {
	case schemas.VerdictPassed:
		return r.success
	case schemas.VerdictDegraded:
		return r.warning
	default:
		return r.failure
	}
}
