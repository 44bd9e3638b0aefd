package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-srcbuild/internal/progress"
	"github.com/randomizedcoder/go-srcbuild/internal/supervisor"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// fixedRows is the height taken by everything except the output tail.
const fixedRows = 16

func (m Model) renderDashboard() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	if m.download != nil {
		sections = append(sections, m.renderDownload())
	}
	sections = append(sections, m.renderOutput())
	if m.done != nil {
		sections = append(sections, m.renderResult())
	}
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" go-srcbuild │ %s │ %s │ Elapsed: %s ",
		m.command,
		GetStateLabel(m.state),
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Download Section
// =============================================================================

func (m Model) renderDownload() string {
	snap := *m.download

	barWidth := m.width - 20
	if barWidth < 20 {
		barWidth = 20
	}
	bar := RenderProgressBar(snap.Percentage/100, barWidth)

	size := formatBytes(snap.Transferred)
	if snap.KnownTotal() {
		size += " / " + formatBytes(*snap.Total)
	} else if snap.Transferred > 0 {
		size += " (size unknown)"
	}

	var status string
	switch {
	case m.downloaded:
		status = statusOK.Render("✓ Download finished")
	case snap.Percentage == progress.UnknownTotalPercentage && !snap.KnownTotal():
		status = statusInfo.Render("Downloading...")
	default:
		status = statusInfo.Render(fmt.Sprintf("Downloading... %.1f%%", snap.Percentage))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Download"),
		bar,
		RenderKeyValue("Received", size),
		RenderKeyValue("Rate", formatByteRate(snap.Rate)),
		status,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Output Tail
// =============================================================================

func (m Model) renderOutput() string {
	rows := m.height - fixedRows
	if m.download == nil {
		rows += 7
	}
	if rows < 3 {
		rows = 3
	}

	lines := m.lines
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}

	maxWidth := m.width - 6
	if maxWidth < 20 {
		maxWidth = 20
	}

	var b strings.Builder
	if len(lines) == 0 {
		b.WriteString(dimStyle.Render("(no output yet)"))
	}
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(GetLineStyle(line).Render(truncate(line, maxWidth)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Output"),
		b.String(),
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Result
// =============================================================================

func (m Model) renderResult() string {
	d := m.done
	if d.Err != nil {
		return statusError.Render("✗ " + d.Err.Error())
	}
	if d.Summary.Outcome == supervisor.OutcomeAborted {
		return statusWarning.Render("■ " + d.Summary.Message)
	}
	return statusOK.Render(fmt.Sprintf("✓ %s (%s)", d.Summary.Message, formatDuration(d.Summary.Duration)))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	var keys []string
	if m.done == nil {
		if m.abortSent {
			keys = append(keys, statusWarning.Render("abort requested"))
		} else {
			keys = append(keys, "a: abort")
		}
	}
	keys = append(keys, "q: quit")

	target := ""
	if m.target != "" {
		target = " │ target: " + m.target
	}
	return footerStyle.Render(strings.Join(keys, "  ") + target)
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
