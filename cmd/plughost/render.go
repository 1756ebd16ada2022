package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dshills/plughost/api"
	"github.com/dshills/plughost/internal/plugin"
)

const rowFormat = "%-20s │ %-10s │ %-26s │ %-10s │ %s"

// styles are bound to the output they render for, so piped output stays
// plain.
type styles struct {
	header lipgloss.Style
	muted  lipgloss.Style
	ok     lipgloss.Style
	fail   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("240")),
		ok:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
		fail:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

// renderPlugins renders handles as a table.
func (s styles) renderPlugins(handles []*plugin.Handle) string {
	if len(handles) == 0 {
		return s.muted.Render("No plugins found.")
	}

	rows := make([]string, 0, len(handles)+2)
	rows = append(rows, s.header.Render(fmt.Sprintf(rowFormat, "NAME", "VERSION", "STAGES", "STATE", "UPDATE")))
	for _, h := range handles {
		rows = append(rows, fmt.Sprintf(rowFormat,
			truncate(h.Name(), 20),
			truncate(h.Field(api.FieldVersion), 10),
			h.Stages(),
			h.State(),
			h.UpdateStatus(),
		))
	}
	rows = append(rows, s.muted.Render(fmt.Sprintf("%d plugin(s)", len(handles))))
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// renderStatus renders the outcome of a lifecycle transition.
func (s styles) renderStatus(name string, status plugin.Status) string {
	style := s.ok
	if !status.OK() {
		style = s.fail
	}
	return fmt.Sprintf("%s: %s", name, style.Render(status.String()))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-1]) + "…"
}
