package cli

import (
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/kimhsiao/ferrysync/backend/internal/connectivity"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
)

// Palette
const (
	colorOK      = "#22c55e"
	colorWarn    = "#f59e0b"
	colorError   = "#ef4444"
	colorAccent  = "#38bdf8"
	colorMuted   = "#94a3b8"
	colorHeading = "#e2e8f0"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color(colorOK))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorWarn))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorError))
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted)).Width(12)
	headingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorHeading)).Bold(true)
)

// indicatorStyle picks the colour for a connectivity indicator line.
func indicatorStyle(s connectivity.State) lipgloss.Style {
	switch {
	case s.IsSyncing:
		return accentStyle
	case !s.Online():
		return errorStyle
	case s.PendingOperationsCount > 0:
		return warnStyle
	default:
		return okStyle
	}
}

// renderIndicator renders the indicator, or "All changes synced" when
// there is nothing to report.
func renderIndicator(s connectivity.State) string {
	text := connectivity.Indicator(s)
	if text == "" {
		text = "All changes synced"
	}
	return indicatorStyle(s).Render(text)
}

func bookingStatusStyle(status models.BookingStatus) lipgloss.Style {
	switch status {
	case models.BookingConfirmed:
		return okStyle
	case models.BookingPendingCancellation, models.BookingPending:
		return warnStyle
	case models.BookingCancelled:
		return mutedStyle
	default:
		return lipgloss.NewStyle()
	}
}

// relative renders t as "3 minutes ago", or "never" for the zero time.
func relative(t time.Time, ok bool) string {
	if !ok || t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// newTable returns a table with the shared border and header style.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headingStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}
