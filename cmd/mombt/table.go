package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"mombt/internal/backtest"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	windowStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	valueStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var summaryColumns = []struct {
	title string
	width int
}{
	{"window", 8},
	{"aperf_c", 12},
	{"aperf_p", 9},
	{"operf_c", 12},
	{"operf_p", 9},
	{"mdd_c", 11},
	{"mdd_p", 8},
}

// renderSummaryTable formats one row per momentum window, ascending.
func renderSummaryTable(symbol string, cfg backtest.Config, summaries map[int]backtest.Summary) string {
	var b strings.Builder

	title := fmt.Sprintf(" %s  amount %s  tc %s  leverage %s ", symbol,
		strconv.FormatFloat(cfg.Amount, 'f', -1, 64),
		strconv.FormatFloat(cfg.Cost, 'f', -1, 64),
		strconv.FormatFloat(cfg.Leverage, 'f', -1, 64))
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	for _, c := range summaryColumns {
		b.WriteString(colHeaderStyle.Width(c.width).Align(lipgloss.Right).Render(c.title))
	}
	b.WriteString("\n")

	for _, m := range backtest.Windows(summaries) {
		s := summaries[m]
		cells := []struct {
			text  string
			style lipgloss.Style
		}{
			{strconv.Itoa(m), windowStyle},
			{fixed(s.AbsolutePerfCash), valueStyle},
			{fixed(s.AbsolutePerfPct), valueStyle},
			{fixed(s.OutperfCash), signStyle(s.OutperfCash)},
			{fixed(s.OutperfPct), signStyle(s.OutperfPct)},
			{fixed(s.MaxDrawdownCash), dimStyle},
			{fixed(s.MaxDrawdownPct), dimStyle},
		}
		for i, c := range cells {
			b.WriteString(c.style.Width(summaryColumns[i].width).Align(lipgloss.Right).Render(c.text))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func signStyle(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return gainStyle
	case v < 0:
		return lossStyle
	default:
		return valueStyle
	}
}

func fixed(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
