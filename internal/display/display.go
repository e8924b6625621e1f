// Package display renders analysis records and run history for the terminal.
package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/AurumGo/internal/models"
	"github.com/dyike/AurumGo/internal/storage/sqlite"
)

const width = 78

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F5C542")).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1).
			Width(width)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(16)

	buyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	sellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	holdStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

// RenderRecord renders one record as stacked sections.
func RenderRecord(rec *models.AnalysisRecord) string {
	header := titleStyle.Render(fmt.Sprintf("GOLD ANALYSIS · %s", strings.ToUpper(rec.Tool)))
	meta := mutedStyle.Render(fmt.Sprintf("%s · source %s", rec.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"), rec.Source))
	if len(rec.Sources) > 0 {
		meta += mutedStyle.Render(" · from " + strings.Join(rec.Sources, ", "))
	}

	if rec.Status == models.StatusFailed {
		body := errorStyle.Render("RUN FAILED") + "\n" + wrap(rec.Error, width-4)
		return lipgloss.JoinVertical(lipgloss.Left, header, meta, sectionStyle.Render(body))
	}

	market := strings.Join([]string{
		row("Spot", money(rec.SpotPrice)),
		row("Daily", pct(rec.Changes.DailyPct)),
		row("Weekly", pct(rec.Changes.WeeklyPct)),
		row("Monthly", pct(rec.Changes.MonthlyPct)),
	}, "\n")

	technicals := strings.Join([]string{
		row("RSI(14)", number(rec.Technicals.RSI)),
		row("Trend", orNA(rec.Technicals.Trend)),
		row("Support", levels(rec.Technicals.Support)),
		row("Resistance", levels(rec.Technicals.Resistance)),
	}, "\n")

	decision := row("Action", ActionBadge(rec.Decision.Action))
	if rec.Decision.Confidence != nil {
		decision += "\n" + row("Confidence", fmt.Sprintf("%d%%", *rec.Decision.Confidence))
	}
	if rec.Consensus != nil {
		decision += "\n" + row("Consensus", *rec.Consensus)
	}
	if rec.Decision.Reasoning != "" {
		decision += "\n\n" + wrap(rec.Decision.Reasoning, width-4)
	}

	sections := []string{
		header, meta,
		sectionStyle.Render(market),
		sectionStyle.Render(technicals),
		sectionStyle.Render(decision),
	}
	if len(rec.News) > 0 {
		sections = append(sections, sectionStyle.Render(renderNews(rec.News)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderNews(items []models.NewsItem) string {
	lines := make([]string, 0, len(items))
	for _, n := range items {
		line := fmt.Sprintf("[%2d] %s %s", n.Relevance, sentimentMark(n.Sentiment), n.Headline)
		if n.Source != "" {
			line += mutedStyle.Render(" · " + n.Source)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// RenderRuns renders the history index as a table, newest first.
func RenderRuns(runs []sqlite.Run) string {
	if len(runs) == 0 {
		return mutedStyle.Render("no runs recorded")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %-8s %-6s %10s  %s\n", "TIME", "TOOL", "STATUS", "ACTION", "SPOT", "SOURCE")
	for _, r := range runs {
		status := r.Status
		if status == models.StatusFailed {
			status = errorStyle.Render(fmt.Sprintf("%-8s", status))
		} else {
			status = fmt.Sprintf("%-8s", status)
		}
		fmt.Fprintf(&b, "%-20s %-10s %s %-6s %10s  %s\n",
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"), r.Tool, status, orNA(r.Action), money(r.SpotPrice), r.Source)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ActionBadge colors a decision action.
func ActionBadge(action string) string {
	switch action {
	case models.ActionBuy:
		return buyStyle.Render("BUY")
	case models.ActionSell:
		return sellStyle.Render("SELL")
	case models.ActionHold:
		return holdStyle.Render("HOLD")
	}
	return mutedStyle.Render("N/A")
}

func sentimentMark(s string) string {
	switch s {
	case models.SentimentBullish:
		return buyStyle.Render("▲")
	case models.SentimentBearish:
		return sellStyle.Render("▼")
	}
	return mutedStyle.Render("•")
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func money(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("$%.2f", *v)
}

func pct(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%+.2f%%", *v)
}

func number(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *v)
}

func levels(vs []float64) string {
	if len(vs) == 0 {
		return "N/A"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%.2f", v)
	}
	return strings.Join(parts, " / ")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// wrap breaks text into lines of at most maxWidth characters.
func wrap(text string, maxWidth int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > maxWidth {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	return strings.Join(append(lines, line), "\n")
}

// DisplayError shows formatted error messages
func DisplayError(err error, context string) {
	fmt.Println(errorStyle.Render("Error in " + context + ":"))
	fmt.Printf("   %v\n", err)
}

// DisplayWarning shows formatted warning messages
func DisplayWarning(message string) {
	fmt.Println(holdStyle.Render("Warning: ") + message)
}

// DisplaySuccess shows formatted success messages
func DisplaySuccess(message string) {
	fmt.Println(buyStyle.Render("✓ ") + message)
}
