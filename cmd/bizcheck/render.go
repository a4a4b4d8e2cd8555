package main

import (
	"fmt"
	"strings"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/probe"
	"bizcheck/internal/stats"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#48BB78"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0C36D"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

func render(o options, businesses []analyzer.EnrichedBusiness, s stats.Statistics) string {
	header := titleStyle.Render(fmt.Sprintf("%s near %s", o.query, o.location)) + "\n" +
		mutedStyle.Render(fmt.Sprintf("radius %dm", o.radius))

	summary := boxStyle.Render(strings.Join([]string{
		fmt.Sprintf("Businesses        %d", s.TotalBusinesses),
		fmt.Sprintf("With website      %d (%.1f%%)", s.BusinessesWithWebsites, s.WebsitePercentage),
		fmt.Sprintf("Accessible        %d (%.1f%%)", s.AccessibleWebsites, s.AccessiblePercentage),
		fmt.Sprintf("No website        %d", s.NoWebsiteCount),
		fmt.Sprintf("Average rating    %.1f", s.AverageRating),
		fmt.Sprintf("High opportunity  %d", s.HighOpportunityCount),
	}, "\n"))

	lines := make([]string, 0, len(businesses))
	for _, b := range businesses {
		lines = append(lines, businessLine(b))
	}
	parts := []string{header, summary, strings.Join(lines, "\n")}
	if s.Market != nil {
		parts = append(parts, marketBlock(*s.Market))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func businessLine(b analyzer.EnrichedBusiness) string {
	site := mutedStyle.Render("no website")
	if b.Website != nil {
		site = *b.Website
	}
	var status string
	switch b.WebsiteStatus.Status {
	case probe.StatusAccessible:
		status = okStyle.Render(string(b.WebsiteStatus.Status))
	case probe.StatusNoWebsite:
		status = warnStyle.Render(string(b.WebsiteStatus.Status))
	default:
		status = errorStyle.Render(string(b.WebsiteStatus.Status))
	}
	return fmt.Sprintf("%3d  %-32s  %-16s  %s", b.LeadScore, truncate(b.Name, 32), status, site)
}

func marketBlock(m stats.MarketAnalysis) string {
	lines := []string{
		titleStyle.Render("Market"),
		fmt.Sprintf("saturation %s, competition %s, website adoption %.1f%%, opportunity %d",
			m.MarketSaturation, m.CompetitionLevel, m.WebsiteAdoptionRate, m.OpportunityScore),
	}
	for _, gap := range m.MarketGaps {
		lines = append(lines, "- "+gap)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
