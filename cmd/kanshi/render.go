package main

import (
	"fmt"
	"strings"

	"github.com/harunnryd/kanshi/internal/classifier"
	"github.com/harunnryd/kanshi/internal/notify"
	"github.com/harunnryd/kanshi/internal/pipeline"
	"github.com/harunnryd/kanshi/internal/policy"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

var (
	purple    = lipgloss.Color("99")
	gray      = lipgloss.Color("245")
	lightGray = lipgloss.Color("241")
	green     = lipgloss.Color("42")
	yellow    = lipgloss.Color("220")
	red       = lipgloss.Color("196")
	blue      = lipgloss.Color("39")

	headerStyle = lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1)
	labelStyle = lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Padding(0, 1)
	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)
	oddRowStyle = lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1)
	evenRowStyle = lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1)
	borderStyle = lipgloss.NewStyle().
			Foreground(purple)
)

func outcomeStyle(outcome pipeline.Outcome) lipgloss.Style {
	switch outcome {
	case pipeline.OutcomeSynced:
		return lipgloss.NewStyle().Foreground(green).Bold(true)
	case pipeline.OutcomeBaselineInit:
		return lipgloss.NewStyle().Foreground(blue).Bold(true)
	case pipeline.OutcomeRejected:
		return lipgloss.NewStyle().Foreground(yellow).Bold(true)
	case pipeline.OutcomeFailed:
		return lipgloss.NewStyle().Foreground(red).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(gray)
	}
}

func renderRunRecord(rec *pipeline.RunRecord) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return labelStyle
			}
			return cellStyle
		})

	t.Row("Run ID", rec.RunID)
	t.Row("Policy", rec.PolicyID)
	t.Row("Outcome", outcomeStyle(rec.Outcome).Render(string(rec.Outcome)))
	t.Row("Duration", rec.FinishedAt.Sub(rec.StartedAt).String())
	if rec.Comparison != nil {
		t.Row("Summary", truncateString(rec.Comparison.Summary, 60))
		if rec.Comparison.Criticality != "" {
			t.Row("Criticality", rec.Comparison.Criticality)
		}
	}
	if rec.Decision != nil && len(rec.Decision.Reasons) > 0 {
		t.Row("Reasons", truncateString(strings.Join(rec.Decision.Reasons, "; "), 60))
	}
	if len(rec.NotificationIDs) > 0 {
		t.Row("Notifications", fmt.Sprintf("%d", len(rec.NotificationIDs)))
	}
	if rec.Err != "" {
		t.Row("Error", truncateString(rec.Err, 60))
	}

	return t.String()
}

func renderRunList(records []pipeline.RunRecord) string {
	if len(records) == 0 {
		return "No runs recorded"
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers("Run ID", "Policy", "Started", "Outcome", "Error")

	for _, rec := range records {
		t.Row(
			rec.RunID,
			rec.PolicyID,
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			string(rec.Outcome),
			truncateString(rec.Err, 30),
		)
	}

	return t.String()
}

func renderPolicyList(policies []policy.Policy) string {
	if len(policies) == 0 {
		return "No policies configured"
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers("Owner Key", "Name", "Schedule", "Recipients", "Source")

	for _, pol := range policies {
		schedule := pol.Schedule
		if schedule == "" {
			schedule = "manual"
		}
		t.Row(
			pol.OwnerKey,
			truncateString(pol.Name, 25),
			schedule,
			truncateString(strings.Join(pol.Recipients, ", "), 30),
			truncateString(pol.SourceURL, 35),
		)
	}

	return t.String()
}

func renderNotificationLog(records []notify.NotificationRecord) string {
	if len(records) == 0 {
		return "No notifications recorded"
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers("Change", "Recipient", "Criticality", "Status", "Attempts", "Last Error")

	for _, rec := range records {
		t.Row(
			rec.ChangeID,
			truncateString(rec.Recipient, 30),
			rec.Criticality,
			rec.Status,
			fmt.Sprintf("%d", rec.Attempts),
			truncateString(rec.LastError, 30),
		)
	}

	return t.String()
}

func renderStats(stats notify.Stats) string {
	parts := []string{fmt.Sprintf("total=%d", stats.Total)}
	for _, status := range []string{notify.StatusSent, notify.StatusFailed, notify.StatusPending, notify.StatusDryRun} {
		if n := stats.ByStatus[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", status, n))
		}
	}
	return lipgloss.NewStyle().Foreground(gray).Render(strings.Join(parts, "  "))
}

func renderRunStats(stats *pipeline.RunStats) string {
	parts := []string{
		fmt.Sprintf("total=%d", stats.Total),
		fmt.Sprintf("with_changes=%d", stats.WithChanges),
	}
	for _, outcome := range []pipeline.Outcome{
		pipeline.OutcomeSynced, pipeline.OutcomeNoChange, pipeline.OutcomeRejected,
		pipeline.OutcomeFailed, pipeline.OutcomeBaselineInit,
	} {
		if n := stats.ByOutcome[string(outcome)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", outcome, n))
		}
	}
	for _, level := range []string{
		classifier.CriticalityCritical, classifier.CriticalityHigh,
		classifier.CriticalityMedium, classifier.CriticalityLow,
	} {
		if n := stats.ByCriticality[level]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", level, n))
		}
	}
	return lipgloss.NewStyle().Foreground(gray).Render(strings.Join(parts, "  "))
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
