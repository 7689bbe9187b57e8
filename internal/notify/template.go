package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/harunnryd/kanshi/internal/classifier"
)

// styleFor maps a criticality level to its fixed icon, label, and
// accent color. Unknown levels render as low.
type style struct {
	Icon  string
	Label string
	Color string
}

var styles = map[string]style{
	classifier.CriticalityCritical: {Icon: "🚨", Label: "CRITICAL", Color: "#cc0000"},
	classifier.CriticalityHigh:     {Icon: "🔴", Label: "IMPORTANT", Color: "#ff3333"},
	classifier.CriticalityMedium:   {Icon: "⚠️", Label: "UPDATE", Color: "#ff9900"},
	classifier.CriticalityLow:      {Icon: "ℹ️", Label: "INFO", Color: "#0099cc"},
}

func styleFor(criticality string) style {
	if s, ok := styles[criticality]; ok {
		return s
	}
	return styles[classifier.CriticalityLow]
}

// Subject renders the notification subject line for a change.
func Subject(change *PolicyChange) string {
	s := styleFor(change.Criticality)
	return fmt.Sprintf("%s [%s] Policy Update: %s", s.Icon, s.Label, change.PolicyName)
}

const contentExcerptLimit = 600

// RenderText renders the plain-text notification body.
func RenderText(change *PolicyChange) string {
	s := styleFor(change.Criticality)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s: %s has been updated\n\n", s.Icon, s.Label, change.PolicyName)
	fmt.Fprintf(&b, "Summary: %s\n", change.ChangeSummary)
	fmt.Fprintf(&b, "Criticality: %s\n", change.Criticality)
	fmt.Fprintf(&b, "Detected at: %s\n\n", change.ChangeTimestamp.Format("2006-01-02 15:04:05 MST"))

	if len(change.DetectedChanges) > 0 {
		b.WriteString("Detected changes:\n")
		for _, dc := range change.DetectedChanges {
			fmt.Fprintf(&b, "  - [%s] %s\n", dc.Criticality, dc.Description)
		}
		b.WriteString("\n")
	}

	if change.OldContent != "" {
		fmt.Fprintf(&b, "Previous version (excerpt):\n%s\n\n", truncate(change.OldContent, contentExcerptLimit))
	}
	if change.NewContent != "" {
		fmt.Fprintf(&b, "Current version (excerpt):\n%s\n\n", truncate(change.NewContent, contentExcerptLimit))
	}

	if change.DocURL != "" {
		fmt.Fprintf(&b, "Document: %s\n", change.DocURL)
	}
	if change.SourceURL != "" {
		fmt.Fprintf(&b, "Source: %s\n", change.SourceURL)
	}

	return b.String()
}

// RenderHTML renders the HTML notification body: colored gradient
// header, summary block, change list, and version excerpts.
func RenderHTML(change *PolicyChange) string {
	s := styleFor(change.Criticality)
	var b strings.Builder

	b.WriteString(`<!DOCTYPE html><html><body style="margin:0;font-family:Arial,Helvetica,sans-serif;color:#333;">`)

	fmt.Fprintf(&b,
		`<div style="background:linear-gradient(135deg,%s,%s99);color:#fff;padding:24px;">`+
			`<h1 style="margin:0;font-size:20px;">%s %s: %s has been updated</h1></div>`,
		s.Color, s.Color, s.Icon, s.Label, html.EscapeString(change.PolicyName))

	b.WriteString(`<div style="padding:24px;">`)
	fmt.Fprintf(&b, `<p><strong>Summary:</strong> %s</p>`, html.EscapeString(change.ChangeSummary))
	fmt.Fprintf(&b, `<p><strong>Criticality:</strong> <span style="color:%s;font-weight:bold;">%s</span></p>`,
		s.Color, strings.ToUpper(change.Criticality))
	fmt.Fprintf(&b, `<p><strong>Detected at:</strong> %s</p>`,
		change.ChangeTimestamp.Format("2006-01-02 15:04:05 MST"))

	if len(change.DetectedChanges) > 0 {
		b.WriteString(`<h3 style="margin-bottom:4px;">Detected changes</h3><ul>`)
		for _, dc := range change.DetectedChanges {
			cs := styleFor(dc.Criticality)
			fmt.Fprintf(&b, `<li><span style="color:%s;">[%s]</span> %s</li>`,
				cs.Color, html.EscapeString(dc.Criticality), html.EscapeString(dc.Description))
		}
		b.WriteString(`</ul>`)
	}

	if change.OldContent != "" {
		fmt.Fprintf(&b,
			`<h3 style="margin-bottom:4px;">Previous version (excerpt)</h3>`+
				`<pre style="background:#f5f5f5;padding:12px;white-space:pre-wrap;">%s</pre>`,
			html.EscapeString(truncate(change.OldContent, contentExcerptLimit)))
	}
	if change.NewContent != "" {
		fmt.Fprintf(&b,
			`<h3 style="margin-bottom:4px;">Current version (excerpt)</h3>`+
				`<pre style="background:#f5f5f5;padding:12px;white-space:pre-wrap;">%s</pre>`,
			html.EscapeString(truncate(change.NewContent, contentExcerptLimit)))
	}

	if change.DocURL != "" || change.SourceURL != "" {
		b.WriteString(`<p>`)
		if change.DocURL != "" {
			fmt.Fprintf(&b, `<a href=%q>View document</a> `, change.DocURL)
		}
		if change.SourceURL != "" {
			fmt.Fprintf(&b, `<a href=%q>View source</a>`, change.SourceURL)
		}
		b.WriteString(`</p>`)
	}

	b.WriteString(`</div></body></html>`)
	return b.String()
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
