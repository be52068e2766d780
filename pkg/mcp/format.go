package mcp

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/pario-ai/aiswitch/pkg/models"
	"github.com/pario-ai/aiswitch/pkg/selection"
)

const timeLayout = "2006-01-02 15:04:05"

func optInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func formatLogs(recs []models.AuditRecord, total int64, q models.LogQuery) string {
	if len(recs) == 0 {
		return "No logs found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%6s  %-19s %-12s %-24s %-5s %8s %10s %7s\n",
		"ID", "Started", "Provider", "Model", "Chat", "Prompt", "Completion", "Tok/s")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, r := range recs {
		model := r.Model
		if len(model) > 24 {
			model = model[:21] + "..."
		}
		fmt.Fprintf(&b, "%6d  %-19s %-12s %-24s %-5t %8s %10s %7s\n",
			r.ID, r.RequestStartedAt.Format(timeLayout), r.ProviderID, model, r.IsChat,
			optInt(r.PromptTokens), optInt(r.CompletionTokens), optInt(r.TokensPerSecond))
	}
	fmt.Fprintf(&b, "\nPage %d, %d of %d completed exchanges.\n", q.Page, len(recs), total)
	return b.String()
}

// formatLog renders one exchange with its bodies pretty-printed when they are JSON.
func formatLog(r models.AuditRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Log %d\n", r.ID)
	fmt.Fprintf(&b, "  Provider:   %s\n", r.ProviderID)
	fmt.Fprintf(&b, "  Model:      %s\n", r.Model)
	fmt.Fprintf(&b, "  Chat:       %t\n", r.IsChat)
	fmt.Fprintf(&b, "  Started:    %s\n", r.RequestStartedAt.Format(timeLayout))
	if r.ResponseCompletedAt != nil {
		fmt.Fprintf(&b, "  Completed:  %s\n", r.ResponseCompletedAt.Format(timeLayout))
	} else {
		b.WriteString("  Completed:  (pending or failed)\n")
	}
	fmt.Fprintf(&b, "  Prompt:     %s\n", optInt(r.PromptTokens))
	fmt.Fprintf(&b, "  Completion: %s\n", optInt(r.CompletionTokens))
	fmt.Fprintf(&b, "  Tok/s:      %s\n", optInt(r.TokensPerSecond))
	b.WriteString("\nRequest:\n")
	writeBody(&b, r.RequestBody)
	if r.ResponseCompletedAt != nil {
		b.WriteString("\nResponse:\n")
		writeBody(&b, r.ResponseBody)
	}
	return b.String()
}

func writeBody(b *strings.Builder, body string) {
	if !gjson.Valid(body) {
		b.WriteString(body)
		b.WriteByte('\n')
		return
	}
	b.Write(pretty.Pretty([]byte(body)))
}

func formatUsage(stats []models.UsageStat) string {
	if len(stats) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-28s %8s %10s %10s %8s\n",
		"Provider", "Model", "Requests", "Prompt", "Completion", "Avg t/s")
	b.WriteString(strings.Repeat("-", 85) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-16s %-28s %8d %10d %10d %8.1f\n",
			s.ProviderID, s.Model, s.Requests, s.PromptTokens, s.CompletionTokens, s.AvgTokensPerSec)
	}
	return b.String()
}

func formatProviders(snap selection.Snapshot) string {
	if len(snap.Providers) == 0 {
		return "No providers configured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%1s %-16s %-20s %-40s %-12s\n", "", "ID", "Name", "Base URL", "Preset")
	b.WriteString(strings.Repeat("-", 94) + "\n")
	for _, p := range snap.Providers {
		mark := ""
		if p.ID == snap.ActiveProvider {
			mark = "*"
		}
		ps := "-"
		if active := p.ActivePreset(); active != nil {
			ps = active.ID
		}
		fmt.Fprintf(&b, "%1s %-16s %-20s %-40s %-12s\n", mark, p.ID, p.Name, p.BaseURL, ps)
	}
	return b.String()
}
