package report

import (
	"fmt"
	"strings"

	"github.com/capstan-ci/capstan/provision"
)

// FormatLaunchSummary renders the attempt ledger as a markdown table in
// chronological order, with a success or exhausted-options footer.
func FormatLaunchSummary(attempts []provision.LaunchAttempt, success bool, instanceID, address string) string {
	lines := []string{
		"## Instance Launch",
		"",
		"| # | Runner | Instance Type | Region | Result |",
		"|---|--------|---------------|--------|--------|",
	}

	for i, attempt := range attempts {
		var result string
		switch {
		case attempt.Success:
			result = "✅ Launched"
		case strings.Contains(strings.ToLower(attempt.Error), "capacity"):
			result = "⚠️ No capacity"
		case strings.Contains(strings.ToLower(attempt.Error), "rate"):
			result = "⚠️ Rate limited"
		default:
			result = "❌ " + truncate(attempt.Error, 30)
		}

		lines = append(lines, fmt.Sprintf(
			"| %d | %s | `%s` | %s | %s |",
			i+1, attempt.Runner, attempt.Option.Class, attempt.Option.Region, result,
		))
	}

	lines = append(lines, "")
	if success {
		lines = append(lines, fmt.Sprintf("**Instance ID:** `%s`", instanceID))
		if address != "" {
			lines = append(lines, fmt.Sprintf("**Address:** `%s`", address))
		}
	} else {
		lines = append(lines, "**Result:** ❌ All options exhausted")
	}

	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
