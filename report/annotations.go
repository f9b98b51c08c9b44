// Package report emits human-facing output to the invoking CI platform:
// severity-tagged workflow-command annotations and an append-only markdown
// job summary. Everything here is best-effort; reporting never fails a run.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/capstan-ci/capstan/cloud"
	"github.com/capstan-ci/capstan/provision"
	"github.com/samber/lo"
)

// Sink writes annotations to out and markdown to the step summary file.
type Sink struct {
	out         io.Writer
	summaryPath string
	log         *slog.Logger
}

// Sink implements provision.Reporter
var _ provision.Reporter = (*Sink)(nil)

// New builds a sink writing annotations to stdout and summaries to the file
// named by GITHUB_STEP_SUMMARY (summaries are skipped when unset).
func New(log *slog.Logger) *Sink {
	return &Sink{
		out:         os.Stdout,
		summaryPath: os.Getenv("GITHUB_STEP_SUMMARY"),
		log:         log,
	}
}

func (s *Sink) Notice(title, message string) {
	s.annotate("notice", title, message)
}

func (s *Sink) Warning(title, message string) {
	s.annotate("warning", title, message)
}

func (s *Sink) Error(title, message string) {
	s.annotate("error", title, message)
}

func (s *Sink) annotate(severity, title, message string) {
	fmt.Fprintf(s.out, "::%s title=%s::%s\n", severity, title, escapeData(message))
}

// escapeData escapes a message for a single-line workflow command.
func escapeData(message string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(message)
}

// WriteSummary appends markdown to the job summary. Failures are logged and
// swallowed so an unavailable summary surface cannot fail the run.
func (s *Sink) WriteSummary(markdown string) {
	if s.summaryPath == "" {
		return
	}
	f, err := os.OpenFile(s.summaryPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Warn("Failed to open step summary, skipping", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(markdown + "\n"); err != nil {
		s.log.Warn("Failed to write step summary", "error", err)
	}
}

// CapacityFallback implements provision.Reporter.
func (s *Sink) CapacityFallback(option cloud.ResourceOption, next string) {
	msg := fmt.Sprintf("%s in %s unavailable", option.Class, option.Region)
	if next != "" {
		msg += ", trying " + next
	}
	s.Warning("Capacity Retry", msg)
}

// AllExhausted implements provision.Reporter: it annotates the failure and
// renders the full attempt table before the error propagates.
func (s *Sink) AllExhausted(attempts []provision.LaunchAttempt) {
	classes := lo.Uniq(lo.Map(attempts, func(a provision.LaunchAttempt, _ int) string { return a.Option.Class }))
	regions := lo.Uniq(lo.Map(attempts, func(a provision.LaunchAttempt, _ int) string { return a.Option.Region }))
	s.Error("No Capacity", fmt.Sprintf(
		"All options exhausted. Tried: %s in %s",
		strings.Join(classes, ", "), strings.Join(regions, ", "),
	))
	s.WriteSummary(FormatLaunchSummary(attempts, false, "", ""))
}
