package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

// SummaryReport is a snapshot of the library's ledger
type SummaryReport struct {
	GeneratedAt time.Time

	// Status statistics
	Counts map[store.Status]int
	Total  int

	// Tag statistics
	DistinctTags int
	TopTags      []store.TagCount

	// Details
	TopFailures []ErrorSummary
	Stale       []StaleItem

	// Metadata
	LedgerPath      string
	DatadirLocation string
	EventLogPath    string
	StaleAfter      time.Duration
}

// ErrorSummary represents a failure reason with its count
type ErrorSummary struct {
	Error string
	Count int
}

// StaleItem is a non-terminal record that has not moved for a while
type StaleItem struct {
	ID        string
	Title     string
	Status    store.Status
	UpdatedAt time.Time
}

// GenerateSummaryReport builds a summary from the ledger. Records pending
// or downloading for longer than staleAfter are listed as stale; zero
// disables the check.
func GenerateSummaryReport(ctx context.Context, db *store.Store, staleAfter time.Duration) (*SummaryReport, error) {
	report := &SummaryReport{
		GeneratedAt: time.Now(),
		LedgerPath:  db.Path(),
		StaleAfter:  staleAfter,
		TopFailures: make([]ErrorSummary, 0),
		Stale:       make([]StaleItem, 0),
	}

	counts, err := db.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	report.Counts = counts
	for _, n := range counts {
		report.Total += n
	}

	if cfg, err := db.GetConfig(ctx); err == nil {
		report.DatadirLocation = cfg.DatadirLocation
	}

	tags, err := db.ListTags(ctx, "")
	if err != nil {
		return nil, err
	}
	report.DistinctTags = len(tags)
	report.TopTags = topTags(tags, 10)

	failed, err := db.ListMedia(ctx, store.MediaFilter{Status: store.StatusFailed})
	if err != nil {
		return nil, err
	}
	report.TopFailures = gatherTopFailures(failed, 10)

	if staleAfter > 0 {
		stale, err := db.ListStale(ctx, []store.Status{store.StatusPending, store.StatusDownloading},
			time.Now().Add(-staleAfter))
		if err != nil {
			return nil, err
		}
		for _, m := range stale {
			report.Stale = append(report.Stale, StaleItem{
				ID: m.ID, Title: m.Title, Status: m.Status, UpdatedAt: m.UpdatedAt,
			})
		}
	}

	return report, nil
}

func topTags(tags []store.TagCount, limit int) []store.TagCount {
	sorted := append([]store.TagCount(nil), tags...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// gatherTopFailures groups failed records by reason, most common first
func gatherTopFailures(failed []*store.Media, limit int) []ErrorSummary {
	reasonCounts := make(map[string]int)
	for _, m := range failed {
		reason := m.FailureReason
		if reason == "" {
			reason = "(no reason recorded)"
		}
		reasonCounts[reason]++
	}

	errors := make([]ErrorSummary, 0, len(reasonCounts))
	for reason, count := range reasonCounts {
		errors = append(errors, ErrorSummary{Error: reason, Count: count})
	}

	sort.Slice(errors, func(i, j int) bool {
		if errors[i].Count != errors[j].Count {
			return errors[i].Count > errors[j].Count
		}
		return errors[i].Error < errors[j].Error
	})

	if len(errors) > limit {
		errors = errors[:limit]
	}
	return errors
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString("# mediabin - Library Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	if report.LedgerPath != "" {
		md.WriteString(fmt.Sprintf("**Ledger:** `%s`\n\n", report.LedgerPath))
	}
	if report.DatadirLocation != "" {
		md.WriteString(fmt.Sprintf("**Datadir:** `%s`\n\n", report.DatadirLocation))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## Overview\n\n")
	md.WriteString("| Status | Items |\n")
	md.WriteString("|--------|-------|\n")
	for _, st := range store.Statuses {
		md.WriteString(fmt.Sprintf("| %s | %d |\n", st, report.Counts[st]))
	}
	md.WriteString(fmt.Sprintf("| **total** | %d |\n", report.Total))
	md.WriteString("\n")

	if len(report.TopTags) > 0 {
		md.WriteString(fmt.Sprintf("## Tags (%d distinct)\n\n", report.DistinctTags))
		md.WriteString("| Tag | Items |\n")
		md.WriteString("|-----|-------|\n")
		for _, tc := range report.TopTags {
			md.WriteString(fmt.Sprintf("| %s | %d |\n", tc.Tag, tc.Count))
		}
		md.WriteString("\n")
	}

	if len(report.TopFailures) > 0 {
		md.WriteString("## Top Failure Reasons\n\n")
		md.WriteString("| Count | Reason |\n")
		md.WriteString("|-------|--------|\n")
		for _, e := range report.TopFailures {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", e.Count, e.Error))
		}
		md.WriteString("\n")
	}

	if len(report.Stale) > 0 {
		md.WriteString(fmt.Sprintf("## Stale Ingests (no progress for %s)\n\n", report.StaleAfter))
		md.WriteString("| Id | Title | Status | Last Update |\n")
		md.WriteString("|----|-------|--------|-------------|\n")
		for _, s := range report.Stale {
			md.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s |\n",
				s.ID, util.Truncate(s.Title, 40), s.Status, util.FormatAge(s.UpdatedAt)))
		}
		md.WriteString("\n*Run `mb reconcile` to mark these failed.*\n\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by mediabin*\n")

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}
