// Package exporter implements the export-pro premium feature: CSV
// exports of the audit trail and the current capability inventory. The
// feature is only constructed by the plugin loader when export.csv is
// granted, and every export re-checks the capability before writing.
package exporter

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"arcacli/internal/audit"
	"arcacli/internal/capability"
	"arcacli/internal/infrastructure"
)

// Engine is the slice of the entitlement service the exporter needs.
type Engine interface {
	Check(ctx context.Context, action, scope string) (*capability.Capability, error)
	Capabilities(ctx context.Context) ([]capability.Capability, error)
}

// CSVExporter writes engine state to CSV files under the exports
// directory.
type CSVExporter struct {
	exportDir string
	engine    Engine
	auditor   *audit.Logger
	logger    *slog.Logger
}

// NewCSVExporter creates the exporter rooted at dataDir/exports.
func NewCSVExporter(dataDir string, engine Engine, auditor *audit.Logger) *CSVExporter {
	return &CSVExporter{
		exportDir: filepath.Join(dataDir, "exports"),
		engine:    engine,
		auditor:   auditor,
		logger:    infrastructure.WithComponent(infrastructure.GetLogger(), "exporter"),
	}
}

// Name identifies the feature to the plugin loader.
func (e *CSVExporter) Name() string { return "csv-export" }

// ExportAuditTrail writes the full audit log as CSV and returns the file
// path. The capability check runs again here; loader gating is not
// trusted across time.
func (e *CSVExporter) ExportAuditTrail(ctx context.Context, scope string) (string, error) {
	if _, err := e.engine.Check(ctx, "export.csv", scope); err != nil {
		return "", err
	}

	entries, err := e.auditor.ReadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("reading audit trail: %w", err)
	}

	records := make([][]string, 0, len(entries))
	for _, entry := range entries {
		records = append(records, []string{
			entry.ID,
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.Action,
			entry.Detail,
			string(entry.Outcome),
		})
	}

	path := e.exportPath("audit")
	if err := e.writeCSV(path, []string{"id", "timestamp", "action", "detail", "outcome"}, records); err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "audit trail exported",
		slog.String("path", path),
		slog.Int("entries", len(records)),
	)
	return path, nil
}

// ExportCapabilities writes the current capability inventory as CSV.
// Signatures are omitted from the output.
func (e *CSVExporter) ExportCapabilities(ctx context.Context, scope string) (string, error) {
	if _, err := e.engine.Check(ctx, "export.csv", scope); err != nil {
		return "", err
	}

	caps, err := e.engine.Capabilities(ctx)
	if err != nil {
		return "", fmt.Errorf("reading capabilities: %w", err)
	}

	records := make([][]string, 0, len(caps))
	for _, record := range caps {
		expires := ""
		if record.ExpiresAt != nil {
			expires = record.ExpiresAt.UTC().Format(time.RFC3339)
		}
		records = append(records, []string{
			record.Action,
			record.Scope,
			record.IssuedAt.UTC().Format(time.RFC3339),
			expires,
		})
	}

	path := e.exportPath("capabilities")
	if err := e.writeCSV(path, []string{"action", "scope", "issued_at", "expires_at"}, records); err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "capability inventory exported",
		slog.String("path", path),
		slog.Int("records", len(records)),
	)
	return path, nil
}

func (e *CSVExporter) exportPath(kind string) string {
	name := fmt.Sprintf("%s-%s.csv", kind, time.Now().UTC().Format("20060102-150405"))
	return filepath.Join(e.exportDir, name)
}

func (e *CSVExporter) writeCSV(path string, headers []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening export file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, record := range records {
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing export: %w", err)
	}
	return file.Sync()
}
