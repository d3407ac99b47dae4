// package formatter renders a migration's missing blobs as remediation reports (CSV, Markdown, plain text, JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
)

// Format selects the report encoding.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatJSON     Format = "json"
)

// ParseFormat maps a flag value to a [Format]. "md" and "txt" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown report format %q", shared.ErrInvalidArgument, s)
	}
}

// Extension returns the file extension used by [WriteReport] when no path is given.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatText:
		return ".txt"
	default:
		return "." + string(f)
	}
}

// ReportToCSV converts the missing blobs of rec to CSV with columns: CID, MimeType, Stage, Cause, RecordedAt
func ReportToCSV(rec *models.MigrationRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"CID", "MimeType", "Stage", "Cause", "RecordedAt"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, mb := range rec.MissingBlobs() {
		row := []string{
			mb.CID,
			mb.MimeType,
			mb.Stage,
			mb.Cause,
			mb.RecordedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ReportToMarkdown converts rec to a Markdown remediation report.
func ReportToMarkdown(rec *models.MigrationRecord) ([]byte, error) {
	var buf bytes.Buffer
	missing := rec.MissingBlobs()

	buf.WriteString(fmt.Sprintf("# Missing blobs for %s\n\n", rec.DID()))
	buf.WriteString(fmt.Sprintf("**From**: %s\n", rec.SourceHost()))
	buf.WriteString(fmt.Sprintf("**To**: %s\n", rec.TargetHost()))
	buf.WriteString(fmt.Sprintf("**State**: %s\n", rec.State()))
	buf.WriteString(fmt.Sprintf("**Blobs**: %d/%d imported\n\n", rec.BlobsImported(), rec.BlobsExpected()))

	if gaps := rec.ListingGaps(); len(gaps) > 0 {
		buf.WriteString("## Listing gaps\n\n")
		for _, g := range gaps {
			buf.WriteString(fmt.Sprintf("- after cursor `%s`: %s\n", g.Cursor, g.Cause))
		}
		buf.WriteString("\n")
	}

	buf.WriteString(fmt.Sprintf("## Blobs (%d)\n\n", len(missing)))
	if len(missing) == 0 {
		buf.WriteString("None.\n")
		return buf.Bytes(), nil
	}

	buf.WriteString("| CID | Type | Stage | Cause |\n")
	buf.WriteString("|-----|------|-------|-------|\n")
	for _, mb := range missing {
		buf.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s |\n", mb.CID, mb.MimeType, mb.Stage, escapeCell(mb.Cause)))
	}

	return buf.Bytes(), nil
}

// ReportToText converts rec to plain text, one CID per line after a short header.
func ReportToText(rec *models.MigrationRecord) ([]byte, error) {
	var buf bytes.Buffer
	missing := rec.MissingBlobs()

	buf.WriteString(fmt.Sprintf("Account: %s\n", rec.DID()))
	buf.WriteString(fmt.Sprintf("Migration: %s -> %s (%s)\n", rec.SourceHost(), rec.TargetHost(), rec.State()))
	buf.WriteString(fmt.Sprintf("Missing blobs: %d\n\n", len(missing)))

	for i, mb := range missing {
		buf.WriteString(fmt.Sprintf("%d. %s [%s] %s\n", i+1, mb.CID, mb.Stage, mb.Cause))
	}

	return buf.Bytes(), nil
}

type jsonReport struct {
	DID           string               `json:"did"`
	SourceHost    string               `json:"sourceHost"`
	TargetHost    string               `json:"targetHost"`
	State         string               `json:"state"`
	BlobsExpected int                  `json:"blobsExpected"`
	BlobsImported int                  `json:"blobsImported"`
	MissingBlobs  []models.MissingBlob `json:"missingBlobs"`
	ListingGaps   []models.ListingGap  `json:"listingGaps,omitempty"`
}

// ReportToJSON converts rec to an indented JSON document.
func ReportToJSON(rec *models.MigrationRecord) ([]byte, error) {
	report := jsonReport{
		DID:           rec.DID(),
		SourceHost:    rec.SourceHost(),
		TargetHost:    rec.TargetHost(),
		State:         rec.State().String(),
		BlobsExpected: rec.BlobsExpected(),
		BlobsImported: rec.BlobsImported(),
		MissingBlobs:  rec.MissingBlobs(),
		ListingGaps:   rec.ListingGaps(),
	}
	if report.MissingBlobs == nil {
		report.MissingBlobs = []models.MissingBlob{}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// Render encodes rec in the given format.
func Render(rec *models.MigrationRecord, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ReportToCSV(rec)
	case FormatMarkdown:
		return ReportToMarkdown(rec)
	case FormatText:
		return ReportToText(rec)
	case FormatJSON:
		return ReportToJSON(rec)
	default:
		return nil, fmt.Errorf("%w: unknown report format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteReport renders rec and writes it to path, returning the path written.
//
// Defaults to missing_{did}{ext} in the working directory, with colons in the DID replaced by underscores.
func WriteReport(rec *models.MigrationRecord, format Format, path string) (string, error) {
	if path == "" {
		path = "missing_" + strings.ReplaceAll(rec.DID(), ":", "_") + format.Extension()
	}

	data, err := Render(rec, format)
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	return path, nil
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
