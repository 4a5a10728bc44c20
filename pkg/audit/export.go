package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrUnsupportedExportFormat is returned when the requested export format is
// not one of json, csv or ndjson.
var ErrUnsupportedExportFormat = errors.New("unsupported export format")

// ExportFormat represents the export output format
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// maxExportRecords caps a single export so one request cannot drain the
// whole table into memory.
const maxExportRecords = 10000

// Export drains matching records page by page and renders them in the
// requested format. Results are capped at maxExportRecords.
func (s *QueryService) Export(ctx context.Context, opts ListOptions, format ExportFormat) ([]byte, error) {
	records, err := s.collectForExport(ctx, opts)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV:
		return exportCSV(records)
	case ExportFormatNDJSON:
		return exportNDJSON(records)
	case ExportFormatJSON:
		return exportJSON(records)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExportFormat, format)
	}
}

func (s *QueryService) collectForExport(ctx context.Context, opts ListOptions) ([]*AuditRecord, error) {
	opts.Page = 1
	opts.PageSize = maxQueryPageSize

	var records []*AuditRecord
	for {
		result, err := s.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		records = append(records, result.Data...)

		if len(records) >= maxExportRecords {
			return records[:maxExportRecords], nil
		}
		if opts.Page >= result.Meta.Pagination.PageCount {
			return records, nil
		}
		opts.Page++
	}
}

// exportJSON exports audit records as a JSON array
func exportJSON(records []*AuditRecord) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

// exportNDJSON exports audit records as newline-delimited JSON
func exportNDJSON(records []*AuditRecord) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports audit records as CSV
func exportCSV(records []*AuditRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Action",
		"Date",
		"ActorID",
		"ActorName",
		"Endpoint",
		"Method",
		"StatusCode",
		"IPAddress",
		"UserAgent",
		"RequestID",
	}

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, record := range records {
		row := []string{
			strconv.FormatInt(record.ID, 10),
			record.Action,
			record.Date.Format("2006-01-02 15:04:05"),
			formatInt64Ptr(record.ActorID),
			record.ActorName,
			record.Endpoint,
			record.Method,
			strconv.Itoa(record.StatusCode),
			record.IPAddress,
			record.UserAgent,
			record.RequestID,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// formatInt64Ptr formats an int64 pointer as string, returning empty string for nil
func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}
