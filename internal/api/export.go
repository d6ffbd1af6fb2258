package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/exporter"
)

type exportRequest struct {
	SQL string `json:"sql"`
}

type exportResponse struct {
	FileID      string    `json:"file_id"`
	CSVPath     string    `json:"csv_path"`
	ParquetPath string    `json:"parquet_path"`
	RowCount    int       `json:"row_count"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Classifier == nil || deps.Runner == nil || deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleExport); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request exportRequest
	if err := decodeStrict(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	verdict := deps.Classifier.Check(request.SQL)
	if !verdict.Safe {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_BLOCKED", "query blocked for security reasons", false, map[string]any{
			"reason": verdict.Reason,
		})
		return
	}

	outcome := deps.Runner.Run(r.Context(), request.SQL)
	if outcome.IsError() {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", outcome.Err.Message, false, map[string]any{
			"kind": string(outcome.Err.Kind),
		})
		return
	}

	manifest, err := deps.Exporter.Export(r.Context(), *outcome.Result)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to store export", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, exportResponse{
		FileID:      manifest.FileID,
		CSVPath:     downloadPath(manifest.FileID, exporter.FormatCSV),
		ParquetPath: downloadPath(manifest.FileID, exporter.FormatParquet),
		RowCount:    manifest.RowCount,
		ExpiresAt:   manifest.ExpiresAt,
	})
}

func handleExportDownload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleExport); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	fileID, format, ok := splitExportFile(r.PathValue("file"))
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT_FILE", "expected {file_id}.{csv|parquet}", false, nil)
		return
	}

	body, info, err := deps.Exporter.Open(r.Context(), fileID, format)
	switch {
	case errors.Is(err, exporter.ErrInvalidFileID), errors.Is(err, exporter.ErrInvalidFormat):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT_FILE", "expected {file_id}.{csv|parquet}", false, nil)
		return
	case errors.Is(err, exporter.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export does not exist", false, nil)
		return
	case errors.Is(err, exporter.ErrExpired):
		writeError(r.Context(), w, http.StatusNotFound, "EXPORT_EXPIRED", "export has expired", false, nil)
		return
	case err != nil:
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_READ_FAILED", "failed to read export", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", exporter.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileID+"."+format))
	if info.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func downloadPath(fileID, format string) string {
	return "/v1/export/" + fileID + "." + format
}

func splitExportFile(value string) (fileID, format string, ok bool) {
	value = strings.TrimSpace(value)
	dot := strings.LastIndex(value, ".")
	if dot <= 0 || dot == len(value)-1 {
		return "", "", false
	}
	return value[:dot], value[dot+1:], true
}
