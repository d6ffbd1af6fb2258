package exporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/storage"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

var (
	ErrNotFound      = errors.New("export not found")
	ErrExpired       = errors.New("export expired")
	ErrInvalidFileID = errors.New("invalid export file id")
	ErrInvalidFormat = errors.New("unsupported export format")
)

const defaultTTL = 24 * time.Hour

func NewFileID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func ValidFileID(id string) bool {
	return storage.ValidExportFileID(id)
}

func ValidFormat(format string) bool {
	return storage.ValidExportFormat(format)
}

// ContentType returns the download content type for a format.
func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/octet-stream"
}

// Manifest describes one completed export: both encodings share a file id
// and an expiry.
type Manifest struct {
	FileID     string    `json:"file_id"`
	CSVKey     string    `json:"csv_key"`
	ParquetKey string    `json:"parquet_key"`
	RowCount   int       `json:"row_count"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Service writes query results to the object store and serves them back
// until they expire. Expiry is judged from the stored object's own
// modification time, so restarts do not resurrect stale exports.
type Service struct {
	store  storage.ObjectStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewService(store storage.ObjectStore, ttl time.Duration, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, ttl: ttl, logger: logger}, nil
}

// Export encodes the result as CSV and Parquet and uploads both objects.
func (s *Service) Export(ctx context.Context, result query.Result) (Manifest, error) {
	if len(result.Columns) == 0 {
		return Manifest{}, fmt.Errorf("result has no columns")
	}

	fileID := NewFileID()
	csvData := encodeCSV(result)
	parquetData, err := encodeParquet(result)
	if err != nil {
		return Manifest{}, fmt.Errorf("encode parquet export: %w", err)
	}

	csvKey, err := storage.BuildExportFilePath(fileID, FormatCSV)
	if err != nil {
		return Manifest{}, err
	}
	if _, err := s.store.Put(ctx, csvKey, bytes.NewReader(csvData), int64(len(csvData)), storage.PutOptions{ContentType: ContentType(FormatCSV)}); err != nil {
		return Manifest{}, fmt.Errorf("upload csv export: %w", err)
	}
	observability.IncrementExport(FormatCSV)

	parquetKey, err := storage.BuildExportFilePath(fileID, FormatParquet)
	if err != nil {
		return Manifest{}, err
	}
	if _, err := s.store.Put(ctx, parquetKey, bytes.NewReader(parquetData), int64(len(parquetData)), storage.PutOptions{ContentType: ContentType(FormatParquet)}); err != nil {
		return Manifest{}, fmt.Errorf("upload parquet export: %w", err)
	}
	observability.IncrementExport(FormatParquet)

	s.logger.Info("result exported",
		"file_id", fileID,
		"rows", len(result.Rows),
		"csv_bytes", len(csvData),
		"parquet_bytes", len(parquetData),
	)
	return Manifest{
		FileID:     fileID,
		CSVKey:     csvKey,
		ParquetKey: parquetKey,
		RowCount:   len(result.Rows),
		ExpiresAt:  time.Now().UTC().Add(s.ttl),
	}, nil
}

// Open streams a stored export. Expired objects are deleted on access and
// reported as ErrExpired.
func (s *Service) Open(ctx context.Context, fileID, format string) (io.ReadCloser, storage.ObjectInfo, error) {
	if !ValidFileID(fileID) {
		return nil, storage.ObjectInfo{}, ErrInvalidFileID
	}
	if !ValidFormat(format) {
		return nil, storage.ObjectInfo{}, ErrInvalidFormat
	}

	key, err := storage.BuildExportFilePath(fileID, format)
	if err != nil {
		return nil, storage.ObjectInfo{}, ErrInvalidFileID
	}
	info, err := s.store.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ObjectInfo{}, ErrNotFound
		}
		return nil, storage.ObjectInfo{}, fmt.Errorf("stat export object: %w", err)
	}
	if time.Since(info.LastModified) > s.ttl {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("delete expired export failed", "key", key, "error", err)
		}
		return nil, storage.ObjectInfo{}, ErrExpired
	}

	body, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ObjectInfo{}, ErrNotFound
		}
		return nil, storage.ObjectInfo{}, fmt.Errorf("get export object: %w", err)
	}
	return body, info, nil
}

func encodeCSV(result query.Result) []byte {
	buf := bytes.NewBuffer(nil)
	writer := csv.NewWriter(buf)
	_ = writer.Write(result.Columns)
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i := range result.Columns {
			if i < len(row) {
				record[i] = formatCell(row[i])
			} else {
				record[i] = ""
			}
		}
		_ = writer.Write(record)
	}
	writer.Flush()
	return buf.Bytes()
}

// encodeParquet builds a string-typed schema from the result columns. The
// executor already normalizes values to JSON-friendly scalars; stringifying
// keeps the schema independent of per-query column types.
func encodeParquet(result query.Result) ([]byte, error) {
	fields := parquet.Group{}
	for _, column := range result.Columns {
		fields[column] = parquet.String()
	}
	schema := parquet.NewSchema("export", fields)

	rows := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		record := make(map[string]any, len(result.Columns))
		for i, column := range result.Columns {
			if i < len(row) {
				record[column] = formatCell(row[i])
			} else {
				record[column] = ""
			}
		}
		rows = append(rows, record)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[map[string]any](buf, schema)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
