package storage

import (
	"fmt"
	"path"
	"regexp"
)

// Export file ids are the 32 lowercase hex digits of a random UUID. The
// pattern doubles as path-traversal protection: ids are validated before
// any object key is built from request input.
var exportFileIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

var exportFormats = map[string]bool{
	"csv":     true,
	"parquet": true,
}

func ValidExportFileID(fileID string) bool {
	return exportFileIDPattern.MatchString(fileID)
}

func ValidExportFormat(format string) bool {
	return exportFormats[format]
}

// BuildExportFilePath returns the object key for one export encoding, e.g.
// exports/3f2a...9c.parquet.
func BuildExportFilePath(fileID, format string) (string, error) {
	if !ValidExportFileID(fileID) {
		return "", fmt.Errorf("invalid export file id: %q", fileID)
	}
	if !ValidExportFormat(format) {
		return "", fmt.Errorf("invalid export format: %q", format)
	}
	return path.Join("exports", fileID+"."+format), nil
}
