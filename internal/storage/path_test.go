package storage

import (
	"strings"
	"testing"
)

func TestBuildExportFilePath(t *testing.T) {
	fileID := strings.Repeat("ab", 16)
	got, err := BuildExportFilePath(fileID, "parquet")
	if err != nil {
		t.Fatalf("BuildExportFilePath() error = %v", err)
	}
	if got != "exports/"+fileID+".parquet" {
		t.Fatalf("BuildExportFilePath() = %q", got)
	}
}

func TestBuildExportFilePathRejectsBadFileIDs(t *testing.T) {
	for _, fileID := range []string{
		"",
		"short",
		strings.Repeat("A", 32),
		strings.Repeat("a", 33),
		"../" + strings.Repeat("a", 29),
		"g" + strings.Repeat("a", 31),
	} {
		if _, err := BuildExportFilePath(fileID, "csv"); err == nil {
			t.Fatalf("BuildExportFilePath(%q) expected error", fileID)
		}
	}
}

func TestBuildExportFilePathRejectsUnknownFormat(t *testing.T) {
	fileID := strings.Repeat("ab", 16)
	for _, format := range []string{"", "xlsx", "csv/../parquet"} {
		if _, err := BuildExportFilePath(fileID, format); err == nil {
			t.Fatalf("BuildExportFilePath(format=%q) expected error", format)
		}
	}
}
