package pipeline

import (
	"fmt"
	"os"
)

// ReadUpload reads an upload from the filesystem. An empty path leaves that
// part of the upload empty.
func ReadUpload(csvPath, archivePath string) (Upload, error) {
	var up Upload
	if csvPath != "" {
		data, err := os.ReadFile(csvPath)
		if err != nil {
			return Upload{}, fmt.Errorf("read station table: %w", err)
		}
		up.CSV = data
	}
	if archivePath != "" {
		data, err := os.ReadFile(archivePath)
		if err != nil {
			return Upload{}, fmt.Errorf("read geometry archive: %w", err)
		}
		up.Archive = data
	}
	return up, nil
}
