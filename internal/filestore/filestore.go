// Package filestore provides the local-filesystem delete-and-reopen
// primitive the async-open orchestrator uses for its schema-migration
// delete step.
package filestore

import (
	"fmt"
	"os"
)

// Remove deletes path, treating a missing file as success, since a caller
// that races a delete-and-reopen against a previous cancellation should
// not fail just because the file is already gone.
func Remove(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("filestore: failed to remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path names an existing file.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
