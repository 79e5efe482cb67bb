// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// readCollection loads a JSON array from path. A missing file yields an
// empty collection. An unreadable file is moved aside so the next write
// cannot destroy it, and also yields an empty collection.
func readCollection[R any](path string) []R {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("collection_unreadable", "path", path, "error", err)
		}
		return nil
	}

	var records []R
	if err := json.Unmarshal(data, &records); err != nil {
		quarantine(path, err)
		return nil
	}
	return records
}

// quarantine renames a corrupt file out of the way.
func quarantine(path string, cause error) {
	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixNano())
	if err := os.Rename(path, aside); err != nil {
		slog.Error("collection_quarantine_failed", "path", path, "error", err)
		return
	}
	slog.Warn("collection_corrupt", "path", path, "moved_to", aside, "error", cause)
}

// writeCollection replaces path with records. The data is written to a
// temporary file in the same directory and renamed over the target, so a
// crash leaves either the old or the new content.
func writeCollection[R any](path string, records []R) error {
	if records == nil {
		records = []R{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", filepath.Base(path), err)
	}

	return os.Rename(tmpName, path)
}
