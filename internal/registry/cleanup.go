package registry

import (
	"log/slog"
	"os"
)

// RemovePathsBestEffort deletes each path recursively. Failures are logged and
// swallowed so one stubborn path never blocks removal of the rest.
func RemovePathsBestEffort(logger *slog.Logger, paths []string) {
	for _, p := range paths {
		RemovePathBestEffort(logger, p)
	}
}

// RemovePathBestEffort deletes path recursively, logging instead of failing.
func RemovePathBestEffort(logger *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil && logger != nil {
		logger.Warn("cleanup failed", "path", path, "error", err)
	}
}
