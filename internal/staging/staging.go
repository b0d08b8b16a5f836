// Package staging manages the local staging filesystem namespace.
//
// Every run stages its artifacts under paths derived from the run date
// plus a monotonic attempt counter, so two attempts for the same date can
// never clobber each other's partially written files. Successful runs
// delete their artifacts stage by stage; files left behind by failed runs
// are removed by Sweep once they age past the retention window.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lakeship/lakeship/internal/pipeline"
)

const (
	filePrefix  = "telemetry_"
	rowExt      = ".csv"
	columnarExt = ".parquet"
)

// RowPath returns the row-format staging path for a run.
func RowPath(dir string, rc pipeline.RunContext) string {
	return filepath.Join(dir, fmt.Sprintf("%s%s_a%d%s", filePrefix, rc.DateString(), rc.Attempt, rowExt))
}

// ColumnarPath returns the columnar sibling of a row-format path.
func ColumnarPath(rowPath string) string {
	return strings.TrimSuffix(rowPath, rowExt) + columnarExt
}

// ObjectFilename returns the destination filename for a run. Unlike
// staging paths it carries no attempt counter: the same run date always
// maps to the same object, so a rerun overwrites rather than duplicates.
func ObjectFilename(rc pipeline.RunContext) string {
	return filePrefix + rc.DateString() + columnarExt
}

// EnsureDir creates the staging directory if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// SweepResult holds the outcome of one sweep.
type SweepResult struct {
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// Sweep removes staging files older than the retention window. Files that
// do not belong to the staging namespace are never touched. With dryRun
// set, candidates are counted but not deleted.
func Sweep(dir string, olderThan time.Duration, dryRun bool) (SweepResult, error) {
	var result SweepResult

	cutoff := time.Now().Add(-olderThan)

	files, err := listStagingFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("list staging files: %w", err)
	}

	for _, file := range files {
		if file.modTime.After(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", file.path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += file.size
	}

	return result, nil
}

// fileInfo holds information about a staging file.
type fileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

// listStagingFiles lists files belonging to the staging namespace.
func listStagingFiles(dir string) ([]fileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) {
			continue
		}
		if ext := filepath.Ext(name); ext != rowExt && ext != columnarExt {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, fileInfo{
			path:    filepath.Join(dir, name),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	// Oldest first
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	return files, nil
}
