package reporting

import (
	"os"
	"path/filepath"
)

// DefaultReportDir is where exports go when no directory is configured
const DefaultReportDir = "reports"

// ReportPath joins a file name onto dir, defaulting the directory
func ReportPath(dir, name string) string {
	if dir == "" {
		dir = DefaultReportDir
	}
	return filepath.Join(dir, name)
}

// EnsureDirectoryExists creates the parent directory of path
func EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
