package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, service string, startTime time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", service, startTime.Format("20060102_150405")),
	)
}
