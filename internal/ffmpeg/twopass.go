package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DeleteTwoPassLogs removes the rate-control logs a two-pass encode leaves in
// the given directory.
func DeleteTwoPassLogs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name(), "ffmpeg2pass-0") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", entry.Name(), err)
		}
	}
	return nil
}
