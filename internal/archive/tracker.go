package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TrackedSet is the persisted set of relative paths already archived for
// one endpoint. It only ever grows under normal operation.
type TrackedSet map[string]struct{}

func (t TrackedSet) Contains(path string) bool {
	_, ok := t[path]
	return ok
}

func (t TrackedSet) Add(path string) {
	t[path] = struct{}{}
}

// trackingFilePath returns the hidden per-endpoint tracking file kept next
// to the archives.
func trackingFilePath(archiveDir, endpoint string) string {
	return filepath.Join(archiveDir, fmt.Sprintf(".%s_tracked.txt", endpoint))
}

// loadTrackedSet reads the tracking file, one relative path per line. A
// missing file yields an empty set.
func loadTrackedSet(archiveDir, endpoint string) (TrackedSet, error) {
	tracked := make(TrackedSet)

	f, err := os.Open(trackingFilePath(archiveDir, endpoint))
	if err != nil {
		if os.IsNotExist(err) {
			return tracked, nil
		}
		return nil, fmt.Errorf("failed to open tracking file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			tracked.Add(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tracking file: %w", err)
	}

	return tracked, nil
}

// saveTrackedSet rewrites the tracking file, sorted for deterministic
// output. The write goes through a temp file and rename so a crash never
// leaves a half-written tracking set.
func saveTrackedSet(archiveDir, endpoint string, tracked TrackedSet) error {
	paths := make([]string, 0, len(tracked))
	for p := range tracked {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	target := trackingFilePath(archiveDir, endpoint)
	tmp := target + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create tracking file: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, p := range paths {
		fmt.Fprintln(w, p)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write tracking file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close tracking file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace tracking file: %w", err)
	}

	return nil
}
