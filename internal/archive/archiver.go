// Package archive packages newly collected endpoint files into tar.gz
// containers, tracking what has already been archived so repeated runs stay
// incremental, and catalogs the containers it has produced.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"loghaul/internal/models"
)

// Archiver creates per-endpoint incremental archives under archiveDir from
// files collected under baseDir. Concurrent archiving of the same endpoint
// from separate processes is not supported; different endpoints are
// independent.
type Archiver struct {
	baseDir      string
	archiveDir   string
	minFreeBytes int64

	now func() time.Time
}

func New(baseDir, archiveDir string, minFreeBytes int64) *Archiver {
	return &Archiver{
		baseDir:      baseDir,
		archiveDir:   archiveDir,
		minFreeBytes: minFreeBytes,
		now:          time.Now,
	}
}

// CreateIncremental archives every file under the endpoint's directory that
// is not yet in its tracking set, then merges the archived paths into the
// set and persists it. Force mode bypasses the filter and archives every
// current file; it still only adds to the tracking set, never resets it.
// A nil container with a zero count means there was nothing to archive.
func (a *Archiver) CreateIncremental(endpoint string, force bool) (*models.ArchiveContainer, int, error) {
	endpointDir := filepath.Join(a.baseDir, endpoint)
	if _, err := os.Stat(endpointDir); err != nil {
		return nil, 0, fmt.Errorf("endpoint directory unavailable: %w", err)
	}

	tracked, err := loadTrackedSet(a.archiveDir, endpoint)
	if err != nil {
		return nil, 0, err
	}

	var candidates []string
	err = filepath.WalkDir(endpointDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.baseDir, path)
		if err != nil {
			return err
		}
		if force || !tracked.Contains(rel) {
			candidates = append(candidates, rel)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan endpoint directory: %w", err)
	}

	if len(candidates) == 0 {
		slog.Info("nothing to archive", "endpoint", endpoint)
		return nil, 0, nil
	}

	if err := a.checkFreeSpace(); err != nil {
		return nil, 0, err
	}

	sort.Strings(candidates)

	createdAt := a.now()
	archivePath := a.nextArchivePath(endpoint, createdAt)

	if err := a.writeArchive(archivePath, candidates); err != nil {
		// Never leave a partial container behind.
		os.Remove(archivePath)
		return nil, 0, err
	}

	// Tracking is saved after the archive write. A crash in between means
	// the next run re-includes these files: duplication, never loss.
	for _, rel := range candidates {
		tracked.Add(rel)
	}
	if err := saveTrackedSet(a.archiveDir, endpoint, tracked); err != nil {
		return nil, 0, err
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat archive: %w", err)
	}

	container := &models.ArchiveContainer{
		Path:      archivePath,
		Name:      filepath.Base(archivePath),
		Endpoint:  endpoint,
		SizeBytes: info.Size(),
		CreatedAt: createdAt,
		FileCount: len(candidates),
	}

	slog.Info("archive created", "endpoint", endpoint, "path", archivePath,
		"files", len(candidates), "size", models.HumanSize(info.Size()))

	return container, len(candidates), nil
}

// nextArchivePath picks <endpoint>_<timestamp>.tar.gz, bumping a numeric
// suffix if two archives land in the same second.
func (a *Archiver) nextArchivePath(endpoint string, createdAt time.Time) string {
	stamp := createdAt.Format("20060102_150405")
	path := filepath.Join(a.archiveDir, fmt.Sprintf("%s_%s.tar.gz", endpoint, stamp))
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(a.archiveDir, fmt.Sprintf("%s_%s_%d.tar.gz", endpoint, stamp, n))
	}
}

func (a *Archiver) writeArchive(archivePath string, relPaths []string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for _, rel := range relPaths {
		if err := a.addFile(tw, rel); err != nil {
			return fmt.Errorf("failed to add %s: %w", rel, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize compression: %w", err)
	}
	return f.Close()
}

func (a *Archiver) addFile(tw *tar.Writer, rel string) error {
	full := filepath.Join(a.baseDir, rel)

	info, err := os.Stat(full)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	// Preserve the path relative to the base directory inside the container.
	header.Name = filepath.ToSlash(rel)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	src, err := os.Open(full)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(tw, src)
	return err
}

func (a *Archiver) checkFreeSpace() error {
	if a.minFreeBytes <= 0 {
		return nil
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(a.archiveDir, &stat); err != nil {
		return fmt.Errorf("failed to stat archive filesystem: %w", err)
	}

	free := int64(stat.Bavail) * int64(stat.Bsize)
	if free < a.minFreeBytes {
		return fmt.Errorf("insufficient disk space for archiving: %s free, %s required",
			models.HumanSize(free), models.HumanSize(a.minFreeBytes))
	}
	return nil
}

// ArchiveAll runs one incremental pass per endpoint directory directly
// under the base directory, skipping the archive directory itself. One
// endpoint failing never blocks the others.
func (a *Archiver) ArchiveAll(force bool) []models.EndpointReport {
	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		slog.Error("failed to read storage base directory", "path", a.baseDir, "error", err)
		return nil
	}

	archiveBase := filepath.Base(a.archiveDir)

	var reports []models.EndpointReport
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == archiveBase {
			continue
		}

		endpoint := entry.Name()
		container, count, err := a.CreateIncremental(endpoint, force)

		report := models.EndpointReport{
			Endpoint:  endpoint,
			FileCount: count,
		}
		if err != nil {
			slog.Error("archiving failed", "endpoint", endpoint, "error", err)
			report.Error = err.Error()
		} else {
			report.Success = true
			if container != nil {
				report.ArchivePath = container.Path
			}
		}

		reports = append(reports, report)
	}

	return reports
}
