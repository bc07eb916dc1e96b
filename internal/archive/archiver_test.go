package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchiver(t *testing.T) (*Archiver, string, string) {
	t.Helper()
	baseDir := t.TempDir()
	archiveDir := filepath.Join(baseDir, "archives")
	require.NoError(t, os.MkdirAll(archiveDir, 0755))
	return New(baseDir, archiveDir, 0), baseDir, archiveDir
}

func writeEndpointFile(t *testing.T, baseDir, endpoint, rel, content string) {
	t.Helper()
	path := filepath.Join(baseDir, endpoint, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func tarEntries(t *testing.T, archivePath string) []string {
	t.Helper()
	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, header.Name)
	}
	return names
}

func TestCreateIncremental_FirstRunArchivesEverything(t *testing.T) {
	archiver, baseDir, _ := newTestArchiver(t)

	writeEndpointFile(t, baseDir, "node1", "nginx/access.log", "a")
	writeEndpointFile(t, baseDir, "node1", "nginx/sub/error.log", "b")

	container, count, err := archiver.CreateIncremental("node1", false)
	require.NoError(t, err)
	require.NotNil(t, container)

	assert.Equal(t, 2, count)
	assert.Equal(t, "node1", container.Endpoint)
	assert.FileExists(t, container.Path)
	assert.ElementsMatch(t, []string{"node1/nginx/access.log", "node1/nginx/sub/error.log"}, tarEntries(t, container.Path))
}

func TestCreateIncremental_SecondRunIsIdempotent(t *testing.T) {
	archiver, baseDir, archiveDir := newTestArchiver(t)
	writeEndpointFile(t, baseDir, "node1", "nginx/access.log", "a")

	_, _, err := archiver.CreateIncremental("node1", false)
	require.NoError(t, err)

	container, count, err := archiver.CreateIncremental("node1", false)
	require.NoError(t, err)
	assert.Nil(t, container, "unchanged tree yields no new container")
	assert.Equal(t, 0, count)

	entries, err := os.ReadDir(archiveDir)
	require.NoError(t, err)
	archives := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".gz" {
			archives++
		}
	}
	assert.Equal(t, 1, archives)
}

func TestCreateIncremental_NewFileYieldsExactlyThatFile(t *testing.T) {
	archiver, baseDir, _ := newTestArchiver(t)
	writeEndpointFile(t, baseDir, "node1", "nginx/access.log", "a")

	_, _, err := archiver.CreateIncremental("node1", false)
	require.NoError(t, err)

	writeEndpointFile(t, baseDir, "node1", "nginx/new.log", "new")

	container, count, err := archiver.CreateIncremental("node1", false)
	require.NoError(t, err)
	require.NotNil(t, container)

	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"node1/nginx/new.log"}, tarEntries(t, container.Path))
}

func TestCreateIncremental_ForceArchivesAllAndMergesTracking(t *testing.T) {
	archiver, baseDir, archiveDir := newTestArchiver(t)
	writeEndpointFile(t, baseDir, "node1", "nginx/access.log", "a")

	_, _, err := archiver.CreateIncremental("node1", false)
	require.NoError(t, err)

	writeEndpointFile(t, baseDir, "node1", "nginx/new.log", "new")

	container, count, err := archiver.CreateIncremental("node1", true)
	require.NoError(t, err)
	require.NotNil(t, container)
	assert.Equal(t, 2, count, "force bypasses the tracking filter")

	// Force only adds to the tracking set; a following normal run sees
	// nothing new.
	tracked, err := loadTrackedSet(archiveDir, "node1")
	require.NoError(t, err)
	assert.True(t, tracked.Contains("node1/nginx/access.log"))
	assert.True(t, tracked.Contains("node1/nginx/new.log"))

	next, _, err := archiver.CreateIncremental("node1", false)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCreateIncremental_EmptyEndpointIsNotAnError(t *testing.T) {
	archiver, baseDir, _ := newTestArchiver(t)
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "node1"), 0755))

	container, count, err := archiver.CreateIncremental("node1", false)
	require.NoError(t, err)
	assert.Nil(t, container)
	assert.Equal(t, 0, count)
}

func TestCreateIncremental_MissingEndpointDirectory(t *testing.T) {
	archiver, _, _ := newTestArchiver(t)

	_, _, err := archiver.CreateIncremental("ghost", false)
	require.Error(t, err)
}

func TestTrackingFileFormat(t *testing.T) {
	archiver, baseDir, archiveDir := newTestArchiver(t)
	writeEndpointFile(t, baseDir, "node1", "b.log", "b")
	writeEndpointFile(t, baseDir, "node1", "a.log", "a")

	_, _, err := archiver.CreateIncremental("node1", false)
	require.NoError(t, err)

	data, err := os.ReadFile(trackingFilePath(archiveDir, "node1"))
	require.NoError(t, err)
	assert.Equal(t, "node1/a.log\nnode1/b.log\n", string(data), "one sorted relative path per line")
}

func TestArchiveAll_IsolatesEndpointFailures(t *testing.T) {
	archiver, baseDir, archiveDir := newTestArchiver(t)

	writeEndpointFile(t, baseDir, "broken", "app.log", "x")
	writeEndpointFile(t, baseDir, "healthy", "app.log", "y")

	// Corrupt the broken endpoint's tracking state: a directory where the
	// tracking file should be makes its load fail.
	require.NoError(t, os.MkdirAll(trackingFilePath(archiveDir, "broken"), 0755))

	reports := archiver.ArchiveAll(false)
	require.Len(t, reports, 2)

	byEndpoint := make(map[string]bool)
	for _, report := range reports {
		byEndpoint[report.Endpoint] = report.Success
		if report.Endpoint == "broken" {
			assert.NotEmpty(t, report.Error)
		}
	}

	assert.False(t, byEndpoint["broken"])
	assert.True(t, byEndpoint["healthy"], "one endpoint's failure never blocks another")
}

func TestArchiveAll_SkipsArchiveDirectory(t *testing.T) {
	archiver, baseDir, _ := newTestArchiver(t)
	writeEndpointFile(t, baseDir, "node1", "app.log", "x")

	reports := archiver.ArchiveAll(false)

	require.Len(t, reports, 1)
	assert.Equal(t, "node1", reports[0].Endpoint)
}
