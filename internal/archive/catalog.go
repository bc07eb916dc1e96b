package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"loghaul/internal/models"
)

// archiveNamePattern matches <endpoint>_<YYYYMMDD_HHMMSS>[_n].tar.gz.
var archiveNamePattern = regexp.MustCompile(`^(.+)_(\d{8}_\d{6})(?:_\d+)?\.tar\.gz$`)

// Catalog enumerates produced containers. It never mutates container
// storage.
type Catalog struct {
	archiveDir string
}

func NewCatalog(archiveDir string) *Catalog {
	return &Catalog{archiveDir: archiveDir}
}

// List returns containers sorted newest first, optionally filtered by an
// endpoint-name prefix.
func (c *Catalog) List(endpointPrefix string) ([]models.ArchiveContainer, error) {
	entries, err := os.ReadDir(c.archiveDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var containers []models.ArchiveContainer
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		match := archiveNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		endpoint := match[1]

		if endpointPrefix != "" && !strings.HasPrefix(endpoint, endpointPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		containers = append(containers, models.ArchiveContainer{
			Path:      filepath.Join(c.archiveDir, entry.Name()),
			Name:      entry.Name(),
			Endpoint:  endpoint,
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(containers, func(i, j int) bool {
		return containers[i].CreatedAt.After(containers[j].CreatedAt)
	})

	return containers, nil
}

// Summary groups the catalog by endpoint, keeping the most recent N
// containers per group. Groups are sorted by endpoint name.
func (c *Catalog) Summary(recentN int) ([]models.EndpointArchives, error) {
	containers, err := c.List("")
	if err != nil {
		return nil, err
	}

	byEndpoint := make(map[string]*models.EndpointArchives)
	for _, container := range containers {
		group := byEndpoint[container.Endpoint]
		if group == nil {
			group = &models.EndpointArchives{Endpoint: container.Endpoint}
			byEndpoint[container.Endpoint] = group
		}
		group.Count++
		group.TotalSize += container.SizeBytes
		if len(group.Recent) < recentN {
			// List is newest-first, so the first N seen are the most recent.
			group.Recent = append(group.Recent, container)
		}
	}

	summary := make([]models.EndpointArchives, 0, len(byEndpoint))
	for _, group := range byEndpoint {
		summary = append(summary, *group)
	}
	sort.Slice(summary, func(i, j int) bool {
		return summary[i].Endpoint < summary[j].Endpoint
	})

	return summary, nil
}
