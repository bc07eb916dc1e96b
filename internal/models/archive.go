package models

import "time"

// ArchiveContainer describes one produced archive on disk. Immutable once
// created; removal is an operator action outside this system.
type ArchiveContainer struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Endpoint  string    `json:"endpoint"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	FileCount int       `json:"file_count,omitempty"`
}

// EndpointReport is the per-endpoint result of one archiving pass.
type EndpointReport struct {
	Endpoint    string `json:"endpoint"`
	Success     bool   `json:"success"`
	ArchivePath string `json:"archive_path,omitempty"`
	FileCount   int    `json:"file_count"`
	Error       string `json:"error,omitempty"`
}

// EndpointArchives groups catalog entries for one endpoint.
type EndpointArchives struct {
	Endpoint  string             `json:"endpoint"`
	Count     int                `json:"count"`
	TotalSize int64              `json:"total_size"`
	Recent    []ArchiveContainer `json:"recent"`
}
