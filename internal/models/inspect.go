package models

import "fmt"

// RemoteFileRecord is one entry parsed from a remote listing. Scoped to a
// single inspection call.
type RemoteFileRecord struct {
	Name        string `json:"name"`
	SizeBytes   int64  `json:"size_bytes"`
	Permissions string `json:"permissions"`
	IsDir       bool   `json:"is_dir"`
	ModTime     string `json:"mod_time"`
}

// InspectionResult is the per (host, application) outcome of a read-only
// remote inspection. Either Exists is true and the file fields are
// populated, or Exists is false and Error describes why.
type InspectionResult struct {
	RemotePath        string             `json:"remote_path"`
	Exists            bool               `json:"exists"`
	Files             []RemoteFileRecord `json:"files,omitempty"`
	FileCount         int                `json:"file_count"`
	TotalSize         int64              `json:"total_size"`
	Error             string             `json:"error,omitempty"`
	ConnectivityError bool               `json:"connectivity_error,omitempty"`
}

// InspectionReport maps host -> application -> inspection result.
type InspectionReport map[string]map[string]InspectionResult

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// HumanSize formats a byte count using binary (1024-based) units, with one
// decimal place except for whole bytes.
func HumanSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	value := float64(n)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", value, sizeUnits[unit])
}
