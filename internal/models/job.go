package models

import (
	"fmt"
	"path"
	"time"
)

// Credentials identifies how to reach a remote host over SSH.
type Credentials struct {
	User     string    `json:"user"`
	Port     int       `json:"port"`
	KeyFile  string    `json:"key_file,omitempty"`
	Gateways []Gateway `json:"gateways,omitempty"`
}

// Gateway is one hop of an SSH jump-host chain.
type Gateway struct {
	Host string `json:"host"`
	User string `json:"user"`
	Port int    `json:"port"`
}

func (g Gateway) String() string {
	if g.User != "" {
		return fmt.Sprintf("%s@%s:%d", g.User, g.Host, g.Port)
	}
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// JobDescriptor describes one remote-to-local copy task for a single
// (host, application) pair. Descriptors are immutable once built and are
// never persisted.
type JobDescriptor struct {
	Host        string      `json:"host"`
	Application string      `json:"application"`
	RemotePath  string      `json:"remote_path"`
	LocalPath   string      `json:"local_path"`
	Credentials Credentials `json:"credentials"`
	Flags       []string    `json:"flags,omitempty"`
}

// Label returns the host/application tag used in logs and reports.
func (d JobDescriptor) Label() string {
	return path.Join(d.Host, d.Application)
}

// JobOutcome is the terminal result of executing one JobDescriptor,
// including every retry attempt.
type JobOutcome struct {
	Job      JobDescriptor `json:"job"`
	Success  bool          `json:"success"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
}

// Summary aggregates outcomes for the caller's display and exit-code
// decision.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}
