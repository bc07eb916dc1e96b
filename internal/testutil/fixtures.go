package testutil

import (
	"time"

	"loghaul/internal/models"
)

// SampleJob creates a job descriptor with sensible defaults
func SampleJob(overrides ...func(*models.JobDescriptor)) models.JobDescriptor {
	job := models.JobDescriptor{
		Host:        "web1",
		Application: "nginx",
		RemotePath:  "/var/log/nginx",
		LocalPath:   "/tmp/logs/web1/nginx",
		Credentials: models.Credentials{
			User: "collector",
			Port: 22,
		},
		Flags: []string{"-a"},
	}

	for _, override := range overrides {
		override(&job)
	}

	return job
}

// SampleOutcome creates a job outcome for the given host and application.
// Failed outcomes carry a non-zero exit code and an rsync stderr message.
func SampleOutcome(host, app string, success bool) models.JobOutcome {
	outcome := models.JobOutcome{
		Job: SampleJob(func(j *models.JobDescriptor) {
			j.Host = host
			j.Application = app
			j.RemotePath = "/var/log/" + app
		}),
		Success:  success,
		Attempts: 1,
		Duration: time.Second,
	}

	if !success {
		outcome.ExitCode = 12
		outcome.Stderr = "rsync error"
		outcome.Attempts = 3
	}

	return outcome
}
