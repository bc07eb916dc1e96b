package engine

import (
	"fmt"
	"strings"

	"loghaul/internal/models"
)

// sshOptions are applied to every ssh invocation, both the rsync transport
// and standalone remote commands.
const sshBaseOptions = "-o BatchMode=yes -o ConnectTimeout=10 -o LogLevel=ERROR"

// sshCommand builds the remote-shell invocation string handed to rsync -e,
// carrying port, host-key policy, identity file and any jump-host chain.
func sshCommand(cred models.Credentials, strictHostKey bool) string {
	var b strings.Builder
	b.WriteString("ssh ")
	b.WriteString(sshBaseOptions)
	fmt.Fprintf(&b, " -p %d", cred.Port)

	if !strictHostKey {
		b.WriteString(" -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null")
	}
	if cred.KeyFile != "" {
		fmt.Fprintf(&b, " -i %s", cred.KeyFile)
	}
	if len(cred.Gateways) > 0 {
		hops := make([]string, len(cred.Gateways))
		for i, gw := range cred.Gateways {
			hops[i] = gw.String()
		}
		fmt.Fprintf(&b, " -o ProxyJump=%s", strings.Join(hops, ","))
	}

	return b.String()
}

// buildRsyncArgs assembles the argument list for one transfer attempt.
// The local destination gets a trailing slash so rsync treats it as a
// directory target.
func buildRsyncArgs(job models.JobDescriptor, strictHostKey, dryRun bool) []string {
	args := make([]string, 0, len(job.Flags)+6)
	args = append(args, job.Flags...)

	if !containsVerbose(job.Flags) {
		args = append(args, "-v")
	}
	if dryRun {
		args = append(args, "--dry-run")
	}

	args = append(args, "-e", sshCommand(job.Credentials, strictHostKey))

	source := fmt.Sprintf("%s@%s:%s", job.Credentials.User, job.Host, job.RemotePath)
	args = append(args, source, job.LocalPath+"/")

	return args
}

func containsVerbose(flags []string) bool {
	for _, f := range flags {
		if f == "-v" || f == "--verbose" {
			return true
		}
	}
	return false
}

// SSHArgs assembles arguments for running one remote command over ssh,
// independent of rsync. Shared with the journal exporter and host prober.
func SSHArgs(cred models.Credentials, host, remoteCmd string, strictHostKey bool) []string {
	args := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=10",
		"-o", "LogLevel=ERROR",
		"-p", fmt.Sprintf("%d", cred.Port),
	}

	if !strictHostKey {
		args = append(args,
			"-o", "StrictHostKeyChecking=no",
			"-o", "UserKnownHostsFile=/dev/null")
	}
	if cred.KeyFile != "" {
		args = append(args, "-i", cred.KeyFile)
	}
	if len(cred.Gateways) > 0 {
		hops := make([]string, len(cred.Gateways))
		for i, gw := range cred.Gateways {
			hops[i] = gw.String()
		}
		args = append(args, "-o", "ProxyJump="+strings.Join(hops, ","))
	}
	if cred.User != "" {
		args = append(args, "-l", cred.User)
	}

	return append(args, host, remoteCmd)
}
