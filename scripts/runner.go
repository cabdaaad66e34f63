package scripts

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// maxStderr bounds how much stderr is kept in a CommandError.
const maxStderr = 2048

var execCommand = exec.CommandContext

// Runner executes external tools such as ffmpeg, ffprobe and yt-dlp.
type Runner struct {
	log logrus.FieldLogger
	env []string
}

// CommandRunner is the subset of Runner that callers depend on, so tests can
// substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

var _ CommandRunner = (*Runner)(nil)

func NewRunner(log logrus.FieldLogger, env ...string) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{log: log, env: env}
}

// Run executes name with args and returns its stdout.
func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	const op = "Runner.Run"

	r.log.WithFields(logrus.Fields{
		"command": name,
		"args":    strings.Join(args, " "),
	}).Debug("Executing command")

	cmd := execCommand(ctx, name, args...)
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}

	return r.executeCommand(op, cmd)
}

func (r *Runner) executeCommand(op string, cmd *exec.Cmd) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrOutput := tail(strings.TrimSpace(stderr.String()), maxStderr)
		r.log.WithFields(logrus.Fields{
			"command": cmd.Path,
			"stderr":  stderrOutput,
		}).WithError(err).Debug("Command failed")
		return nil, newCommandError(op, cmd.Path, err, stderrOutput, "command execution failed")
	}

	return stdout.Bytes(), nil
}

// LookPath resolves a tool name to an executable path.
func LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", newCommandError("scripts.LookPath", name, err, "", "executable not found")
	}
	return path, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
