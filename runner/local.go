package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/shuttle-ci/shuttle/log"
)

// waitDelay bounds how long we wait for a killed process group to
// actually exit before abandoning its pipes.
const waitDelay = 5 * time.Second

// Local runs commands as child processes of this one. Each command
// gets its own process group so cancellation kills the whole tree,
// not just the shell.
type Local struct {
	shell string
	l     *slog.Logger
}

func NewLocal(ctx context.Context) *Local {
	return &Local{
		shell: "sh",
		l:     log.FromContext(ctx).With("component", "runner"),
	}
}

func (r *Local) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, r.shell, "-c", cmd.Text)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		// negative pid targets the process group
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
	c.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.l.Debug("running command", "command", cmd.Text, "dir", cmd.Dir)

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}

	return res, nil
}
