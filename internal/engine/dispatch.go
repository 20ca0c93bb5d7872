package engine

import (
	"os"
	"os/exec"
	"time"

	shellquote "github.com/kballard/go-shellquote"

	"stepflow-monitor/internal/apperrors"
)

// awaitExit asks a running child to exit gracefully (SIGINT/os.Interrupt,
// the portable signal Go exposes on every platform) and escalates to a
// hard Kill if it hasn't exited within grace — the signal-then-grace-
// then-kill sequence spec §4.E requires for both cancellation and
// timeout.
func awaitExit(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}
	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return <-waitCh
	}
}

// buildCommand implements spec §4.E's shell-vs-argv dispatch: req.Shell
// runs the command through "sh -c" so operators can use pipelines and
// redirection; otherwise the command line is split with shell-quoting
// rules (so a quoted argument containing spaces still comes through as
// one argv element) and exec'd directly, with no shell in between.
func buildCommand(req Request) (*exec.Cmd, error) {
	if req.Shell {
		return exec.Command("sh", "-c", req.Command), nil
	}

	args, err := shellquote.Split(req.Command)
	if err != nil {
		return nil, apperrors.NewValidation("split command %q: %v", req.Command, err)
	}
	if len(args) == 0 {
		return nil, apperrors.NewValidation("command %q has no program to run", req.Command)
	}
	return exec.Command(args[0], args[1:]...), nil
}
