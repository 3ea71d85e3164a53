package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/jwulff/clinote/internal/observability"
)

// ExecInjector restarts the capture agent as a child process, typically
// the clinote binary itself with the agent subcommand.
type ExecInjector struct {
	Path string
	Args []string
}

func (e ExecInjector) Inject(ctx context.Context) error {
	cmd := exec.Command(e.Path, e.Args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start capture agent: %w", err)
	}
	log := observability.LoggerFromContext(ctx)
	log.Info("capture agent started", "pid", cmd.Process.Pid)
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warn("capture agent exited", "error", err)
		}
	}()
	return nil
}
