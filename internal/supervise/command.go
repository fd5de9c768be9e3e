package supervise

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/tokensweep/tokensweep/internal/sample"
	"github.com/tokensweep/tokensweep/pkg/models"
)

// commandStrategy runs a prebuilt binary as-is
type commandStrategy struct {
	proc     *localProcess
	provider sample.Provider
}

func newCommandStrategy(target models.Target, cfg strategyConfig) (*commandStrategy, error) {
	provider, err := sample.NewProvider(cfg.providerName, cfg.logger)
	if err != nil {
		return nil, err
	}
	launch := target.Launch

	return &commandStrategy{
		proc: &localProcess{
			id:      target.ID,
			argv:    launch.Command,
			dir:     launch.Dir,
			env:     launch.Env,
			logPath: logFilePath(cfg.logDir, target.ID),
			pidPath: pidFilePath(cfg.pidDir, target.ID),
			grace:   cfg.grace,
			logger:  cfg.logger,
		},
		provider: provider,
	}, nil
}

// Build only confirms the binary resolves, catching typos before Start
func (c *commandStrategy) Build(_ context.Context) error {
	if _, err := exec.LookPath(c.proc.argv[0]); err != nil {
		return fmt.Errorf("command not found: %w", err)
	}
	return nil
}

func (c *commandStrategy) Start(ctx context.Context) (int, error) {
	return c.proc.start(ctx)
}

func (c *commandStrategy) SampleProvider() sample.Provider {
	return c.provider
}

func (c *commandStrategy) Terminate(ctx context.Context) error {
	return c.proc.terminate(ctx)
}
