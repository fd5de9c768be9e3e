// Package supervise launches managed benchmark targets, gates every
// target on its health endpoint, and tears whole process trees down
// when the run finishes.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tokensweep/tokensweep/internal/remote"
	"github.com/tokensweep/tokensweep/internal/sample"
	"github.com/tokensweep/tokensweep/pkg/models"
)

// Sentinel errors for the launch pipeline, so callers can tell which
// phase lost the target
var (
	ErrBuildFailed  = errors.New("target build failed")
	ErrLaunchFailed = errors.New("target launch failed")
	ErrUnhealthy    = errors.New("target never became healthy")
)

// LaunchStrategy brings one managed target process up and down
type LaunchStrategy interface {
	// Build prepares the binary to run. No-op for prebuilt commands.
	Build(ctx context.Context) error

	// Start launches the process and returns its PID
	Start(ctx context.Context) (int, error)

	// SampleProvider returns a provider able to watch the started
	// process. Valid once Start has succeeded; nil disables sampling.
	SampleProvider() sample.Provider

	// Terminate stops the process and cleans up whatever Build and
	// Start left behind. Safe to call more than once.
	Terminate(ctx context.Context) error
}

// strategyConfig carries the supervisor settings a strategy needs
type strategyConfig struct {
	logDir       string
	pidDir       string
	grace        time.Duration
	providerName string
	logger       *slog.Logger
	sshExec      *remote.Executor
}

// newStrategy picks the launch mechanism from the target's spec
func newStrategy(target models.Target, cfg strategyConfig) (LaunchStrategy, error) {
	launch := target.Launch
	if launch == nil {
		return nil, fmt.Errorf("target %s is managed but has no launch spec", target.ID)
	}
	if launch.Remote != nil {
		return newRemoteStrategy(target, cfg)
	}
	if launch.BuildDir != "" {
		return newGoToolStrategy(target, cfg)
	}
	if len(launch.Command) == 0 {
		return nil, fmt.Errorf("target %s launch spec has neither build_dir nor command", target.ID)
	}
	return newCommandStrategy(target, cfg)
}
