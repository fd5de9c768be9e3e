package supervise

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tokensweep/tokensweep/internal/sample"
	"github.com/tokensweep/tokensweep/pkg/models"
)

// buildOutputLimit keeps compiler spew out of error chains
const buildOutputLimit = 2000

// goToolStrategy compiles a Go package and runs the result
type goToolStrategy struct {
	proc      *localProcess
	buildDir  string
	extraArgs []string
	buildTmp  string
	provider  sample.Provider
}

func newGoToolStrategy(target models.Target, cfg strategyConfig) (*goToolStrategy, error) {
	provider, err := sample.NewProvider(cfg.providerName, cfg.logger)
	if err != nil {
		return nil, err
	}
	launch := target.Launch

	var extraArgs []string
	if len(launch.Command) > 1 {
		extraArgs = launch.Command[1:]
	}

	return &goToolStrategy{
		proc: &localProcess{
			id:      target.ID,
			dir:     launch.Dir,
			env:     launch.Env,
			logPath: logFilePath(cfg.logDir, target.ID),
			pidPath: pidFilePath(cfg.pidDir, target.ID),
			grace:   cfg.grace,
			logger:  cfg.logger,
		},
		buildDir:  launch.BuildDir,
		extraArgs: extraArgs,
		provider:  provider,
	}, nil
}

func (g *goToolStrategy) Build(ctx context.Context) error {
	tmp, err := os.MkdirTemp("", "tokensweep-build-")
	if err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}
	g.buildTmp = tmp

	binPath := filepath.Join(tmp, binaryName(g.proc.id))
	if err := buildGoPackage(ctx, g.buildDir, binPath, "", ""); err != nil {
		return err
	}
	g.proc.argv = append([]string{binPath}, g.extraArgs...)
	return nil
}

func (g *goToolStrategy) Start(ctx context.Context) (int, error) {
	return g.proc.start(ctx)
}

func (g *goToolStrategy) SampleProvider() sample.Provider {
	return g.provider
}

func (g *goToolStrategy) Terminate(ctx context.Context) error {
	err := g.proc.terminate(ctx)
	if g.buildTmp != "" {
		_ = os.RemoveAll(g.buildTmp)
		g.buildTmp = ""
	}
	return err
}

// buildGoPackage compiles the package in dir into outPath. CGO stays
// off so the binary also travels to remote hosts without a libc match.
func buildGoPackage(ctx context.Context, dir, outPath, goos, goarch string) error {
	cmd := exec.CommandContext(ctx, "go", "build", "-o", outPath, ".")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if goos != "" {
		cmd.Env = append(cmd.Env, "GOOS="+goos)
	}
	if goarch != "" {
		cmd.Env = append(cmd.Env, "GOARCH="+goarch)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("go build in %s failed: %w: %s", dir, err, trimBuildOutput(out))
	}
	return nil
}

func trimBuildOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > buildOutputLimit {
		s = s[:buildOutputLimit] + "..."
	}
	return s
}

func binaryName(targetID string) string {
	if runtime.GOOS == "windows" {
		return targetID + ".exe"
	}
	return targetID
}

func logFilePath(dir, targetID string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, targetID+".log")
}
