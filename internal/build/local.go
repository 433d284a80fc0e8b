package build

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/astracloud/astra-extras/internal/platform"
)

// LocalBuilder builds with a local docker engine and pushes the result
// to the platform registry. Registry login is the engine's business; no
// credential merging happens here.
type LocalBuilder struct {
	api    PlatformAPI
	runner platform.Runner
	logger *slog.Logger
}

// NewLocalBuilder wires a docker-engine builder.
func NewLocalBuilder(api PlatformAPI, runner platform.Runner, logger *slog.Logger) *LocalBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBuilder{api: api, runner: runner, logger: logger}
}

// Build runs docker build followed by docker push. Build failures keep
// the docker exit code reachable through platform.ExitCode.
func (b *LocalBuilder) Build(ctx context.Context, opts Options) error {
	session, ref, err := preflight(ctx, b.api, opts, b.logger)
	if err != nil {
		return err
	}
	if opts.ExtraKanikoArgs != "" {
		b.logger.Warn("extra kaniko args are ignored for local builds")
	}

	dockerURL := ref.DockerURL(session)
	dockerfile := filepath.Join(opts.ContextDir, opts.Dockerfile)
	b.logger.Info("building image locally", "image", ref.String(), "context", opts.ContextDir)

	args := []string{"build", "--tag=" + dockerURL, "--file=" + dockerfile}
	if !opts.Verbose {
		args = append(args, "--quiet")
	}
	for _, arg := range opts.BuildArgs {
		args = append(args, "--build-arg", arg)
	}
	args = append(args, opts.ContextDir)

	if err := b.runner.Run(ctx, "docker", args...); err != nil {
		return fmt.Errorf("docker build: %w", err)
	}

	b.logger.Info("pushing image", "image", dockerURL)
	if err := b.runner.Run(ctx, "docker", "push", dockerURL); err != nil {
		return fmt.Errorf("docker push: %w", err)
	}
	b.logger.Info("image pushed", "image", ref.String())
	return nil
}
