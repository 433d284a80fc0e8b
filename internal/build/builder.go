// Package build orchestrates container image builds against the platform
// registry. Remote builds stage the context on storage and run Kaniko in
// a platform job; local builds shell out to the docker engine. Both share
// the same preflight: dockerfile containment and existing-image policy.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/astracloud/astra-extras/internal/job"
	"github.com/astracloud/astra-extras/internal/platform"
)

// ErrImageExists means the destination image is already present and
// force-overwrite was not requested. Raised before any job submission.
var ErrImageExists = errors.New("destination image already exists")

// PlatformAPI is the slice of the platform CLI the builder needs.
// Satisfied by *platform.CLI; tests substitute a fake.
type PlatformAPI interface {
	SessionFor(ctx context.Context, cluster string) (platform.Session, error)
	ImageTags(ctx context.Context, cluster, image string) ([]string, error)
	MkDir(ctx context.Context, cluster, uri string) error
	UploadRecursive(ctx context.Context, cluster, localPath, storageURI string) error
}

// JobRunner drives a submitted job to completion.
type JobRunner interface {
	Run(ctx context.Context, req job.Request) (job.Outcome, error)
}

// Options describe one build invocation.
type Options struct {
	// ContextDir is the local build context directory.
	ContextDir string
	// Dockerfile is the dockerfile path relative to the context.
	Dockerfile string
	// Image is the destination reference (image: or external docker form).
	Image string
	// BuildArgs are VAR=VAL pairs forwarded to the build.
	BuildArgs []string
	// Volumes are extra storage mounts for the builder job.
	Volumes []string
	// Env are VAR=VAL pairs set in the builder job and forwarded as
	// build args.
	Env []string
	Preset         string
	Project        string
	ForceOverwrite bool
	UseCache       bool
	Verbose        bool
	BuildTags      []string
	// ExtraKanikoArgs is a raw argument string appended to the Kaniko
	// command line after collision checking.
	ExtraKanikoArgs string
}

// preflight resolves the destination, validates the dockerfile location
// and applies the existing-image policy. Returns the session for the
// destination cluster and the parsed reference.
func preflight(ctx context.Context, api PlatformAPI, opts Options, logger *slog.Logger) (platform.Session, Ref, error) {
	ref, err := ParseRef(opts.Image)
	if err != nil {
		return platform.Session{}, Ref{}, err
	}
	if err := validateDockerfile(opts.ContextDir, opts.Dockerfile); err != nil {
		return platform.Session{}, Ref{}, err
	}

	session, err := api.SessionFor(ctx, ref.Cluster)
	if err != nil {
		return platform.Session{}, Ref{}, err
	}
	if opts.Project != "" {
		session.Project = opts.Project
	}

	exists, err := imageExists(ctx, api, ref, session)
	if err != nil {
		return platform.Session{}, Ref{}, err
	}
	if exists {
		if !opts.ForceOverwrite {
			return platform.Session{}, Ref{}, fmt.Errorf("%w: %s (use --force-overwrite)", ErrImageExists, ref)
		}
		logger.Warn("destination image exists and will be overwritten", "image", ref.String())
	}
	return session, ref, nil
}

// validateDockerfile rejects dockerfile paths that escape the context:
// Kaniko only sees files below the mounted context directory.
func validateDockerfile(contextDir, dockerfile string) error {
	if dockerfile == "" {
		return fmt.Errorf("dockerfile path is empty")
	}
	if filepath.IsAbs(dockerfile) {
		return fmt.Errorf("dockerfile %q must be relative to the context", dockerfile)
	}
	rel := filepath.Clean(dockerfile)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("dockerfile %q resolves outside the context directory", dockerfile)
	}
	return nil
}

// imageExists checks the destination tag via the registry tag listing.
// External references cannot be checked and are assumed absent.
func imageExists(ctx context.Context, api PlatformAPI, ref Ref, session platform.Session) (bool, error) {
	if !ref.IsPlatform() {
		return false, nil
	}
	cluster := ref.Cluster
	if cluster == "" {
		cluster = session.Cluster
	}
	tags, err := api.ImageTags(ctx, cluster, ref.PlatformURI())
	if err != nil {
		return false, fmt.Errorf("checking destination image: %w", err)
	}
	for _, tag := range tags {
		if tag == ref.Tag {
			return true, nil
		}
	}
	return false, nil
}

// splitKV splits VAR=VAL, returning the name part.
func splitKV(kv string) string {
	name, _, _ := strings.Cut(kv, "=")
	return name
}
