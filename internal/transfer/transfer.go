// Package transfer moves storage trees between clusters. The copy runs
// as a job on the destination cluster with the destination mounted as a
// volume, so data streams cluster-to-cluster without touching the
// caller's machine.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/astracloud/astra-extras/internal/job"
	"github.com/astracloud/astra-extras/internal/location"
	"github.com/astracloud/astra-extras/internal/platform"
)

const (
	// storageMount is where the destination tree appears inside the job.
	storageMount = "/storage"
	// stageDir is the job-local staging area for archive transfers.
	stageDir = "/tmp/transfer-stage"
	// copyLifeSpan bounds the copy job; large datasets take days.
	copyLifeSpan  = 10 * 24 * time.Hour
	defaultPreset = "cpu-small"
)

// PlatformAPI is the slice of the platform CLI the coordinator needs.
type PlatformAPI interface {
	SessionFor(ctx context.Context, cluster string) (platform.Session, error)
	MkDir(ctx context.Context, cluster, uri string) error
}

// JobRunner drives a submitted job to completion.
type JobRunner interface {
	Run(ctx context.Context, req job.Request) (job.Outcome, error)
}

// Options shape one transfer invocation.
type Options struct {
	// Image is the extras image run on the destination cluster.
	Image  string
	Preset string
	// Archive packs the source tree into a single tarball on the way,
	// which is much cheaper for many-small-file datasets.
	Archive bool
}

// Result reports the finished transfer.
type Result struct {
	JobID string
}

// Coordinator submits and tracks cross-cluster copy jobs.
type Coordinator struct {
	api    PlatformAPI
	runner JobRunner
	logger *slog.Logger
}

// NewCoordinator wires a transfer coordinator.
func NewCoordinator(api PlatformAPI, runner JobRunner, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{api: api, runner: runner, logger: logger}
}

// Run copies source to destination. Both must be storage: URIs and the
// destination must name its cluster explicitly; the source cluster
// defaults to the caller's active one.
func (c *Coordinator) Run(ctx context.Context, source, destination string, opts Options) (Result, error) {
	if opts.Image == "" {
		return Result{}, fmt.Errorf("transfer requires a job image")
	}

	src, err := location.Resolve(source)
	if err != nil {
		return Result{}, fmt.Errorf("source: %w", err)
	}
	dst, err := location.Resolve(destination)
	if err != nil {
		return Result{}, fmt.Errorf("destination: %w", err)
	}
	if src.Kind != location.Storage || dst.Kind != location.Storage {
		return Result{}, fmt.Errorf("transfer moves storage to storage, got %s -> %s", src, dst)
	}
	if dst.Cluster == "" {
		return Result{}, fmt.Errorf("invalid destination %q: missing cluster name", destination)
	}

	srcCluster := src.Cluster
	if srcCluster == "" {
		session, err := c.api.SessionFor(ctx, "")
		if err != nil {
			return Result{}, fmt.Errorf("resolving source cluster: %w", err)
		}
		srcCluster = session.Cluster
	}
	if srcCluster == dst.Cluster {
		return Result{}, fmt.Errorf("source and destination are both on cluster %q, use data cp instead", srcCluster)
	}

	// The mount target must exist before the job can bind it.
	if err := c.api.MkDir(ctx, dst.Cluster, dst.Path); err != nil {
		return Result{}, fmt.Errorf("creating destination root: %w", err)
	}

	preset := opts.Preset
	if preset == "" {
		preset = defaultPreset
	}
	req := job.Request{
		Image:   opts.Image,
		Command: copyCommand(source, opts.Archive),
		Volumes: []job.VolumeMount{
			{Source: dst.Path, MountPath: storageMount},
		},
		Env: []job.EnvVar{
			// The job's platform context switches to the source cluster
			// so reads come from there while writes land on the mount.
			{Name: "ASTRA_CLUSTER", Value: srcCluster},
		},
		Preset:     preset,
		Cluster:    dst.Cluster,
		LifeSpan:   copyLifeSpan,
		Tags:       []string{"astra-extras:data-transfer"},
		PassConfig: true,
	}

	c.logger.Info("transferring storage",
		"source", source, "destination", destination,
		"source_cluster", srcCluster, "destination_cluster", dst.Cluster,
		"archive", opts.Archive)

	outcome, err := c.runner.Run(ctx, req)
	result := Result{JobID: outcome.JobID}
	if err != nil {
		return result, fmt.Errorf("running transfer job: %w", err)
	}
	if err := outcome.Err(); err != nil {
		return result, err
	}
	c.logger.Info("transfer complete", "destination", destination, "job_id", outcome.JobID)
	return result, nil
}

// copyCommand builds the in-job copy. Plain transfers use the platform
// CLI directly. Archive transfers pull the tree to a job-local staging
// directory, pack it there, and move only the finished tarball onto the
// mount, so readers of the destination never see a partial archive.
func copyCommand(source string, archive bool) string {
	if !archive {
		return fmt.Sprintf("astra --show-traceback cp --progress -r -u -T %s %s", source, storageMount)
	}
	name := archiveName(source)
	script := strings.Join([]string{
		fmt.Sprintf("astra --show-traceback cp --progress -r -u -T %s %s", source, stageDir),
		fmt.Sprintf("tar -czf /tmp/%s -C %s .", name, stageDir),
		fmt.Sprintf("mv /tmp/%s %s/%s", name, storageMount, name),
	}, " && ")
	return fmt.Sprintf("sh -c %q", script)
}

// archiveName derives the tarball name from the last source path
// component, falling back to a fixed name for bare roots.
func archiveName(source string) string {
	base := path.Base(strings.TrimSuffix(source, "/"))
	if base == "" || base == "." || base == "/" || strings.HasSuffix(base, ":") {
		base = "archive"
	}
	if i := strings.LastIndex(base, ":"); i >= 0 {
		base = base[i+1:]
	}
	if base == "" {
		base = "archive"
	}
	return base + ".tar.gz"
}
