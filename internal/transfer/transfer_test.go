package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/astracloud/astra-extras/internal/job"
	"github.com/astracloud/astra-extras/internal/platform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlatform struct {
	cluster string
	mkdirs  []string
}

func (f *fakePlatform) SessionFor(ctx context.Context, cluster string) (platform.Session, error) {
	c := cluster
	if c == "" {
		c = f.cluster
	}
	return platform.Session{Cluster: c, Project: "proj"}, nil
}

func (f *fakePlatform) MkDir(ctx context.Context, cluster, uri string) error {
	f.mkdirs = append(f.mkdirs, cluster+" "+uri)
	return nil
}

type fakeJobRunner struct {
	requests []job.Request
	outcome  job.Outcome
	err      error
}

func (f *fakeJobRunner) Run(ctx context.Context, req job.Request) (job.Outcome, error) {
	f.requests = append(f.requests, req)
	return f.outcome, f.err
}

func testCoordinator(api *fakePlatform, runner *fakeJobRunner) *Coordinator {
	return NewCoordinator(api, runner, testLogger())
}

func TestRun(t *testing.T) {
	api := &fakePlatform{cluster: "cluster-a"}
	runner := &fakeJobRunner{outcome: job.Outcome{State: job.StateSucceeded, JobID: "job-7"}}
	c := testCoordinator(api, runner)

	result, err := c.Run(context.Background(), "storage:datasets/imagenet", "storage://cluster-b/proj/datasets", Options{
		Image: "ghcr.io/astracloud/astra-extras:latest",
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.JobID != "job-7" {
		t.Errorf("JobID = %q, want job-7", result.JobID)
	}

	if len(api.mkdirs) != 1 || api.mkdirs[0] != "cluster-b storage://cluster-b/proj/datasets" {
		t.Errorf("mkdirs = %v, want destination root on cluster-b", api.mkdirs)
	}

	if len(runner.requests) != 1 {
		t.Fatalf("submitted %d jobs, want 1", len(runner.requests))
	}
	req := runner.requests[0]
	if req.Cluster != "cluster-b" {
		t.Errorf("Cluster = %q, want destination cluster", req.Cluster)
	}
	if !req.PassConfig {
		t.Error("PassConfig unset, the job cannot read the source cluster")
	}
	if req.LifeSpan != 10*24*time.Hour {
		t.Errorf("LifeSpan = %v, want 10 days", req.LifeSpan)
	}
	if req.Preset != "cpu-small" {
		t.Errorf("Preset = %q, want cpu-small default", req.Preset)
	}

	if len(req.Volumes) != 1 {
		t.Fatalf("Volumes = %v, want the destination mount", req.Volumes)
	}
	v := req.Volumes[0]
	if v.Source != "storage://cluster-b/proj/datasets" || v.MountPath != "/storage" || v.ReadOnly {
		t.Errorf("destination mount = %+v", v)
	}

	var clusterEnv string
	for _, env := range req.Env {
		if env.Name == "ASTRA_CLUSTER" {
			clusterEnv = env.Value
		}
	}
	if clusterEnv != "cluster-a" {
		t.Errorf("ASTRA_CLUSTER = %q, want the source cluster", clusterEnv)
	}

	want := "astra --show-traceback cp --progress -r -u -T storage:datasets/imagenet /storage"
	if req.Command != want {
		t.Errorf("Command = %q, want %q", req.Command, want)
	}
}

func TestRunSourceClusterExplicit(t *testing.T) {
	api := &fakePlatform{cluster: "cluster-a"}
	runner := &fakeJobRunner{outcome: job.Outcome{State: job.StateSucceeded}}
	c := testCoordinator(api, runner)

	_, err := c.Run(context.Background(), "storage://cluster-x/proj/data", "storage://cluster-b/proj/data", Options{
		Image: "extras:latest",
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	req := runner.requests[0]
	for _, env := range req.Env {
		if env.Name == "ASTRA_CLUSTER" && env.Value != "cluster-x" {
			t.Errorf("ASTRA_CLUSTER = %q, want cluster-x", env.Value)
		}
	}
}

func TestRunArchive(t *testing.T) {
	api := &fakePlatform{cluster: "cluster-a"}
	runner := &fakeJobRunner{outcome: job.Outcome{State: job.StateSucceeded}}
	c := testCoordinator(api, runner)

	_, err := c.Run(context.Background(), "storage:datasets/imagenet", "storage://cluster-b/proj/datasets", Options{
		Image:   "extras:latest",
		Archive: true,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	want := `sh -c "astra --show-traceback cp --progress -r -u -T storage:datasets/imagenet /tmp/transfer-stage` +
		` && tar -czf /tmp/imagenet.tar.gz -C /tmp/transfer-stage .` +
		` && mv /tmp/imagenet.tar.gz /storage/imagenet.tar.gz"`
	if got := runner.requests[0].Command; got != want {
		t.Errorf("Command = %q, want %q", got, want)
	}
}

// The archive job must not re-invoke the tool against a platform source:
// inside the job the destination is a mounted local path, a route the
// copy planner refuses. The pull goes through the platform CLI and only
// the finished tarball lands on the mount.
func TestRunArchiveCommandStagesLocally(t *testing.T) {
	cmd := copyCommand("storage:datasets/imagenet", true)
	if strings.Contains(cmd, "astra-extras") {
		t.Fatalf("archive command re-enters the tool: %q", cmd)
	}
	steps := strings.Split(strings.Trim(strings.TrimPrefix(cmd, "sh -c "), `"`), " && ")
	if len(steps) != 3 {
		t.Fatalf("archive command has %d steps, want pull, pack, move: %q", len(steps), cmd)
	}
	if !strings.HasPrefix(steps[0], "astra ") || !strings.HasSuffix(steps[0], stageDir) {
		t.Errorf("pull step = %q, want platform CLI copy into %s", steps[0], stageDir)
	}
	if strings.Contains(steps[0], "/storage") || strings.Contains(steps[1], "/storage") {
		t.Errorf("mount written before the final move: %q", cmd)
	}
	if !strings.HasSuffix(steps[2], "/storage/imagenet.tar.gz") {
		t.Errorf("move step = %q, want the tarball moved onto the mount", steps[2])
	}
}

func TestRunRejections(t *testing.T) {
	tests := []struct {
		name        string
		source      string
		destination string
		opts        Options
		wantErr     string
	}{
		{
			name:        "missing image",
			source:      "storage:data",
			destination: "storage://cluster-b/proj/data",
			wantErr:     "job image",
		},
		{
			name:        "destination without cluster",
			source:      "storage:data",
			destination: "storage:data",
			opts:        Options{Image: "extras:latest"},
			wantErr:     "missing cluster name",
		},
		{
			name:        "non storage source",
			source:      "s3://bucket/data",
			destination: "storage://cluster-b/proj/data",
			opts:        Options{Image: "extras:latest"},
			wantErr:     "storage to storage",
		},
		{
			name:        "non storage destination",
			source:      "storage:data",
			destination: "/tmp/data",
			opts:        Options{Image: "extras:latest"},
			wantErr:     "storage to storage",
		},
		{
			name:        "same cluster",
			source:      "storage://cluster-b/proj/a",
			destination: "storage://cluster-b/proj/b",
			opts:        Options{Image: "extras:latest"},
			wantErr:     "data cp instead",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakePlatform{cluster: "cluster-a"}
			runner := &fakeJobRunner{}
			c := testCoordinator(api, runner)

			_, err := c.Run(context.Background(), tt.source, tt.destination, tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Run() error = %v, want %q", err, tt.wantErr)
			}
			if len(runner.requests) != 0 {
				t.Errorf("submitted %d jobs, want 0", len(runner.requests))
			}
		})
	}
}

func TestRunJobFailure(t *testing.T) {
	api := &fakePlatform{cluster: "cluster-a"}
	runner := &fakeJobRunner{outcome: job.Outcome{
		State:       job.StateFailed,
		ExitCode:    3,
		HasExitCode: true,
		JobID:       "job-8",
	}}
	c := testCoordinator(api, runner)

	result, err := c.Run(context.Background(), "storage:data", "storage://cluster-b/proj/data", Options{
		Image: "extras:latest",
	})
	var remoteErr *job.RemoteJobError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Run() error = %v, want RemoteJobError", err)
	}
	if remoteErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", remoteErr.ExitCode)
	}
	if result.JobID != "job-8" {
		t.Errorf("JobID = %q, want job-8 even on failure", result.JobID)
	}
}

func TestArchiveName(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"storage:datasets/imagenet", "imagenet.tar.gz"},
		{"storage:datasets/imagenet/", "imagenet.tar.gz"},
		{"storage:data", "data.tar.gz"},
		{"storage:", "archive.tar.gz"},
		{"storage://cluster-a/proj/data", "data.tar.gz"},
	}
	for _, tt := range tests {
		if got := archiveName(tt.source); got != tt.want {
			t.Errorf("archiveName(%q) = %q, want %q", tt.source, got, tt.want)
		}
	}
}
