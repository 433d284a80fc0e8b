package data

import (
	"strings"
	"testing"
	"time"

	"github.com/astracloud/astra-extras/internal/job"
	"github.com/astracloud/astra-extras/internal/location"
	"github.com/astracloud/astra-extras/internal/plan"
)

func TestMapEndpointStorageDirectory(t *testing.T) {
	loc := mustResolve(t, "storage:datasets/train/")
	patched, mounts, err := mapEndpoint(loc, sourceStorageMount, sourceDiskMount, true)
	if err != nil {
		t.Fatalf("mapEndpoint() failed: %v", err)
	}
	if patched != sourceStorageMount+"/" {
		t.Errorf("patched = %q", patched)
	}
	if len(mounts) != 1 {
		t.Fatalf("got %d mounts, want 1", len(mounts))
	}
	if mounts[0].Source != "storage:datasets/train/" {
		t.Errorf("mount source = %q", mounts[0].Source)
	}
	if mounts[0].MountPath != sourceStorageMount {
		t.Errorf("mount path = %q", mounts[0].MountPath)
	}
}

func TestMapEndpointStorageFileSource(t *testing.T) {
	loc := mustResolve(t, "storage:datasets/archive.tar.gz")
	patched, mounts, err := mapEndpoint(loc, sourceStorageMount, sourceDiskMount, true)
	if err != nil {
		t.Fatalf("mapEndpoint() failed: %v", err)
	}
	want := sourceStorageMount + "/archive.tar.gz"
	if patched != want {
		t.Errorf("patched = %q, want %q", patched, want)
	}
	if len(mounts) != 1 || mounts[0].Source != "storage:datasets/archive.tar.gz" {
		t.Errorf("mounts = %+v, want direct file mount", mounts)
	}
}

func TestMapEndpointStorageFileDestination(t *testing.T) {
	// Destination files mount the parent directory: an empty volume always
	// materializes as a directory, so mounting the file path itself would
	// shadow it.
	loc := mustResolve(t, "storage:results/output.tar.gz")
	patched, mounts, err := mapEndpoint(loc, destinationStorageMount, destinationDiskMount, false)
	if err != nil {
		t.Fatalf("mapEndpoint() failed: %v", err)
	}
	if patched != destinationStorageMount+"/output.tar.gz" {
		t.Errorf("patched = %q", patched)
	}
	if len(mounts) != 1 {
		t.Fatalf("got %d mounts, want 1", len(mounts))
	}
	if mounts[0].Source != "storage:results" {
		t.Errorf("mount source = %q, want parent directory", mounts[0].Source)
	}
}

func TestMapEndpointDisk(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantPatched string
		wantMount   string
	}{
		{
			name:        "disk root",
			raw:         "disk:training-data",
			wantPatched: sourceDiskMount + "/",
			wantMount:   "disk:training-data",
		},
		{
			name:        "path on disk",
			raw:         "disk:training-data/images/batch1",
			wantPatched: sourceDiskMount + "/images/batch1",
			wantMount:   "disk:training-data",
		},
		{
			name:        "fully qualified",
			raw:         "disk://cluster-a/training-data/images",
			wantPatched: sourceDiskMount + "/images",
			wantMount:   "disk://cluster-a/training-data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := mustResolve(t, tt.raw)
			patched, mounts, err := mapEndpoint(loc, sourceStorageMount, sourceDiskMount, true)
			if err != nil {
				t.Fatalf("mapEndpoint() failed: %v", err)
			}
			if patched != tt.wantPatched {
				t.Errorf("patched = %q, want %q", patched, tt.wantPatched)
			}
			if len(mounts) != 1 || mounts[0].Source != tt.wantMount {
				t.Errorf("mounts = %+v, want source %q", mounts, tt.wantMount)
			}
		})
	}
}

func TestMapEndpointCloudPassthrough(t *testing.T) {
	loc := mustResolve(t, "s3://bucket/prefix/")
	patched, mounts, err := mapEndpoint(loc, sourceStorageMount, sourceDiskMount, true)
	if err != nil {
		t.Fatalf("mapEndpoint() failed: %v", err)
	}
	if patched != "s3://bucket/prefix/" {
		t.Errorf("patched = %q, want URI unchanged", patched)
	}
	if len(mounts) != 0 {
		t.Errorf("got %d mounts for cloud endpoint, want 0", len(mounts))
	}
}

func TestSplitDiskURIInvalid(t *testing.T) {
	for _, raw := range []string{"disk:", "disk://cluster", "storage:x"} {
		if _, _, err := splitDiskURI(raw); err == nil {
			t.Errorf("splitDiskURI(%q) succeeded, want error", raw)
		}
	}
}

func TestBuildRemoteRequest(t *testing.T) {
	src := mustResolve(t, "s3://bucket/data.tar.gz")
	dst := mustResolve(t, "storage://cluster-b/proj/data/")
	p, err := plan.Plan(src, dst, true, false)
	if err != nil {
		t.Fatalf("Plan() failed: %v", err)
	}

	req, err := BuildRemoteRequest(p, RemoteOptions{
		Image:    "ghcr.io/astracloud/astra-extras:latest",
		Preset:   "cpu-small",
		LifeSpan: time.Hour,
		Env:      []job.EnvVar{{Name: "AWS_ACCESS_KEY_ID", Value: "k"}},
	})
	if err != nil {
		t.Fatalf("BuildRemoteRequest() failed: %v", err)
	}

	if req.Image != "ghcr.io/astracloud/astra-extras:latest" {
		t.Errorf("Image = %q", req.Image)
	}
	if !req.PassConfig {
		t.Error("PassConfig not set; the copy job needs platform credentials")
	}
	if req.Cluster != "cluster-b" {
		t.Errorf("Cluster = %q, want cluster-b", req.Cluster)
	}
	if req.LifeSpan != time.Hour {
		t.Errorf("LifeSpan = %v", req.LifeSpan)
	}
	if len(req.Env) != 1 || req.Env[0].Name != "AWS_ACCESS_KEY_ID" {
		t.Errorf("Env = %+v", req.Env)
	}

	wantCmd := "astra-extras data cp -x s3://bucket/data.tar.gz " + destinationStorageMount + "/"
	if req.Command != wantCmd {
		t.Errorf("Command = %q, want %q", req.Command, wantCmd)
	}

	if len(req.Volumes) != 1 {
		t.Fatalf("got %d volumes, want 1", len(req.Volumes))
	}
	if req.Volumes[0].Source != "storage://cluster-b/proj/data/" {
		t.Errorf("volume source = %q", req.Volumes[0].Source)
	}
}

func TestBuildRemoteRequestRequiresImage(t *testing.T) {
	src := mustResolve(t, "storage:data")
	dst := mustResolve(t, "s3://bucket/data")
	p, err := plan.Plan(src, dst, false, false)
	if err != nil {
		t.Fatalf("Plan() failed: %v", err)
	}
	if _, err := BuildRemoteRequest(p, RemoteOptions{}); err == nil {
		t.Fatal("expected error for missing image")
	}
}

// Every remote plan's in-job command must itself be accepted by the
// planner: patching turns the platform side into a container path, so
// the rerun inside the job is a local-cloud route.
func TestBuildRemoteRequestCommandIsPlannable(t *testing.T) {
	routes := []struct {
		name     string
		source   string
		dest     string
		extract  bool
		compress bool
	}{
		{"cloud to storage extract", "s3://bucket/data.tar.gz", "storage:/proj/data/", true, false},
		{"storage to cloud compress", "storage:datasets/train/", "s3://bucket/train.tar.gz", false, true},
		{"disk to cloud", "disk:scratch/train", "gs://bucket/train/", false, false},
		{"cloud to disk", "gs://bucket/train/", "disk:scratch/train/", false, false},
	}
	for _, tt := range routes {
		t.Run(tt.name, func(t *testing.T) {
			src, dst := mustResolve(t, tt.source), mustResolve(t, tt.dest)
			p, err := plan.Plan(src, dst, tt.extract, tt.compress)
			if err != nil {
				t.Fatalf("Plan() failed: %v", err)
			}
			req, err := BuildRemoteRequest(p, RemoteOptions{Image: "extras:latest"})
			if err != nil {
				t.Fatalf("BuildRemoteRequest() failed: %v", err)
			}

			fields := strings.Fields(req.Command)
			if len(fields) < 5 || fields[0] != "astra-extras" {
				t.Fatalf("Command = %q, want an astra-extras data cp invocation", req.Command)
			}
			var extract, compress bool
			args := fields[3:]
			for len(args) > 2 {
				switch args[0] {
				case "-x":
					extract = true
				case "-c":
					compress = true
				default:
					t.Fatalf("Command = %q has unexpected flag %q", req.Command, args[0])
				}
				args = args[1:]
			}

			jobSrc, err := location.Resolve(args[0])
			if err != nil {
				t.Fatalf("Resolve(%q): %v", args[0], err)
			}
			jobDst, err := location.Resolve(args[1])
			if err != nil {
				t.Fatalf("Resolve(%q): %v", args[1], err)
			}
			if _, err := plan.Plan(jobSrc, jobDst, extract, compress); err != nil {
				t.Errorf("in-job command %q is rejected by the planner: %v", req.Command, err)
			}
		})
	}
}

func TestBuildCopyCommandFlags(t *testing.T) {
	cmd := buildCopyCommand("a", "b", false, true)
	if !strings.Contains(cmd, " -c ") {
		t.Errorf("command %q missing compress flag", cmd)
	}
	if strings.Contains(cmd, " -x ") {
		t.Errorf("command %q has unexpected extract flag", cmd)
	}
}
