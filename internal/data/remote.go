package data

import (
	"fmt"
	"strings"
	"time"

	"github.com/astracloud/astra-extras/internal/job"
	"github.com/astracloud/astra-extras/internal/location"
	"github.com/astracloud/astra-extras/internal/plan"
)

// Mount points inside the copy job container. Source and destination use
// distinct prefixes so either end of the route patches to an unambiguous
// container path.
const (
	sourceStorageMount      = "/var/storage/source"
	destinationStorageMount = "/var/storage/destination"
	sourceDiskMount         = "/var/disk/source"
	destinationDiskMount    = "/var/disk/destination"
)

// RemoteOptions carries the job-shaping knobs the CLI exposes for copies
// that run as platform jobs.
type RemoteOptions struct {
	Image    string
	Preset   string
	LifeSpan time.Duration
	Volumes  []job.VolumeMount
	Env      []job.EnvVar
}

// BuildRemoteRequest translates a plan whose execution site is a remote
// job into the job request that re-runs the copy inside the cluster.
// Platform endpoints become volume mounts and their URIs are patched into
// container paths; cloud endpoints pass through untouched.
func BuildRemoteRequest(p plan.TransferPlan, opts RemoteOptions) (job.Request, error) {
	if opts.Image == "" {
		return job.Request{}, fmt.Errorf("remote copy requires a job image")
	}

	src, srcMounts, err := mapEndpoint(p.Source, sourceStorageMount, sourceDiskMount, true)
	if err != nil {
		return job.Request{}, err
	}
	dst, dstMounts, err := mapEndpoint(p.Destination, destinationStorageMount, destinationDiskMount, false)
	if err != nil {
		return job.Request{}, err
	}

	volumes := append([]job.VolumeMount{}, opts.Volumes...)
	volumes = append(volumes, srcMounts...)
	volumes = append(volumes, dstMounts...)

	cluster := p.Source.Cluster
	if cluster == "" {
		cluster = p.Destination.Cluster
	}

	return job.Request{
		Image:      opts.Image,
		Command:    buildCopyCommand(src, dst, p.Extract, p.Compress),
		Volumes:    volumes,
		Env:        opts.Env,
		Preset:     opts.Preset,
		Cluster:    cluster,
		LifeSpan:   opts.LifeSpan,
		Tags:       []string{"astra-extras:data-cp"},
		PassConfig: true,
	}, nil
}

// mapEndpoint turns a platform endpoint into a container path plus the
// volume mount backing it. mountFile controls whether a storage URI that
// names a file is mounted directly or via its parent directory; empty
// destination volumes always mount as directories, so destinations mount
// the parent.
func mapEndpoint(loc location.Location, storageMount, diskMount string, mountFile bool) (string, []job.VolumeMount, error) {
	switch loc.Kind {
	case location.Storage:
		filename := loc.Filename()
		if filename == "" {
			mount := job.VolumeMount{Source: loc.Path, MountPath: storageMount}
			return storageMount + "/", []job.VolumeMount{mount}, nil
		}
		if mountFile {
			mount := job.VolumeMount{Source: loc.Path, MountPath: storageMount + "/" + filename}
			return storageMount + "/" + filename, []job.VolumeMount{mount}, nil
		}
		mount := job.VolumeMount{Source: stripFilename(loc.Path, filename), MountPath: storageMount}
		return storageMount + "/" + filename, []job.VolumeMount{mount}, nil
	case location.Disk:
		diskURI, pathOnDisk, err := splitDiskURI(loc.Path)
		if err != nil {
			return "", nil, err
		}
		mount := job.VolumeMount{Source: diskURI, MountPath: diskMount}
		patched := diskMount + "/"
		if pathOnDisk != "" {
			patched = diskMount + "/" + pathOnDisk
		}
		return patched, []job.VolumeMount{mount}, nil
	default:
		// Cloud and web URIs are reachable from inside the job as-is.
		return loc.Path, nil, nil
	}
}

// splitDiskURI splits disk:name/path/in/disk into the bare disk URI and
// the path inside it. Fully-qualified forms keep their cluster authority.
func splitDiskURI(raw string) (diskURI, pathOnDisk string, err error) {
	if rest, ok := strings.CutPrefix(raw, "disk://"); ok {
		// disk://cluster/name[/path]
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) < 2 || parts[1] == "" {
			return "", "", fmt.Errorf("invalid disk URI %q: missing disk name", raw)
		}
		if len(parts) == 3 {
			pathOnDisk = parts[2]
		}
		return "disk://" + parts[0] + "/" + parts[1], pathOnDisk, nil
	}
	rest, ok := strings.CutPrefix(raw, "disk:")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("invalid disk URI %q", raw)
	}
	name, pathOnDisk, _ := strings.Cut(rest, "/")
	return "disk:" + name, pathOnDisk, nil
}

func stripFilename(raw, filename string) string {
	return strings.TrimSuffix(strings.TrimSuffix(raw, filename), "/")
}

// buildCopyCommand assembles the in-container rerun of the copy with the
// patched endpoints.
func buildCopyCommand(src, dst string, extract, compress bool) string {
	parts := []string{"astra-extras", "data", "cp"}
	if extract {
		parts = append(parts, "-x")
	}
	if compress {
		parts = append(parts, "-c")
	}
	parts = append(parts, src, dst)
	return strings.Join(parts, " ")
}
