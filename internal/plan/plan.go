// Package plan decides how a copy between two resolved locations is
// executed. Plan is a pure function: no I/O, no clock, fully table-testable
// over the cross product of location kinds and flags.
package plan

import (
	"fmt"

	"github.com/astracloud/astra-extras/internal/location"
)

// Site tells the executor where the plan's work runs.
type Site int

const (
	// SiteLocalProcess runs the copy in the invoking process.
	SiteLocalProcess Site = iota
	// SiteRemoteJob delegates the copy to a platform job, which is the
	// only place platform storage and disks are mountable.
	SiteRemoteJob
)

func (s Site) String() string {
	if s == SiteRemoteJob {
		return "remote-job"
	}
	return "local-process"
}

var (
	// ErrNoopTransfer rejects local-to-local requests: there is nothing
	// to orchestrate, the OS can do that.
	ErrNoopTransfer = fmt.Errorf("both source and destination are local, nothing to orchestrate")
	// ErrConflictingOperation rejects extract+compress in one request.
	ErrConflictingOperation = fmt.Errorf("extract and compress are mutually exclusive")
	// ErrUnsupportedRoute rejects source/destination pairs no executor
	// handles.
	ErrUnsupportedRoute = fmt.Errorf("unsupported source/destination combination")
)

// TransferPlan is the execution strategy for one copy invocation.
// Built once, never mutated.
type TransferPlan struct {
	Source      location.Location
	Destination location.Location
	Extract     bool
	Compress    bool
	// NeedsTempDir is set when an archive transform must be staged
	// through a local temporary directory instead of running against a
	// remote-mounted filesystem, where partial writes would be visible.
	NeedsTempDir bool
	Site         Site
}

// Plan validates the request and derives the execution strategy.
func Plan(src, dst location.Location, extract, compress bool) (TransferPlan, error) {
	if src.IsLocal() && dst.IsLocal() {
		return TransferPlan{}, fmt.Errorf("%w: %s -> %s", ErrNoopTransfer, src, dst)
	}
	if extract && compress {
		return TransferPlan{}, ErrConflictingOperation
	}
	if err := checkRoute(src, dst); err != nil {
		return TransferPlan{}, err
	}

	p := TransferPlan{
		Source:      src,
		Destination: dst,
		Extract:     extract,
		Compress:    compress,
	}

	// Archive tools want seekable, atomically-renameable filesystems.
	// Platform mounts give neither, so transforms stage locally first.
	if (extract || compress) && (src.IsPlatform() || dst.IsPlatform()) {
		p.NeedsTempDir = true
	}

	if src.IsPlatform() || dst.IsPlatform() {
		p.Site = SiteRemoteJob
	} else {
		p.Site = SiteLocalProcess
	}

	return p, nil
}

// checkRoute rejects pairs that no executor supports.
func checkRoute(src, dst location.Location) error {
	switch {
	case dst.IsWeb():
		return fmt.Errorf("%w: web destinations are read-only", ErrUnsupportedRoute)
	case src.IsCloud() && dst.IsCloud():
		return fmt.Errorf("%w: cloud-to-cloud copy is not supported", ErrUnsupportedRoute)
	case src.Kind == location.Storage && dst.Kind == location.Storage:
		return fmt.Errorf("%w: storage-to-storage copy belongs to 'data transfer'", ErrUnsupportedRoute)
	case src.IsPlatform() && dst.IsPlatform():
		// Remote copy jobs mount both platform endpoints as container
		// paths, which would turn the in-job rerun into local-to-local.
		// Only platform-to-cloud routes are executable remotely.
		return fmt.Errorf("%w: platform-to-platform copy is not supported", ErrUnsupportedRoute)
	case src.IsPlatform() && dst.IsLocal(), src.IsLocal() && dst.IsPlatform():
		return fmt.Errorf("%w: use the platform CLI to copy between local and platform storage", ErrUnsupportedRoute)
	}
	return nil
}
