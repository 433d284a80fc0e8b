// Package data moves datasets between the local filesystem, cloud object
// stores, and platform storage. Copies touching platform storage run as
// jobs inside the cluster; everything else runs in-process.
package data

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/astracloud/astra-extras/internal/job"
	"github.com/astracloud/astra-extras/internal/location"
	"github.com/astracloud/astra-extras/internal/plan"
)

// Runner submits and drives remote jobs. Satisfied by *job.Driver.
type Runner interface {
	Run(ctx context.Context, req job.Request) (job.Outcome, error)
}

// CopyRequest is one user-level copy invocation.
type CopyRequest struct {
	Source      string
	Destination string
	Extract     bool
	Compress    bool
	Remote      RemoteOptions
}

// CopyResult reports where the copy ran and, for remote copies, which job
// performed it.
type CopyResult struct {
	Site  plan.Site
	JobID string
}

// CopyOperation resolves endpoints, plans the route, and dispatches to
// either the in-process executor or a remote copy job.
type CopyOperation struct {
	executor *Executor
	driver   Runner
	logger   *slog.Logger
}

func NewCopyOperation(executor *Executor, driver Runner, logger *slog.Logger) *CopyOperation {
	return &CopyOperation{executor: executor, driver: driver, logger: logger}
}

// Run performs the copy. Remote job failures come back as
// *job.RemoteJobError so the caller can mirror the job's exit code.
func (o *CopyOperation) Run(ctx context.Context, req CopyRequest) (CopyResult, error) {
	src, err := location.Resolve(req.Source)
	if err != nil {
		return CopyResult{}, fmt.Errorf("source: %w", err)
	}
	dst, err := location.Resolve(req.Destination)
	if err != nil {
		return CopyResult{}, fmt.Errorf("destination: %w", err)
	}

	p, err := plan.Plan(src, dst, req.Extract, req.Compress)
	if err != nil {
		return CopyResult{}, err
	}
	o.logger.Debug("copy planned",
		"source", src.Kind, "destination", dst.Kind,
		"site", p.Site, "staging", p.NeedsTempDir)

	if p.Site == plan.SiteRemoteJob {
		jobReq, err := BuildRemoteRequest(p, req.Remote)
		if err != nil {
			return CopyResult{}, err
		}
		outcome, err := o.driver.Run(ctx, jobReq)
		result := CopyResult{Site: p.Site, JobID: outcome.JobID}
		if err != nil {
			return result, err
		}
		return result, outcome.Err()
	}

	return CopyResult{Site: p.Site}, o.executor.Execute(ctx, p)
}
