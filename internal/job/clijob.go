package job

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/astracloud/astra-extras/internal/platform"
)

// CLIAPI implements API on top of the astra platform CLI.
type CLIAPI struct {
	cli *platform.CLI
}

// NewCLIAPI wraps the platform CLI as a job-execution collaborator.
func NewCLIAPI(cli *platform.CLI) *CLIAPI {
	return &CLIAPI{cli: cli}
}

// submitResponse is the JSON shape of `astra job run --detach`.
type submitResponse struct {
	ID      string `json:"id"`
	Cluster string `json:"cluster"`
}

// statusResponse is the JSON shape of `astra job status`.
type statusResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ExitCode    *int   `json:"exit_code"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func (a *CLIAPI) Submit(ctx context.Context, req Request) (Handle, error) {
	args := []string{"job", "run", "--detach"}
	if req.Preset != "" {
		args = append(args, "--preset", req.Preset)
	}
	if req.Project != "" {
		args = append(args, "--project", req.Project)
	}
	if req.Org != "" {
		args = append(args, "--org", req.Org)
	}
	if req.LifeSpan > 0 {
		args = append(args, "--life-span", formatDuration(req.LifeSpan))
	}
	if req.ScheduleTimeout > 0 {
		args = append(args, "--schedule-timeout", formatDuration(req.ScheduleTimeout))
	}
	if req.PassConfig {
		args = append(args, "--pass-config")
	}
	for _, tag := range req.Tags {
		args = append(args, "--tag", tag)
	}
	for _, vol := range req.Volumes {
		args = append(args, "--volume", vol.String())
	}
	for _, env := range req.Env {
		args = append(args, "--env", fmt.Sprintf("%s=%s", env.Name, env.Value))
	}
	if req.Entrypoint != "" {
		args = append(args, "--entrypoint", req.Entrypoint)
	}
	args = append(args, req.Image)
	if req.Command != "" {
		args = append(args, "--", req.Command)
	}

	var resp submitResponse
	if err := a.cli.OutputJSON(ctx, req.Cluster, &resp, args...); err != nil {
		return Handle{}, err
	}
	if resp.ID == "" {
		return Handle{}, fmt.Errorf("platform returned no job id")
	}
	cluster := resp.Cluster
	if cluster == "" {
		cluster = req.Cluster
	}
	return Handle{ID: resp.ID, Cluster: cluster}, nil
}

func (a *CLIAPI) Status(ctx context.Context, h Handle) (StatusReport, error) {
	var resp statusResponse
	if err := a.cli.OutputJSON(ctx, h.Cluster, &resp, "job", "status", h.ID); err != nil {
		return StatusReport{}, err
	}
	state, err := parseState(resp.Status)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		State:       state,
		ExitCode:    resp.ExitCode,
		Reason:      resp.Reason,
		Description: resp.Description,
	}, nil
}

func (a *CLIAPI) Logs(ctx context.Context, h Handle, cursor int64) ([]byte, int64, error) {
	out, err := a.cli.Output(ctx, h.Cluster, "job", "logs", "--offset", strconv.FormatInt(cursor, 10), h.ID)
	if err != nil {
		return nil, cursor, err
	}
	return out, cursor + int64(len(out)), nil
}

func (a *CLIAPI) Kill(ctx context.Context, h Handle) error {
	return a.cli.Run(ctx, h.Cluster, "job", "kill", h.ID)
}

func parseState(s string) (State, error) {
	switch strings.ToLower(s) {
	case "pending", "queued", "creating", "scheduling":
		return StatePending, nil
	case "running":
		return StateRunning, nil
	case "succeeded":
		return StateSucceeded, nil
	case "failed":
		return StateFailed, nil
	case "cancelled", "canceled":
		return StateCancelled, nil
	default:
		return StatePending, fmt.Errorf("unknown job status %q", s)
	}
}

// formatDuration renders durations the way the platform CLI expects:
// whole seconds ("86400s").
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d/time.Second))
}
