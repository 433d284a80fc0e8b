package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollRetries  = 5
	defaultLogTail      = 50
)

// DriverOptions tunes a Driver. Zero values select sane defaults.
type DriverOptions struct {
	// PollInterval must stay within the 1s..10s band: faster busy-polls
	// the platform, slower starves responsiveness.
	PollInterval time.Duration
	// PollRetries bounds transient status-poll retries before the run
	// converts to ErrPollingExhausted.
	PollRetries int
	// Output receives streamed job logs. Defaults to os.Stdout.
	Output io.Writer
	// LogTail is how many trailing log lines the Outcome captures.
	LogTail int
}

// Driver runs one job at a time to completion. It owns the Handle for
// the duration of a Run call and discards it afterwards.
type Driver struct {
	api    API
	logger *slog.Logger
	opts   DriverOptions
}

// NewDriver creates a Driver over the given execution collaborator.
func NewDriver(api API, logger *slog.Logger, opts DriverOptions) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval < time.Second || opts.PollInterval > 10*time.Second {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PollRetries <= 0 {
		opts.PollRetries = defaultPollRetries
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.LogTail <= 0 {
		opts.LogTail = defaultLogTail
	}
	return &Driver{api: api, logger: logger, opts: opts}
}

// Run submits the request and drives the job to a terminal state,
// streaming logs as they appear. On context cancellation the remote job
// is killed before Run returns, so interrupts never orphan billable work.
func (d *Driver) Run(ctx context.Context, req Request) (Outcome, error) {
	h, err := d.api.Submit(ctx, req)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
	}
	d.logger.Info("job submitted", "id", h.ID, "image", req.Image)

	tail := newTailBuffer(d.opts.LogTail)
	report, err := d.awaitCompletion(ctx, h, tail)
	if err != nil {
		if ctx.Err() != nil {
			d.kill(h)
			return Outcome{JobID: h.ID, State: StateCancelled, LogTail: tail.Lines()}, fmt.Errorf("interrupted, job %s killed: %w", h.ID, ctx.Err())
		}
		return Outcome{JobID: h.ID, LogTail: tail.Lines()}, err
	}

	return d.outcome(h, report, tail), nil
}

// awaitCompletion polls status to a terminal state while a sibling
// goroutine pumps logs. Log delivery is ordered: a single goroutine
// advances a byte cursor, so lines arrive exactly as the job wrote them.
func (d *Driver) awaitCompletion(ctx context.Context, h Handle, tail *tailBuffer) (StatusReport, error) {
	var terminal StatusReport

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		d.pumpLogs(gctx, h, done, tail)
		return nil
	})

	g.Go(func() error {
		defer close(done)
		last := StatePending
		for {
			report, err := d.pollStatus(gctx, h)
			if err != nil {
				return err
			}

			// Never report a regressed state: a stale poll response
			// after Succeeded must not resurrect Running.
			if report.State.rank() < last.rank() {
				d.logger.Debug("ignoring stale status", "id", h.ID, "reported", report.State, "known", last)
				report.State = last
			}
			if report.State != last {
				d.logger.Info("job state changed", "id", h.ID, "from", last, "to", report.State)
				last = report.State
			}
			if report.State.Terminal() {
				terminal = report
				return nil
			}

			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-time.After(d.opts.PollInterval):
			}
		}
	})

	if err := g.Wait(); err != nil {
		return StatusReport{}, err
	}
	return terminal, nil
}

// pollStatus retries transient poll errors with backoff up to the retry
// budget. Exhaustion is ErrPollingExhausted: distinct from a failed job,
// it means we lost track of one.
func (d *Driver) pollStatus(ctx context.Context, h Handle) (StatusReport, error) {
	var lastErr error
	for attempt := 0; attempt <= d.opts.PollRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(200 * time.Millisecond)))
			select {
			case <-ctx.Done():
				return StatusReport{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		report, err := d.api.Status(ctx, h)
		if err == nil {
			return report, nil
		}
		if ctx.Err() != nil {
			return StatusReport{}, ctx.Err()
		}
		lastErr = err
		d.logger.Warn("status poll failed", "id", h.ID, "attempt", attempt+1, "error", err)
	}
	return StatusReport{}, fmt.Errorf("%w for job %s: %v", ErrPollingExhausted, h.ID, lastErr)
}

// pumpLogs fetches log chunks until the status loop closes done, then
// drains once more so the trailing lines of a fast-exiting job are not
// lost.
func (d *Driver) pumpLogs(ctx context.Context, h Handle, done <-chan struct{}, tail *tailBuffer) {
	var cursor int64
	fetch := func(fctx context.Context) {
		chunk, next, err := d.api.Logs(fctx, h, cursor)
		if err != nil {
			// Log fetches are best-effort; status polling owns failure
			// detection.
			d.logger.Debug("log fetch failed", "id", h.ID, "error", err)
			return
		}
		if len(chunk) > 0 {
			_, _ = d.opts.Output.Write(chunk)
			tail.Write(chunk)
			cursor = next
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			fetch(drainCtx)
			cancel()
			return
		case <-time.After(d.opts.PollInterval):
			fetch(ctx)
		}
	}
}

// outcome maps the terminal status to the local result. Succeeded at the
// orchestration layer with a non-zero process exit code is a failure;
// "terminal state == success" would hide broken user commands.
func (d *Driver) outcome(h Handle, report StatusReport, tail *tailBuffer) Outcome {
	out := Outcome{JobID: h.ID, State: report.State, LogTail: tail.Lines()}
	if report.ExitCode != nil {
		out.ExitCode = *report.ExitCode
		out.HasExitCode = true
	}

	switch report.State {
	case StateSucceeded:
		if out.HasExitCode && out.ExitCode != 0 {
			d.logger.Error("job succeeded but its process exited non-zero", "id", h.ID, "exit_code", out.ExitCode)
			out.State = StateFailed
		}
	case StateFailed:
		d.logger.Error("job failed", "id", h.ID, "reason", report.Reason, "description", report.Description)
	case StateCancelled:
		d.logger.Error("job was cancelled", "id", h.ID)
	}
	return out
}

// kill is invoked on interrupt with a fresh context: the caller's is
// already dead and the whole point is not leaving the job running.
func (d *Driver) kill(h Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.api.Kill(ctx, h); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("failed to kill job, it may still be running", "id", h.ID, "error", err)
	} else {
		d.logger.Info("job killed", "id", h.ID)
	}
}

// tailBuffer keeps the last N log lines for the Outcome.
type tailBuffer struct {
	mu      sync.Mutex
	limit   int
	partial string
	lines   []string
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	text := t.partial + string(chunk)
	parts := strings.Split(text, "\n")
	t.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		t.lines = append(t.lines, line)
	}
	if excess := len(t.lines) - t.limit; excess > 0 {
		t.lines = t.lines[excess:]
	}
}

func (t *tailBuffer) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	if t.partial != "" {
		out = append(out, t.partial)
	}
	return out
}
