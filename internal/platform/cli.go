// Package platform wraps the astra platform CLI. The tool treats the CLI
// as a black box: every method shells out, checks the exit status, and
// parses the structured output the CLI emits with --output json.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Runner executes external commands. Production uses execRunner; tests
// substitute a fake to avoid spawning processes.
type Runner interface {
	// Output runs the command, capturing stdout. Stderr passes through
	// to the invoking terminal so platform diagnostics stay visible.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Run streams stdout and stderr through to the invoking terminal.
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct {
	logger *slog.Logger
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &execRunner{logger: logger}
}

func (r *execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.logger.Debug("executing", "command", name, "args", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) error {
	r.logger.Debug("executing", "command", name, "args", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

// ExitCode extracts the process exit code from a Runner error, or -1
// when the command never ran.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// CLI invokes the astra binary. The cluster context is threaded through
// explicitly per call instead of mutating any process-global state, so
// overlapping invocations under test do not interfere.
type CLI struct {
	bin    string
	runner Runner
	logger *slog.Logger
}

// NewCLI wraps the given astra binary path ("astra" resolves via PATH).
func NewCLI(bin string, runner Runner, logger *slog.Logger) *CLI {
	if bin == "" {
		bin = "astra"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &CLI{bin: bin, runner: runner, logger: logger}
}

// Bin returns the wrapped binary name.
func (c *CLI) Bin() string { return c.bin }

// clusterArgs prefixes the global cluster selector when a non-default
// cluster is requested.
func clusterArgs(cluster string) []string {
	if cluster == "" {
		return nil
	}
	return []string{"--cluster", cluster}
}

// Output runs the CLI in the given cluster context and captures stdout.
func (c *CLI) Output(ctx context.Context, cluster string, args ...string) ([]byte, error) {
	full := append(clusterArgs(cluster), args...)
	return c.runner.Output(ctx, c.bin, full...)
}

// Run runs the CLI in the given cluster context, streaming output.
func (c *CLI) Run(ctx context.Context, cluster string, args ...string) error {
	full := append(clusterArgs(cluster), args...)
	return c.runner.Run(ctx, c.bin, full...)
}

// OutputJSON runs the CLI with --output json appended and decodes stdout
// into v.
func (c *CLI) OutputJSON(ctx context.Context, cluster string, v interface{}, args ...string) error {
	out, err := c.Output(ctx, cluster, append(args, "--output", "json")...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(bytes.TrimSpace(out), v); err != nil {
		return fmt.Errorf("parsing %s output: %w", c.bin, err)
	}
	return nil
}

// configShow is the subset of `astra config show --output json` we read.
type configShow struct {
	Cluster  string `json:"cluster"`
	Project  string `json:"project"`
	Org      string `json:"org"`
	Username string `json:"username"`
	Registry string `json:"registry_url"`
	Token    string `json:"token"`
}

// Session is the caller's current platform context.
type Session struct {
	Cluster  string
	Project  string
	Org      string
	Username string
	Registry string
	Token    string
}

// CurrentSession reads the active cluster/project/org from the CLI.
func (c *CLI) CurrentSession(ctx context.Context) (Session, error) {
	return c.SessionFor(ctx, "")
}

// SessionFor reads the platform context as seen from the given cluster;
// empty selects the active one. Registry and token differ per cluster.
func (c *CLI) SessionFor(ctx context.Context, cluster string) (Session, error) {
	var cs configShow
	if err := c.OutputJSON(ctx, cluster, &cs, "config", "show", "--include-token"); err != nil {
		return Session{}, fmt.Errorf("reading platform context: %w", err)
	}
	if cs.Cluster == "" {
		return Session{}, fmt.Errorf("platform CLI reported no active cluster, run '%s login' first", c.bin)
	}
	return Session{
		Cluster:  cs.Cluster,
		Project:  cs.Project,
		Org:      cs.Org,
		Username: cs.Username,
		Registry: cs.Registry,
		Token:    cs.Token,
	}, nil
}

// MkDir creates a storage directory (with parents) on the given cluster.
func (c *CLI) MkDir(ctx context.Context, cluster, uri string) error {
	return c.Run(ctx, cluster, "mkdir", "--parents", uri)
}

// UploadRecursive copies a local path into storage on the given cluster.
func (c *CLI) UploadRecursive(ctx context.Context, cluster, localPath, storageURI string) error {
	return c.Run(ctx, cluster, "cp", "--recursive", localPath, storageURI)
}

// ImageTags lists the tags present for an image reference, empty when
// the repository does not exist yet.
func (c *CLI) ImageTags(ctx context.Context, cluster, image string) ([]string, error) {
	var tags []string
	err := c.OutputJSON(ctx, cluster, &tags, "image", "tags", image)
	if err != nil {
		if ExitCode(err) == notFoundExitCode {
			return nil, nil
		}
		return nil, fmt.Errorf("listing image tags: %w", err)
	}
	return tags, nil
}

// notFoundExitCode is what the platform CLI exits with for missing
// resources.
const notFoundExitCode = 4
