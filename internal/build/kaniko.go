package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/astracloud/astra-extras/internal/job"
	"github.com/astracloud/astra-extras/internal/platform"
	"github.com/astracloud/astra-extras/internal/registryauth"
)

// AuthEnvPrefix marks environment variables carrying extra registry
// credentials (literal docker config JSON or a file path). Their
// presence switches the builder job to the auth-merging entrypoint.
const AuthEnvPrefix = "AX_REGISTRY_AUTH"

const (
	kanikoDockerConfigPath = "/kaniko/.docker/config.json"
	kanikoBaseConfigPath   = "/kaniko/.docker/config_base.json"
	kanikoAuthScriptPath   = "/kaniko/.docker/merge_docker_auths.sh"
	kanikoContextPath      = "/kaniko_context"

	builderLifeSpan        = 4 * time.Hour
	builderScheduleTimeout = 20 * time.Minute
)

// mergeAuthScript combines the base docker config with every config
// referenced by an AX_REGISTRY_AUTH* variable inside the builder job.
// The debug Kaniko image ships busybox, which is all this needs.
const mergeAuthScript = `#!/bin/sh
set -e
out=""
for var in $(env | cut -d= -f1 | grep '^` + AuthEnvPrefix + `' | sort); do
  eval val="\$$var"
  [ -f "$val" ] && val=$(cat "$val")
  body=$(echo "$val" | tr -d '\n' | sed 's/.*"auths"[^{]*{//; s/}[^}]*}$//')
  [ -n "$body" ] && out="${out:+$out,}$body"
done
printf '{"auths":{%s}}' "$out" > ` + kanikoDockerConfigPath + `
`

// RemoteBuilder runs builds inside the cluster with Kaniko. The context
// and merged registry credentials are staged on storage under a unique
// .builds directory, mounted into the job, and the job driver streams
// Kaniko's output back.
type RemoteBuilder struct {
	api    PlatformAPI
	runner JobRunner
	// extraAuths are merged after the platform registry credential, so
	// explicit sources win on collisions.
	extraAuths  []registryauth.Config
	kanikoImage string
	kanikoTag   string
	logger      *slog.Logger
}

// NewRemoteBuilder wires a remote Kaniko builder.
func NewRemoteBuilder(api PlatformAPI, runner JobRunner, kanikoImage, kanikoTag string, logger *slog.Logger) *RemoteBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteBuilder{
		api:         api,
		runner:      runner,
		kanikoImage: kanikoImage,
		kanikoTag:   kanikoTag,
		logger:      logger,
	}
}

// WithExtraAuths appends registry credentials for private base images.
func (b *RemoteBuilder) WithExtraAuths(configs ...registryauth.Config) *RemoteBuilder {
	b.extraAuths = append(b.extraAuths, configs...)
	return b
}

// Build stages the context, submits the Kaniko job and waits for it.
// A remote build failure surfaces as *job.RemoteJobError carrying the
// builder's exit code.
func (b *RemoteBuilder) Build(ctx context.Context, opts Options) error {
	session, ref, err := preflight(ctx, b.api, opts, b.logger)
	if err != nil {
		return err
	}
	cluster := ref.Cluster
	if cluster == "" {
		cluster = session.Cluster
	}

	b.logger.Info("building image", "image", ref.String(), "context", opts.ContextDir, "cluster", cluster)

	req, err := b.buildRequest(ctx, session, ref, cluster, opts)
	if err != nil {
		return err
	}

	outcome, err := b.runner.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("running builder job: %w", err)
	}
	if err := outcome.Err(); err != nil {
		return err
	}
	b.logger.Info("image built", "image", ref.String(), "job_id", outcome.JobID)
	return nil
}

// buildRequest stages context and credentials and assembles the job
// request without submitting it.
func (b *RemoteBuilder) buildRequest(ctx context.Context, session platform.Session, ref Ref, cluster string, opts Options) (job.Request, error) {
	buildURI := "storage:.builds/" + uuid.NewString()
	if err := b.api.MkDir(ctx, cluster, buildURI); err != nil {
		return job.Request{}, fmt.Errorf("creating build directory: %w", err)
	}

	contextURI := buildURI + "/context"
	b.logger.Debug("uploading build context", "from", opts.ContextDir, "to", contextURI)
	if err := b.api.UploadRecursive(ctx, cluster, opts.ContextDir, contextURI); err != nil {
		return job.Request{}, fmt.Errorf("uploading build context: %w", err)
	}

	configURI := buildURI + "/.docker.config.json"
	if err := b.stageDockerConfig(ctx, session, cluster, configURI); err != nil {
		return job.Request{}, err
	}

	envs := append([]string{}, opts.Env...)
	hasAuthEnv := false
	for _, env := range envs {
		if strings.HasPrefix(splitKV(env), AuthEnvPrefix) {
			hasAuthEnv = true
			break
		}
	}

	volumes := make([]job.VolumeMount, 0, len(opts.Volumes)+3)
	for _, v := range opts.Volumes {
		mount, err := job.ParseVolumeMount(v)
		if err != nil {
			return job.Request{}, err
		}
		volumes = append(volumes, mount)
	}

	configMountPath := kanikoDockerConfigPath
	if hasAuthEnv {
		// Extra auth sources mean the staged config cannot occupy the
		// default path; the merge script combines everything there at
		// container start.
		configMountPath = kanikoBaseConfigPath
		envs = append(envs, fmt.Sprintf("%s_BASE_%s=%s", AuthEnvPrefix, uuid.NewString()[:8], configMountPath))

		scriptURI := buildURI + "/merge_docker_auths.sh"
		if err := b.stageFile(ctx, cluster, scriptURI, []byte(mergeAuthScript)); err != nil {
			return job.Request{}, fmt.Errorf("uploading auth merge script: %w", err)
		}
		volumes = append(volumes, job.VolumeMount{Source: scriptURI, MountPath: kanikoAuthScriptPath, ReadOnly: true})
	}

	volumes = append(volumes,
		job.VolumeMount{Source: configURI, MountPath: configMountPath, ReadOnly: true},
		// The context stays writable so secret mounts can land inside it.
		job.VolumeMount{Source: contextURI, MountPath: kanikoContextPath},
	)

	kanikoArgs, err := b.kanikoArgs(session, ref, opts, envs)
	if err != nil {
		return job.Request{}, err
	}
	argsLine := strings.Join(kanikoArgs, " ")

	jobEnv := make([]job.EnvVar, 0, len(envs)+1)
	for _, env := range envs {
		ev, err := job.ParseEnvVar(env)
		if err != nil {
			return job.Request{}, err
		}
		jobEnv = append(jobEnv, ev)
	}
	if !hasEnvName(envs, "container") {
		jobEnv = append(jobEnv, job.EnvVar{Name: "container", Value: "docker"})
	} else {
		b.logger.Warn("not overwriting user-supplied env", "name", "container")
	}

	req := job.Request{
		Image:           b.kanikoImage + ":" + b.kanikoTag,
		Volumes:         volumes,
		Env:             jobEnv,
		Preset:          opts.Preset,
		Project:         session.Project,
		Cluster:         cluster,
		LifeSpan:        builderLifeSpan,
		ScheduleTimeout: builderScheduleTimeout,
		Tags:            append(append([]string{}, opts.BuildTags...), "kaniko-builds-image:"+ref.String()),
	}
	if hasAuthEnv {
		req.Entrypoint = fmt.Sprintf("sh -c %q", "sh "+kanikoAuthScriptPath+" && executor "+argsLine)
	} else {
		req.Command = argsLine
	}
	return req, nil
}

// kanikoArgs assembles the executor command line, forwarding env vars as
// build args and collision-checking user-supplied extras.
func (b *RemoteBuilder) kanikoArgs(session platform.Session, ref Ref, opts Options, envs []string) ([]string, error) {
	verbosity := "info"
	if opts.Verbose {
		verbosity = "debug"
	}
	cacheRepo := fmt.Sprintf("%s/%s/layer-cache/cache", registryHost(session.Registry), session.Project)

	args := []string{
		"--context=" + kanikoContextPath,
		"--dockerfile=" + kanikoContextPath + "/" + filepath.ToSlash(filepath.Clean(opts.Dockerfile)),
		"--destination=" + ref.DockerURL(session),
		fmt.Sprintf("--cache=%t", opts.UseCache),
		"--cache-repo=" + cacheRepo,
		"--verbosity=" + verbosity,
		"--image-fs-extract-retry=1",
		"--push-retry=3",
		"--use-new-run=true",
		"--snapshot-mode=redo",
	}
	for _, arg := range opts.BuildArgs {
		args = append(args, "--build-arg "+arg)
	}
	// Env vars double as build args so dockerfiles can consume them.
	for _, env := range envs {
		if strings.HasPrefix(splitKV(env), AuthEnvPrefix) {
			continue
		}
		args = append(args, "--build-arg "+env)
	}

	if opts.ExtraKanikoArgs == "" {
		return args, nil
	}
	extra := strings.Fields(opts.ExtraKanikoArgs)
	known := make(map[string]bool, len(args))
	for _, arg := range args {
		known[splitKV(arg)] = true
	}
	for _, arg := range extra {
		if known[splitKV(arg)] {
			return nil, fmt.Errorf("extra kaniko argument %q overlaps an autogenerated argument", splitKV(arg))
		}
	}
	return append(args, extra...), nil
}

// stageDockerConfig merges the platform registry credential with any
// extra auths and uploads the result next to the build context.
func (b *RemoteBuilder) stageDockerConfig(ctx context.Context, session platform.Session, cluster, configURI string) error {
	platformAuth := registryauth.Auth{
		Registry: registryHost(session.Registry),
		Username: session.Username,
		Password: session.Token,
	}
	merged := registryauth.Merge(append([]registryauth.Config{registryauth.NewConfig(platformAuth)}, b.extraAuths...)...)
	doc, err := merged.MarshalJSONDoc()
	if err != nil {
		return fmt.Errorf("encoding docker config: %w", err)
	}
	b.logger.Debug("uploading docker config", "to", configURI, "registries", merged.Registries())
	if err := b.stageFile(ctx, cluster, configURI, doc); err != nil {
		return fmt.Errorf("uploading docker config: %w", err)
	}
	return nil
}

// stageFile writes data to a local temp file and uploads it to storage.
func (b *RemoteBuilder) stageFile(ctx context.Context, cluster, storageURI string, data []byte) error {
	tmp, err := os.CreateTemp("", "astra-extras-stage-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return b.api.UploadRecursive(ctx, cluster, filepath.Clean(tmp.Name()), storageURI)
}

func hasEnvName(envs []string, name string) bool {
	for _, env := range envs {
		if splitKV(env) == name {
			return true
		}
	}
	return false
}
