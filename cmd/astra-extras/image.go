package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/astracloud/astra-extras/internal/build"
	"github.com/astracloud/astra-extras/internal/platform"
	"github.com/astracloud/astra-extras/internal/registryauth"
	"github.com/astracloud/astra-extras/internal/store"
)

var (
	buildDockerfile  string
	buildArgs        []string
	buildVolumes     []string
	buildEnv         []string
	buildPreset      string
	buildProject     string
	buildForce       bool
	buildNoCache     bool
	buildTags        []string
	buildExtraKaniko string
	transferForce    bool
)

func newImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Container image operations",
	}
	cmd.AddCommand(newImageBuildCmd(), newImageLocalBuildCmd(), newImageTransferCmd())
	return cmd
}

func addBuildFlags(cmd *cobra.Command, remote bool) {
	cmd.Flags().StringVarP(&buildDockerfile, "file", "f", "Dockerfile", "dockerfile path relative to the context")
	cmd.Flags().StringArrayVar(&buildArgs, "build-arg", nil, "build-time variable VAR=VAL (repeatable)")
	cmd.Flags().BoolVarP(&buildForce, "force-overwrite", "F", false, "overwrite the destination image if it exists")
	cmd.Flags().StringVarP(&buildProject, "project", "p", "", "build in another than the current project")
	if remote {
		cmd.Flags().StringArrayVarP(&buildVolumes, "volume", "v", nil, "mount storage into the builder job (repeatable)")
		cmd.Flags().StringArrayVarP(&buildEnv, "env", "e", nil, "set env in the builder job, also forwarded as build args (repeatable)")
		cmd.Flags().StringVarP(&buildPreset, "preset", "s", "", "resource preset for the builder job")
		cmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "disable the Kaniko layer cache")
		cmd.Flags().StringArrayVar(&buildTags, "build-tag", nil, "extra tag for the builder job (repeatable)")
		cmd.Flags().StringVar(&buildExtraKaniko, "extra-kaniko-args", "", "extra arguments appended to the Kaniko command line")
	}
}

func buildOptions(contextDir, image string) build.Options {
	return build.Options{
		ContextDir:      contextDir,
		Dockerfile:      buildDockerfile,
		Image:           image,
		BuildArgs:       buildArgs,
		Volumes:         buildVolumes,
		Env:             buildEnv,
		Preset:          buildPreset,
		Project:         buildProject,
		ForceOverwrite:  buildForce,
		UseCache:        !buildNoCache,
		Verbose:         verbose,
		BuildTags:       buildTags,
		ExtraKanikoArgs: buildExtraKaniko,
	}
}

// newRemoteBuilder wires the Kaniko builder, picking up extra registry
// credentials from AX_REGISTRY_AUTH* environment variables.
func newRemoteBuilder() *build.RemoteBuilder {
	cli := newPlatformCLI()
	builder := build.NewRemoteBuilder(cli, newDriver(cli),
		globalCfg.Build.KanikoImage, globalCfg.Build.KanikoTag, logger)
	extra := registryauth.FromEnviron(os.Environ(), build.AuthEnvPrefix, logger)
	if len(extra.Auths) > 0 {
		builder.WithExtraAuths(extra)
	}
	return builder
}

func newImageBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build CONTEXT_PATH IMAGE_URI",
		Short: "Build a container image remotely on the cluster using Kaniko",
		Example: `  astra-extras image build . image:myimage:v1
  astra-extras image build -f docker/Dockerfile.gpu . image:trainer:v2
  astra-extras image build --build-arg VERSION=1.2 ./ctx image://cluster-b/proj/model:v1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			builder := newRemoteBuilder()
			run := startRun(store.KindImageBuild, args[0], "", args[1])
			err := builder.Build(cmd.Context(), buildOptions(args[0], args[1]))
			finishRun(run, "", err)
			return err
		},
	}
	addBuildFlags(cmd, true)
	return cmd
}

func newImageLocalBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local-build CONTEXT_PATH IMAGE_URI",
		Short: "Build a container image locally and push it to the platform registry",
		Long: `Build a container image with the local docker engine and push it to the
platform registry. Registry login is the engine's own concern; run
'astra-extras config save-registry-auth' first if needed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := newPlatformCLI()
			builder := build.NewLocalBuilder(cli, platform.NewExecRunner(logger), logger)
			run := startRun(store.KindImageBuild, args[0], "", args[1])
			err := builder.Build(cmd.Context(), buildOptions(args[0], args[1]))
			finishRun(run, "", err)
			return err
		},
	}
	addBuildFlags(cmd, false)
	return cmd
}

func newImageTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer SOURCE DESTINATION",
		Short: "Copy an image between clusters",
		Long: `Copy an image between cluster registries without a local docker engine.
The destination must be a fully qualified image://cluster/... reference.`,
		Example: `  astra-extras image transfer image://cluster-a/proj/model:v1 image://cluster-b/proj/model:v1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			builder := newRemoteBuilder()
			run := startRun(store.KindImageTransfer, args[0], args[1], args[1])
			err := builder.Transfer(cmd.Context(), args[0], args[1], transferForce)
			finishRun(run, "", err)
			return err
		},
	}
	cmd.Flags().BoolVarP(&transferForce, "force-overwrite", "F", false, "transfer even if the destination image exists")
	return cmd
}
