package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/astracloud/astra-extras/internal/archive"
	"github.com/astracloud/astra-extras/internal/data"
	"github.com/astracloud/astra-extras/internal/job"
	"github.com/astracloud/astra-extras/internal/plan"
	"github.com/astracloud/astra-extras/internal/platform"
	"github.com/astracloud/astra-extras/internal/store"
	"github.com/astracloud/astra-extras/internal/transfer"
)

var (
	cpExtract  bool
	cpCompress bool
	cpVolumes  []string
	cpEnv      []string
	cpPreset   string
	cpLifeSpan time.Duration

	transferArchive bool
	transferPreset  string
)

func newDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Data transfer operations",
	}
	cmd.AddCommand(newDataCpCmd(), newDataTransferCmd())
	return cmd
}

func newDataCpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cp SOURCE DESTINATION",
		Short: "Copy data between local disks, object stores and platform storage",
		Long: `Copy data between the local filesystem, external object storage
(s3://, gs://, azure+https://, http(s)://) and platform storage or disks.
Copies that touch platform storage run as a job inside the cluster; the
rest run locally. Use -x to extract an archive into the destination or
-c to compress the source into one; the archive type is derived from the
file name.`,
		Example: `  astra-extras data cp https://example.com/data.tar.gz .
  astra-extras data cp -x s3://bucket/data.tar.gz storage:datasets/
  astra-extras data cp -c storage:datasets/imagenet gs://bucket/imagenet.tar.gz`,
		Args: cobra.ExactArgs(2),
		RunE: dataCpRun,
	}

	cmd.Flags().BoolVarP(&cpExtract, "extract", "x", false, "extract SOURCE archive into the DESTINATION directory")
	cmd.Flags().BoolVarP(&cpCompress, "compress", "c", false, "compress SOURCE into the DESTINATION archive")
	cmd.Flags().StringArrayVarP(&cpVolumes, "volume", "v", nil, "mount an extra volume into the copy job (repeatable)")
	cmd.Flags().StringArrayVarP(&cpEnv, "env", "e", nil, "set an environment variable in the copy job (repeatable)")
	cmd.Flags().StringVarP(&cpPreset, "preset", "s", "", "resource preset for the copy job")
	cmd.Flags().DurationVarP(&cpLifeSpan, "life-span", "l", 0, "copy job life span (default from config)")

	return cmd
}

func dataCpRun(cmd *cobra.Command, args []string) error {
	source, destination := args[0], args[1]

	volumes := make([]job.VolumeMount, 0, len(cpVolumes))
	for _, v := range cpVolumes {
		mount, err := job.ParseVolumeMount(v)
		if err != nil {
			return err
		}
		volumes = append(volumes, mount)
	}
	env := make([]job.EnvVar, 0, len(cpEnv))
	for _, e := range cpEnv {
		ev, err := job.ParseEnvVar(e)
		if err != nil {
			return err
		}
		env = append(env, ev)
	}

	lifeSpan := cpLifeSpan
	if lifeSpan == 0 {
		lifeSpan = globalCfg.Data.LifeSpan.Std()
	}

	cli := newPlatformCLI()
	codec := archive.NewCodec(logger)
	executor := data.NewExecutor(codec, platform.NewExecRunner(logger), globalCfg.Data.TempRoot, logger)
	op := data.NewCopyOperation(executor, newDriver(cli), logger)

	run := startRun(store.KindDataCopy, source, destination, "")
	result, err := op.Run(cmd.Context(), data.CopyRequest{
		Source:      source,
		Destination: destination,
		Extract:     cpExtract,
		Compress:    cpCompress,
		Remote: data.RemoteOptions{
			Image:    globalCfg.Platform.ExtrasImage,
			Preset:   cpPreset,
			LifeSpan: lifeSpan,
			Volumes:  volumes,
			Env:      env,
		},
	})
	finishRun(run, result.JobID, err)
	if err != nil {
		return err
	}
	if result.Site == plan.SiteRemoteJob {
		logger.Info("copy finished", "job_id", result.JobID)
	} else {
		logger.Info("copy finished", "destination", destination)
	}
	return nil
}

func newDataTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer SOURCE DESTINATION",
		Short: "Copy data between storages on different clusters",
		Long: `Copy data between storages on different clusters. The copy runs as a
job on the destination cluster, so data never passes through the local
machine. Consider --archive for datasets with very many small files.`,
		Example: `  astra-extras data transfer storage:datasets storage://other-cluster/proj/datasets
  astra-extras data transfer --archive storage:corpus storage://other-cluster/proj/corpus`,
		Args: cobra.ExactArgs(2),
		RunE: dataTransferRun,
	}

	cmd.Flags().BoolVar(&transferArchive, "archive", false, "pack the source tree into a single tarball on the way")
	cmd.Flags().StringVarP(&transferPreset, "preset", "s", "", "resource preset for the transfer job")

	return cmd
}

func dataTransferRun(cmd *cobra.Command, args []string) error {
	source, destination := args[0], args[1]

	cli := newPlatformCLI()
	coordinator := transfer.NewCoordinator(cli, newDriver(cli), logger)

	run := startRun(store.KindDataTransfer, source, destination, globalCfg.Platform.ExtrasImage)
	result, err := coordinator.Run(cmd.Context(), source, destination, transfer.Options{
		Image:   globalCfg.Platform.ExtrasImage,
		Preset:  transferPreset,
		Archive: transferArchive,
	})
	finishRun(run, result.JobID, err)
	if err != nil {
		return fmt.Errorf("transferring %s to %s: %w", source, destination, err)
	}
	return nil
}
