package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astracloud/astra-extras/internal/registryauth"
)

var saveAuthCluster string

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration operations",
	}
	cmd.AddCommand(newSaveRegistryAuthCmd(), newBuildRegistryAuthCmd())
	return cmd
}

func newSaveRegistryAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save-registry-auth PATH",
		Short: "Save a docker config.json for the platform registry",
		Long: `Write a docker config.json holding the platform registry credential of
the current (or selected) cluster, for use by docker or other tools.`,
		Example: `  astra-extras config save-registry-auth ~/.docker/config.json
  astra-extras config save-registry-auth --cluster other-cluster ./config.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := newPlatformCLI()
			session, err := cli.SessionFor(cmd.Context(), saveAuthCluster)
			if err != nil {
				return err
			}
			cfg := registryauth.NewConfig(registryauth.Auth{
				Registry: registryauth.Host(session.Registry),
				Username: session.Username,
				Password: session.Token,
			})
			if err := cfg.WriteFile(args[0]); err != nil {
				return err
			}
			logger.Info("docker config saved", "path", args[0], "registry", cfg.Registries())
			return nil
		},
	}
	cmd.Flags().StringVar(&saveAuthCluster, "cluster", "", "cluster whose registry credential to save (current by default)")
	return cmd
}

func newBuildRegistryAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build-registry-auth REGISTRY USERNAME PASSWORD",
		Short: "Generate a docker auth document for a remote registry",
		Example: `  astra-extras config build-registry-auth ghcr.io bot "$GHCR_TOKEN"`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := registryauth.NewConfig(registryauth.Auth{
				Registry: args[0],
				Username: args[1],
				Password: args[2],
			})
			doc, err := cfg.MarshalJSONDoc()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return nil
		},
	}
}
