package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/astracloud/astra-extras/internal/build"
	"github.com/astracloud/astra-extras/internal/k8s"
	"github.com/astracloud/astra-extras/internal/registryauth"
)

var (
	k8sSecretName         string
	k8sConfigDir          string
	k8sRegistrySecretName string
	k8sRegistryCluster    string

	seldonName           string
	seldonPlatformSecret string
	seldonRegistrySecret string
)

func newK8sCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "k8s",
		Short: "Kubernetes manifest generation",
	}
	cmd.AddCommand(newK8sSecretCmd(), newK8sRegistrySecretCmd())
	return cmd
}

func newK8sSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-secret",
		Short: "Generate an Opaque secret embedding the platform CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir := k8sConfigDir
			if configDir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("resolving home directory: %w", err)
				}
				configDir = filepath.Join(home, ".astra")
			}
			doc, err := k8s.GenerateSecret(k8sSecretName, configDir)
			if err != nil {
				return err
			}
			return emitManifest(cmd, doc)
		},
	}
	cmd.Flags().StringVar(&k8sSecretName, "name", "astra", "secret name")
	cmd.Flags().StringVar(&k8sConfigDir, "config-dir", "", "platform CLI config directory (~/.astra by default)")
	return cmd
}

func newK8sRegistrySecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-registry-secret",
		Short: "Generate a dockerconfigjson secret for the platform registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := newPlatformCLI()
			session, err := cli.SessionFor(cmd.Context(), k8sRegistryCluster)
			if err != nil {
				return err
			}
			cfg := registryauth.NewConfig(registryauth.Auth{
				Registry: registryauth.Host(session.Registry),
				Username: session.Username,
				Password: session.Token,
			})
			doc, err := k8s.GenerateRegistrySecret(k8sRegistrySecretName, cfg)
			if err != nil {
				return err
			}
			return emitManifest(cmd, doc)
		},
	}
	cmd.Flags().StringVar(&k8sRegistrySecretName, "name", "astra-registry", "secret name")
	cmd.Flags().StringVar(&k8sRegistryCluster, "cluster", "", "cluster whose registry credential to embed (current by default)")
	return cmd
}

func newSeldonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seldon",
		Short: "Seldon deployment operations",
	}
	cmd.AddCommand(newSeldonDeploymentCmd())
	return cmd
}

func newSeldonDeploymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-deployment MODEL_IMAGE_URI MODEL_STORAGE_URI",
		Short: "Generate a SeldonDeployment serving a model from storage",
		Long: `Generate a SeldonDeployment manifest whose init container downloads the
model from platform storage using the secrets generated by
'k8s generate-secret' and 'k8s generate-registry-secret'.`,
		Example: `  astra-extras seldon generate-deployment image:sentiment:v1 storage:models/sentiment`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := newPlatformCLI()
			modelImage := args[0]
			ref, err := build.ParseRef(modelImage)
			if err != nil {
				return err
			}
			if ref.IsPlatform() {
				session, err := cli.SessionFor(cmd.Context(), ref.Cluster)
				if err != nil {
					return err
				}
				modelImage = ref.DockerURL(session)
			}
			doc := k8s.GenerateSeldonDeployment(k8s.SeldonOptions{
				Name:            seldonName,
				PlatformSecret:  seldonPlatformSecret,
				RegistrySecret:  seldonRegistrySecret,
				ModelImage:      modelImage,
				ModelStorageURI: args[1],
				ExtrasImage:     globalCfg.Platform.ExtrasImage,
			})
			return emitManifest(cmd, doc)
		},
	}
	cmd.Flags().StringVar(&seldonName, "name", "astra-model", "deployment name")
	cmd.Flags().StringVar(&seldonPlatformSecret, "astra-secret", "astra", "name of the platform config secret")
	cmd.Flags().StringVar(&seldonRegistrySecret, "registry-secret", "astra-registry", "name of the registry secret")
	return cmd
}

func emitManifest(cmd *cobra.Command, doc map[string]any) error {
	out, err := k8s.EncodeYAML(doc)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
