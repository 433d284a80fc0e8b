package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/astracloud/astra-extras/internal/registryauth"
)

// Transfer copies an image between clusters without a local docker
// engine: it builds a FROM-only dockerfile on the destination cluster,
// injecting the source cluster's registry credential so Kaniko can pull
// the base layer.
func (b *RemoteBuilder) Transfer(ctx context.Context, source, destination string, force bool) error {
	srcRef, err := ParseRef(source)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	dstRef, err := ParseRef(destination)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if !dstRef.IsPlatform() || dstRef.Cluster == "" {
		return fmt.Errorf("invalid destination image %q: missing cluster name", destination)
	}

	var extraAuths []registryauth.Config
	srcSession, err := b.api.SessionFor(ctx, srcRef.Cluster)
	if err != nil {
		return fmt.Errorf("resolving source cluster: %w", err)
	}
	if srcRef.IsPlatform() {
		extraAuths = append(extraAuths, registryauth.NewConfig(registryauth.Auth{
			Registry: registryHost(srcSession.Registry),
			Username: srcSession.Username,
			Password: srcSession.Token,
		}))
	}

	tmpDir, err := os.MkdirTemp("", "astra-extras-transfer-*")
	if err != nil {
		return fmt.Errorf("creating transfer context: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dockerfile := fmt.Sprintf("FROM %s\nLABEL cloud.astra/source-image-uri=%q\n",
		srcRef.DockerURL(srcSession), source)
	if err := os.WriteFile(filepath.Join(tmpDir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return fmt.Errorf("writing transfer dockerfile: %w", err)
	}

	builder := *b
	builder.extraAuths = append(append([]registryauth.Config{}, b.extraAuths...), extraAuths...)
	return builder.Build(ctx, Options{
		ContextDir:     tmpDir,
		Dockerfile:     "Dockerfile",
		Image:          destination,
		UseCache:       true,
		ForceOverwrite: force,
		BuildTags: []string{
			"src-image:" + srcRef.String(),
			"astra-extras:image-transfer",
		},
	})
}
