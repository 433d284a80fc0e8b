// Package k8s generates Kubernetes manifests that carry platform
// credentials into a cluster: an Opaque secret with the CLI config, a
// dockerconfigjson secret for the registry, and a Seldon deployment
// whose init container pulls the model from storage.
package k8s

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/astracloud/astra-extras/internal/registryauth"
)

// skip covers sqlite sidecar files in the CLI config directory; they are
// transient and break when restored on another machine.
var skip = map[string]bool{
	"db-shm": true,
	"db-wal": true,
}

// GenerateSecret builds an Opaque secret embedding every file of the
// platform CLI config directory, base64 per Kubernetes convention.
func GenerateSecret(name, configDir string) (map[string]any, error) {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		return nil, fmt.Errorf("reading platform config directory: %w", err)
	}
	data := map[string]any{}
	for _, entry := range entries {
		if entry.IsDir() || skip[entry.Name()] {
			continue
		}
		content, err := os.ReadFile(filepath.Join(configDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		data[entry.Name()] = base64.StdEncoding.EncodeToString(content)
	}
	return map[string]any{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata":   map[string]any{"name": name},
		"type":       "Opaque",
		"data":       data,
	}, nil
}

// GenerateRegistrySecret builds a kubernetes.io/dockerconfigjson secret
// from a registry auth config.
func GenerateRegistrySecret(name string, cfg registryauth.Config) (map[string]any, error) {
	doc, err := cfg.MarshalJSONDoc()
	if err != nil {
		return nil, fmt.Errorf("encoding docker config: %w", err)
	}
	return map[string]any{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata":   map[string]any{"name": name},
		"type":       "kubernetes.io/dockerconfigjson",
		"data": map[string]any{
			".dockerconfigjson": base64.StdEncoding.EncodeToString(doc),
		},
	}, nil
}

// SeldonOptions shape a generated model-serving deployment.
type SeldonOptions struct {
	Name string
	// PlatformSecret names the Opaque secret from GenerateSecret.
	PlatformSecret string
	// RegistrySecret names the dockerconfigjson secret.
	RegistrySecret string
	// ModelImage is the pullable docker reference of the model server.
	ModelImage string
	// ModelStorageURI is the storage: URI the init container downloads.
	ModelStorageURI string
	// ExtrasImage runs the download init container.
	ExtrasImage string
}

// GenerateSeldonDeployment builds a SeldonDeployment whose init
// container restores the CLI config from the mounted secret and copies
// the model into a shared emptyDir before the model server starts.
func GenerateSeldonDeployment(opts SeldonOptions) map[string]any {
	downloadScript := "cp -L -r /var/run/astra/config /root/.astra;" +
		"chmod 0700 /root/.astra;" +
		"chmod 0600 /root/.astra/db;" +
		fmt.Sprintf("astra cp %s /storage", opts.ModelStorageURI)

	podSpec := map[string]any{
		"volumes": []any{
			map[string]any{"emptyDir": map[string]any{}, "name": "astra-storage"},
			map[string]any{"name": "astra-secret", "secret": map[string]any{"secretName": opts.PlatformSecret}},
		},
		"imagePullSecrets": []any{
			map[string]any{"name": opts.RegistrySecret},
		},
		"initContainers": []any{
			map[string]any{
				"name":            "astra-download",
				"image":           opts.ExtrasImage,
				"imagePullPolicy": "Always",
				"securityContext": map[string]any{"runAsUser": 0},
				"command":         []any{"bash", "-c"},
				"args":            []any{downloadScript},
				"volumeMounts": []any{
					map[string]any{"mountPath": "/storage", "name": "astra-storage"},
					map[string]any{"mountPath": "/var/run/astra/config", "name": "astra-secret"},
				},
			},
		},
		"containers": []any{
			map[string]any{
				"name":            "model",
				"image":           opts.ModelImage,
				"imagePullPolicy": "Always",
				"volumeMounts": []any{
					map[string]any{"mountPath": "/storage", "name": "astra-storage"},
				},
			},
		},
	}
	return map[string]any{
		"apiVersion": "machinelearning.seldon.io/v1",
		"kind":       "SeldonDeployment",
		"metadata":   map[string]any{"name": opts.Name},
		"spec": map[string]any{
			"predictors": []any{
				map[string]any{
					"componentSpecs": []any{
						map[string]any{"spec": podSpec},
					},
					"graph": map[string]any{
						"endpoint": map[string]any{"type": "REST"},
						"name":     "model",
						"type":     "MODEL",
					},
					"name":     "predictor",
					"replicas": 1,
				},
			},
		},
	}
}

// EncodeYAML renders a manifest for stdout.
func EncodeYAML(doc map[string]any) ([]byte, error) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return out, nil
}
