package k8s

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/astracloud/astra-extras/internal/registryauth"
)

func TestGenerateSecret(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"db":     "sqlite-bytes",
		"cookie": "session-cookie",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	// Transient sqlite sidecars and subdirectories stay out of the secret.
	if err := os.WriteFile(filepath.Join(dir, "db-shm"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "cache"), 0o755); err != nil {
		t.Fatal(err)
	}

	doc, err := GenerateSecret("astra", dir)
	if err != nil {
		t.Fatalf("GenerateSecret() failed: %v", err)
	}
	if doc["kind"] != "Secret" || doc["type"] != "Opaque" {
		t.Errorf("kind/type = %v/%v", doc["kind"], doc["type"])
	}
	if name := doc["metadata"].(map[string]any)["name"]; name != "astra" {
		t.Errorf("name = %v", name)
	}

	data := doc["data"].(map[string]any)
	if len(data) != len(files) {
		t.Fatalf("data has %d entries, want %d: %v", len(data), len(files), data)
	}
	for name, content := range files {
		decoded, err := base64.StdEncoding.DecodeString(data[name].(string))
		if err != nil {
			t.Fatalf("data[%s] is not base64: %v", name, err)
		}
		if string(decoded) != content {
			t.Errorf("data[%s] = %q, want %q", name, decoded, content)
		}
	}
}

func TestGenerateSecretMissingDir(t *testing.T) {
	if _, err := GenerateSecret("astra", filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("GenerateSecret() succeeded for a missing directory")
	}
}

func TestGenerateRegistrySecret(t *testing.T) {
	cfg := registryauth.NewConfig(registryauth.Auth{
		Registry: "registry.test",
		Username: "alice",
		Password: "tok",
	})
	doc, err := GenerateRegistrySecret("astra-registry", cfg)
	if err != nil {
		t.Fatalf("GenerateRegistrySecret() failed: %v", err)
	}
	if doc["type"] != "kubernetes.io/dockerconfigjson" {
		t.Errorf("type = %v", doc["type"])
	}

	encoded := doc["data"].(map[string]any)[".dockerconfigjson"].(string)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf(".dockerconfigjson is not base64: %v", err)
	}
	var parsed map[string]map[string]map[string]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf(".dockerconfigjson is not JSON: %v", err)
	}
	if _, ok := parsed["auths"]["registry.test"]; !ok {
		t.Errorf("decoded config = %v, missing registry.test auth", parsed)
	}
}

func TestGenerateSeldonDeployment(t *testing.T) {
	doc := GenerateSeldonDeployment(SeldonOptions{
		Name:            "sentiment",
		PlatformSecret:  "astra",
		RegistrySecret:  "astra-registry",
		ModelImage:      "registry.test/proj/model:v1",
		ModelStorageURI: "storage:models/sentiment",
		ExtrasImage:     "ghcr.io/astracloud/astra-extras:latest",
	})

	out, err := EncodeYAML(doc)
	if err != nil {
		t.Fatalf("EncodeYAML() failed: %v", err)
	}
	// Round-trip through YAML so assertions see what the consumer sees.
	var parsed map[string]any
	if err := yaml.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("generated manifest does not parse: %v", err)
	}
	if parsed["kind"] != "SeldonDeployment" {
		t.Errorf("kind = %v", parsed["kind"])
	}

	text := string(out)
	for _, want := range []string{
		"name: sentiment",
		"secretName: astra",
		"name: astra-registry",
		"image: registry.test/proj/model:v1",
		"image: ghcr.io/astracloud/astra-extras:latest",
		"astra cp storage:models/sentiment /storage",
		"replicas: 1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("manifest missing %q:\n%s", want, text)
		}
	}

	// The model container must share the storage volume the init
	// container fills.
	if strings.Count(text, "mountPath: /storage") != 2 {
		t.Errorf("expected both containers to mount /storage:\n%s", text)
	}
}
