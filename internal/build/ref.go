package build

import (
	"fmt"
	"strings"

	"github.com/astracloud/astra-extras/internal/platform"
	"github.com/astracloud/astra-extras/internal/registryauth"
)

// Ref is a parsed image reference. Platform references use the image:
// scheme and resolve against a session; anything else is an external
// docker reference used verbatim.
type Ref struct {
	// Cluster is set only for fully qualified image://cluster/... forms.
	Cluster string
	// Project overrides the session project when the reference names one.
	Project string
	Name    string
	Tag     string
	// External holds a non-platform docker reference, mutually exclusive
	// with Name.
	External string
}

// IsPlatform reports whether the reference lives in a platform registry.
func (r Ref) IsPlatform() bool { return r.External == "" }

// ParseRef parses an image reference string. Accepted platform forms:
//
//	image:name[:tag]
//	image:/project/name[:tag]
//	image://cluster/project/name[:tag]
//
// Everything else is treated as an external docker reference.
func ParseRef(raw string) (Ref, error) {
	if raw == "" {
		return Ref{}, fmt.Errorf("empty image reference")
	}
	if !strings.HasPrefix(raw, "image:") {
		return Ref{External: raw}, nil
	}

	rest := strings.TrimPrefix(raw, "image:")
	var ref Ref
	switch {
	case strings.HasPrefix(rest, "//"):
		rest = strings.TrimPrefix(rest, "//")
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return Ref{}, fmt.Errorf("image reference %q needs cluster, project and name", raw)
		}
		ref.Cluster = parts[0]
		ref.Project = parts[1]
		rest = parts[2]
	case strings.HasPrefix(rest, "/"):
		rest = strings.TrimPrefix(rest, "/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return Ref{}, fmt.Errorf("image reference %q needs project and name", raw)
		}
		ref.Project = parts[0]
		rest = parts[1]
	}
	if rest == "" {
		return Ref{}, fmt.Errorf("image reference %q has no name", raw)
	}

	name, tag := rest, "latest"
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		name, tag = rest[:i], rest[i+1:]
		if name == "" || tag == "" {
			return Ref{}, fmt.Errorf("image reference %q has a malformed tag", raw)
		}
	}
	ref.Name = name
	ref.Tag = tag
	return ref, nil
}

// DockerURL renders the reference as a pullable docker URL. Platform
// references resolve registry and project from the session.
func (r Ref) DockerURL(session platform.Session) string {
	if r.External != "" {
		return r.External
	}
	project := r.Project
	if project == "" {
		project = session.Project
	}
	return fmt.Sprintf("%s/%s/%s:%s", registryHost(session.Registry), project, r.Name, r.Tag)
}

// PlatformURI renders the image: form used by the CLI, without the tag.
func (r Ref) PlatformURI() string {
	if r.External != "" {
		return r.External
	}
	switch {
	case r.Cluster != "":
		return fmt.Sprintf("image://%s/%s/%s", r.Cluster, r.Project, r.Name)
	case r.Project != "":
		return fmt.Sprintf("image:/%s/%s", r.Project, r.Name)
	default:
		return "image:" + r.Name
	}
}

func (r Ref) String() string {
	if r.External != "" {
		return r.External
	}
	return r.PlatformURI() + ":" + r.Tag
}

// registryHost strips the URL scheme from a registry URL.
func registryHost(registryURL string) string {
	return registryauth.Host(registryURL)
}
