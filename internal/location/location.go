// Package location classifies raw source/destination strings into typed
// endpoint descriptors. Resolution is pure string work: no filesystem or
// network access happens here, so the same input always yields the same
// Location regardless of where the tool runs.
package location

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Kind identifies the storage system a location belongs to.
type Kind int

const (
	// Local is the invoking machine's filesystem.
	Local Kind = iota
	// Storage is platform-managed shared storage (storage: scheme).
	Storage
	// Disk is a platform-managed block device (disk: scheme).
	Disk
	// S3 is an AWS-compatible object store (s3:// scheme).
	S3
	// GCS is Google Cloud Storage (gs:// scheme).
	GCS
	// Azure is Azure blob storage, addressed with the azure+https://
	// prefix to keep it distinguishable from plain HTTPS.
	Azure
	// HTTP and HTTPS are generic web endpoints, download-only.
	HTTP
	HTTPS
)

// String returns the scheme-ish name of the kind.
func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Storage:
		return "storage"
	case Disk:
		return "disk"
	case S3:
		return "s3"
	case GCS:
		return "gcs"
	case Azure:
		return "azure"
	case HTTP:
		return "http"
	case HTTPS:
		return "https"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrUnrecognized is returned for strings that carry a URI scheme which
// matches no known provider. Plain paths never trigger it; they fall back
// to Local.
var ErrUnrecognized = fmt.Errorf("unrecognized location")

// Location is a resolved endpoint descriptor. It is immutable once
// resolved; downstream components only read it.
type Location struct {
	Kind Kind
	// Path is the kind-specific addressing string, normalized but kept
	// close to what the user wrote (scheme included for non-local kinds).
	Path string
	// Cluster is the cluster name embedded in a fully-qualified platform
	// URI such as storage://cluster/project/path. Empty for relative
	// platform URIs and for all non-platform kinds.
	Cluster string
}

// schemeRe matches strings that look like a URI with an explicit
// authority part. Single-colon forms (storage:path, C:\data) are handled
// separately so Windows paths do not masquerade as schemes.
var schemeRe = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*)://`)

var schemeKinds = map[string]Kind{
	"s3":          S3,
	"gs":          GCS,
	"azure+https": Azure,
	"http":        HTTP,
	"https":       HTTPS,
	"storage":     Storage,
	"disk":        Disk,
	"file":        Local,
}

// Resolve classifies raw into a Location. Strings with a recognized
// scheme map to their provider; strings with an unknown scheme fail with
// ErrUnrecognized; everything else resolves as a local filesystem path.
func Resolve(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty string", ErrUnrecognized)
	}

	if m := schemeRe.FindStringSubmatch(raw); m != nil {
		scheme := strings.ToLower(m[1])
		kind, ok := schemeKinds[scheme]
		if !ok {
			return Location{}, fmt.Errorf("%w: unknown scheme %q in %q", ErrUnrecognized, scheme, raw)
		}
		if kind == Local {
			// file:// URIs address the local filesystem directly.
			return Location{Kind: Local, Path: strings.TrimPrefix(raw, m[0])}, nil
		}
		loc := Location{Kind: kind, Path: raw}
		if kind == Storage || kind == Disk {
			loc.Cluster = platformCluster(raw, m[0])
		}
		return loc, nil
	}

	// Relative platform URIs: storage:dir/file, disk:disk-name/path.
	if rest, ok := cutPrefixFold(raw, "storage:"); ok && rest != "" {
		return Location{Kind: Storage, Path: raw}, nil
	}
	if rest, ok := cutPrefixFold(raw, "disk:"); ok && rest != "" {
		return Location{Kind: Disk, Path: raw}, nil
	}

	return Location{Kind: Local, Path: raw}, nil
}

// platformCluster extracts the authority (cluster name) from a
// fully-qualified platform URI.
func platformCluster(raw, prefix string) string {
	rest := strings.TrimPrefix(raw, prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// IsLocal reports whether the location is on the invoking machine.
func (l Location) IsLocal() bool { return l.Kind == Local }

// IsPlatform reports whether the location is platform-managed storage or
// disk, i.e. it needs platform-side credentials and volume mounts.
func (l Location) IsPlatform() bool { return l.Kind == Storage || l.Kind == Disk }

// IsCloud reports whether the location is a third-party object store or
// web endpoint.
func (l Location) IsCloud() bool {
	switch l.Kind {
	case S3, GCS, Azure, HTTP, HTTPS:
		return true
	}
	return false
}

// IsWeb reports whether the location is a plain http(s) endpoint.
// Web endpoints are read-only sources.
func (l Location) IsWeb() bool { return l.Kind == HTTP || l.Kind == HTTPS }

// Filename returns the last path segment, or "" when the location
// addresses a directory-like root.
func (l Location) Filename() string {
	trimmed := strings.TrimRight(l.Path, "/")
	base := path.Base(strings.ReplaceAll(trimmed, "\\", "/"))
	switch base {
	case ".", "/", "":
		return ""
	}
	if strings.HasSuffix(l.Path, "/") {
		// Explicit trailing slash means "contents of a directory".
		return ""
	}
	if i := strings.LastIndexByte(base, ':'); i >= 0 {
		// Strip a dangling scheme remnant (storage:file.txt).
		base = base[i+1:]
	}
	return base
}

func (l Location) String() string { return l.Path }
