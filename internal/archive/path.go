package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// safeJoin joins an archive entry name under root, rejecting absolute
// names and parent traversal so a hostile archive cannot write outside
// the extraction directory.
func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." {
		return "", fmt.Errorf("entry resolves to extraction root: %q", name)
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute entry name not allowed: %q", name)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry escapes extraction root: %q", name)
	}
	return filepath.Join(root, clean), nil
}
