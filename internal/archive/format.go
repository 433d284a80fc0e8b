package archive

import "strings"

// Format is a recognized archive/compression format.
type Format int

const (
	// FormatNone marks filenames with no recognized archive suffix.
	FormatNone Format = iota
	FormatTarGz
	FormatTarBz2
	FormatTarXz
	FormatTarZst
	FormatTar
	FormatGz
	FormatZip
)

// String returns the canonical extension for the format.
func (f Format) String() string {
	switch f {
	case FormatTarGz:
		return ".tar.gz"
	case FormatTarBz2:
		return ".tar.bz2"
	case FormatTarXz:
		return ".tar.xz"
	case FormatTarZst:
		return ".tar.zst"
	case FormatTar:
		return ".tar"
	case FormatGz:
		return ".gz"
	case FormatZip:
		return ".zip"
	default:
		return "none"
	}
}

// isTar reports whether the format is a tar stream, possibly compressed.
func (f Format) isTar() bool {
	switch f {
	case FormatTarGz, FormatTarBz2, FormatTarXz, FormatTarZst, FormatTar:
		return true
	}
	return false
}

// suffixTable is checked in order: multi-part suffixes (.tar.gz) must come
// before their single-part tails (.gz) or detection misclassifies.
var suffixTable = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGz},
	{".tgz", FormatTarGz},
	{".tar.bz2", FormatTarBz2},
	{".tbz2", FormatTarBz2},
	{".tbz", FormatTarBz2},
	{".tar.xz", FormatTarXz},
	{".txz", FormatTarXz},
	{".tar.zst", FormatTarZst},
	{".tar", FormatTar},
	{".gz", FormatGz},
	{".zip", FormatZip},
}

// Detect derives the archive format from a filename suffix. Unrecognized
// suffixes yield FormatNone.
func Detect(filename string) Format {
	name := strings.ToLower(filename)
	for _, row := range suffixTable {
		if strings.HasSuffix(name, row.suffix) {
			return row.format
		}
	}
	return FormatNone
}

// SupportedSuffixes lists every recognized suffix, most specific first.
func SupportedSuffixes() []string {
	out := make([]string, len(suffixTable))
	for i, row := range suffixTable {
		out[i] = row.suffix
	}
	return out
}
