package update

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// The repository part matches greedily through any registry:port
	// colon so only the final colon separates the tag.
	imagePattern = regexp.MustCompile(`^(\s*image:\s*\S+:)([^\s#:]+)(\s*)$`)
	// The top-level compose schema version marker is obsolete and makes
	// newer compose releases warn; rewriting drops it.
	schemaVersionPattern = regexp.MustCompile(`^version:\s*\S+\s*$`)
)

// RewriteImageTag replaces the tag portion of the manifest's image
// reference with version, leaving every other line byte-identical, and
// strips an obsolete top-level schema-version marker if present. It
// fails when the manifest contains no image line to rewrite.
func RewriteImageTag(manifest, version string) (string, error) {
	lines := strings.Split(manifest, "\n")
	out := make([]string, 0, len(lines))
	rewritten := 0

	for _, line := range lines {
		if schemaVersionPattern.MatchString(line) {
			continue
		}
		if m := imagePattern.FindStringSubmatch(line); m != nil {
			out = append(out, m[1]+version+m[3])
			rewritten++
			continue
		}
		out = append(out, line)
	}

	if rewritten == 0 {
		return "", fmt.Errorf("manifest contains no image reference to rewrite")
	}
	return strings.Join(out, "\n"), nil
}

var snapshotUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SnapshotName builds a snapshot identifier from an operator-supplied
// label, restricted to letters, digits, hyphen and underscore, with the
// target version appended for uniqueness.
func SnapshotName(label, version string) string {
	base := snapshotUnsafe.ReplaceAllString(strings.TrimSpace(label), "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "preupdate"
	}
	suffix := snapshotUnsafe.ReplaceAllString(version, "-")
	suffix = strings.Trim(suffix, "-")
	if suffix == "" {
		return base
	}
	return base + "-" + suffix
}
