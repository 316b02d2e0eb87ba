package archive

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RapidTag is a "group:version" mod identifier resolved through the data
// directories' rapid indexes.
type RapidTag struct {
	Group   string
	Version string
}

// ParseRapidTag parses "rapid://group:version" or "group:version".
func ParseRapidTag(s string) (RapidTag, bool) {
	s = strings.TrimPrefix(s, "rapid://")
	group, version, ok := strings.Cut(s, ":")
	if !ok || group == "" || version == "" {
		return RapidTag{}, false
	}
	return RapidTag{Group: group, Version: version}, true
}

// ResolveRapid scans every data dir's rapid/*/<group>/versions.gz for the
// entry whose first two fields match the tag and returns the archive name
// it points at. The versions file is gzipped CSV:
// tag,hash,dependencies,name.
func ResolveRapid(dataDirs []string, tag RapidTag) (string, error) {
	want := tag.Group + ":" + tag.Version
	for _, dir := range dataDirs {
		matches, err := filepath.Glob(filepath.Join(dir, "rapid", "*", tag.Group, "versions.gz"))
		if err != nil {
			continue
		}
		for _, path := range matches {
			name, found, err := scanVersions(path, want)
			if err != nil {
				return "", err
			}
			if found {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("rapid tag %s not found in any data dir", want)
}

func scanVersions(path, want string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", false, fmt.Errorf("decompressing %s: %w", path, err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), ",")
		if len(fields) < 4 {
			continue
		}
		// The tag field itself carries group:version; the hash field is
		// second. Match on the first two fields as a unit.
		if fields[0] == want || fields[0]+":"+fields[1] == want {
			return fields[len(fields)-1], true, nil
		}
	}
	return "", false, nil
}
