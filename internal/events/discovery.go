package events

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// readManifest loads and parses extension.manifest.json from dir. A missing
// manifest is reported the same as a malformed one: the core requires every
// candidate to declare itself explicitly.
func readManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return ParseManifest(raw)
}

// hasEntrypoint reports whether dir contains at least one of the candidate
// entrypoint file names.
func hasEntrypoint(dir string, candidates []string) bool {
	for _, name := range candidates {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// SourceFamily ranks where a candidate extension root came from. Lower Rank
// values win ties over the same absolute path (spec §4.2 "Module Discovery
// and Source Precedence").
type SourceFamily int

const (
	RepoLocal SourceFamily = iota
	InstalledPackage
	ConfiguredRoot
)

// Root is one configured search root for extension discovery.
type Root struct {
	Family SourceFamily
	Path   string
}

// Candidate is one directory that looks like an extension, prior to manifest
// parsing.
type Candidate struct {
	Path   string
	Family SourceFamily
}

const manifestFileName = "extension.manifest.json"

var entrypointCandidateNames = []string{"events.mjs", "events.js", "events.ts"}

// looksLikeExtension reports whether dir contains a manifest or a
// conventional events entrypoint.
func looksLikeExtension(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, manifestFileName)); err == nil {
		return true
	}
	for _, name := range entrypointCandidateNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// DiscoverCandidates walks the given roots in the order supplied and returns
// the deduplicated set of extension candidates: same absolute path keeps the
// higher-precedence (lower Family rank) source; ties break lexicographically
// by path.
func DiscoverCandidates(roots []Root) ([]Candidate, error) {
	byPath := make(map[string]Candidate)
	for _, root := range roots {
		abs, err := filepath.Abs(root.Path)
		if err != nil {
			continue // unreadable root: skip, do not fail discovery as a whole
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			continue
		}
		var found []string
		if looksLikeExtension(abs) {
			found = append(found, abs)
		} else {
			entries, err := os.ReadDir(abs)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				sub := filepath.Join(abs, e.Name())
				if looksLikeExtension(sub) {
					found = append(found, sub)
				}
			}
		}
		for _, path := range found {
			existing, ok := byPath[path]
			if !ok || root.Family < existing.Family {
				byPath[path] = Candidate{Path: path, Family: root.Family}
			}
		}
	}

	out := make([]Candidate, 0, len(byPath))
	for _, c := range byPath {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].Path < out[k].Path })
	return out, nil
}
