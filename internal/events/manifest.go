package events

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ProfileRequirement is one entry of runtime.profiles in the manifest: the
// extension declares it is compatible with a named Runtime Profile Adapter
// across a version range.
type ProfileRequirement struct {
	Name         string `json:"name"`
	VersionRange string `json:"versionRange"`
}

// RuntimeRequirement describes the manifest's compatibility declaration.
type RuntimeRequirement struct {
	CoreAPIVersion      string                `json:"coreApiVersion,omitempty"`
	CoreAPIVersionRange string                `json:"coreApiVersionRange,omitempty"`
	Profiles            []ProfileRequirement  `json:"profiles"`
}

// Capabilities lists the event types a module may subscribe to and the
// action types it may request, under trust enforcement.
type Capabilities struct {
	Events  []string `json:"events"`
	Actions []string `json:"actions"`
}

// Entrypoints names the relative path to the module's events source.
type Entrypoints struct {
	Events string `json:"events"`
}

// Manifest is the parsed form of extension.manifest.json (spec §6).
type Manifest struct {
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	AgentID      string              `json:"agentId"`
	DisplayName  string              `json:"displayName"`
	Runtime      RuntimeRequirement  `json:"runtime"`
	Entrypoints  Entrypoints         `json:"entrypoints"`
	Capabilities Capabilities        `json:"capabilities"`
}

// ParseManifest unmarshals and validates a manifest against the manifest
// JSON Schema. A malformed document (bad JSON, missing name, or a
// capabilities entry that isn't a string) is reported as ErrInvalidManifest,
// matching the discovery algorithm's invalid_manifest outcome.
func ParseManifest(raw []byte) (*Manifest, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := compiledManifestSchema().Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return &m, nil
}

// ResolveEntrypoint returns the configured events entrypoint or the
// conventional default search list when the manifest does not set one.
func (m *Manifest) ResolveEntrypoint() []string {
	if m.Entrypoints.Events != "" {
		return []string{m.Entrypoints.Events}
	}
	return []string{"events.mjs", "events.js", "events.ts"}
}

// CompatibilityResult carries the evaluated compatibility outcome for one
// candidate against the host's core API version and the set of available
// Runtime Profile Adapters.
type CompatibilityResult struct {
	Compatible bool
	Reason     string
}

// CheckCompatibility evaluates a manifest's declared core API version range
// and profile requirements against what the host offers. hostProfiles maps
// profile name to the host's version for that profile.
func CheckCompatibility(m *Manifest, coreAPIVersion string, hostProfiles map[string]string) CompatibilityResult {
	if rng := m.Runtime.CoreAPIVersionRange; rng != "" {
		ok, err := versionSatisfies(coreAPIVersion, rng)
		if err != nil {
			return CompatibilityResult{Compatible: false, Reason: fmt.Sprintf("invalid coreApiVersionRange: %v", err)}
		}
		if !ok {
			return CompatibilityResult{Compatible: false, Reason: fmt.Sprintf("core API %s not in range %s", coreAPIVersion, rng)}
		}
	}
	for _, p := range m.Runtime.Profiles {
		hostVersion, known := hostProfiles[p.Name]
		if !known {
			return CompatibilityResult{Compatible: false, Reason: fmt.Sprintf("unknown runtime profile %q", p.Name)}
		}
		ok, err := versionSatisfies(hostVersion, p.VersionRange)
		if err != nil {
			return CompatibilityResult{Compatible: false, Reason: fmt.Sprintf("invalid versionRange for profile %q: %v", p.Name, err)}
		}
		if !ok {
			return CompatibilityResult{Compatible: false, Reason: fmt.Sprintf("profile %q version %s not in range %s", p.Name, hostVersion, p.VersionRange)}
		}
	}
	return CompatibilityResult{Compatible: true}
}

func versionSatisfies(version, rangeExpr string) (bool, error) {
	if rangeExpr == "" {
		return true, nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("parse version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(rangeExpr)
	if err != nil {
		return false, fmt.Errorf("parse range %q: %w", rangeExpr, err)
	}
	return c.Check(v), nil
}
