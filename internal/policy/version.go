package policy

import (
	"fmt"

	version "github.com/hashicorp/go-version"
)

// Bump classifies an accepted release step.
type Bump string

const (
	BumpPatch Bump = "patch"
	BumpMinor Bump = "minor"
)

// InvalidVersionBump reports a proposed release version that is not exactly
// the next patch or next minor version after the latest published one.
type InvalidVersionBump struct {
	Latest   string
	Proposed string
}

func (e *InvalidVersionBump) Error() string {
	return fmt.Sprintf("proposed version %s is not a valid bump from %s (expected next patch or next minor)",
		e.Proposed, e.Latest)
}

// IncompatibleApiBump reports an API version change that the release version
// step does not allow.
type IncompatibleApiBump struct {
	From   int
	To     int
	Reason string
}

func (e *IncompatibleApiBump) Error() string {
	return fmt.Sprintf("api version %d -> %d: %s", e.From, e.To, e.Reason)
}

// ValidateVersionBump checks that proposed is exactly the next patch
// (x.y.z -> x.y.z+1) or next minor (x.y.z -> x.y+1.0) after latest.
// Anything else, including equal or lower versions, is rejected with
// *InvalidVersionBump.
func ValidateVersionBump(latest, proposed string) (Bump, error) {
	latestV, err := version.NewVersion(latest)
	if err != nil {
		return "", fmt.Errorf("parse latest version %q: %w", latest, err)
	}
	proposedV, err := version.NewVersion(proposed)
	if err != nil {
		return "", fmt.Errorf("parse proposed version %q: %w", proposed, err)
	}

	ls := latestV.Segments()
	ps := proposedV.Segments()

	switch {
	case ps[0] == ls[0] && ps[1] == ls[1] && ps[2] == ls[2]+1:
		return BumpPatch, nil
	case ps[0] == ls[0] && ps[1] == ls[1]+1 && ps[2] == 0:
		return BumpMinor, nil
	default:
		return "", &InvalidVersionBump{Latest: latestV.String(), Proposed: proposedV.String()}
	}
}

// ValidateAPIVersion enforces the API compatibility policy: the API version
// marker must never decrease, and an increase must ride on a minor (not
// patch-only) release bump.
func ValidateAPIVersion(latestAPI, proposedAPI int, bump Bump) error {
	switch {
	case proposedAPI < latestAPI:
		return &IncompatibleApiBump{
			From:   latestAPI,
			To:     proposedAPI,
			Reason: "api version must not decrease",
		}
	case proposedAPI > latestAPI && bump == BumpPatch:
		return &IncompatibleApiBump{
			From:   latestAPI,
			To:     proposedAPI,
			Reason: "api version increase requires at least a minor release bump",
		}
	}
	return nil
}

// ReleasePolicy is the policy block a pipeline declaration may carry. When
// present, a trigger must supply the proposed version (and API version, if
// the marker is tracked) and validation runs before any stage starts.
type ReleasePolicy struct {
	LatestVersion string `yaml:"latest_version" json:"latest_version"`
	LatestAPI     int    `yaml:"latest_api" json:"latest_api"`
	TrackAPI      bool   `yaml:"track_api" json:"track_api"`
}

// Validate applies the full release policy to a proposed release.
func (p *ReleasePolicy) Validate(proposedVersion string, proposedAPI int) error {
	bump, err := ValidateVersionBump(p.LatestVersion, proposedVersion)
	if err != nil {
		return err
	}
	if p.TrackAPI {
		if err := ValidateAPIVersion(p.LatestAPI, proposedAPI, bump); err != nil {
			return err
		}
	}
	return nil
}
