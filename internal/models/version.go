package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrCrossProject is returned when versions of different projects are compared.
var ErrCrossProject = errors.New("versions belong to different projects")

// ProjectVersion is one append point in a project's history. Versions of a
// project are totally ordered by (Major, Minor, Revision).
type ProjectVersion struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Revision  int    `json:"revision"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// VersionBump selects which component NextVersion increments.
type VersionBump string

const (
	BumpMajor    VersionBump = "major"
	BumpMinor    VersionBump = "minor"
	BumpRevision VersionBump = "revision"
)

// InitialVersion is the triple given to the first version of a project.
var InitialVersion = ProjectVersion{Major: 1, Minor: 1, Revision: 1}

func (v ProjectVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// compare orders two triples, ignoring project membership.
func (v ProjectVersion) compare(o ProjectVersion) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Revision, o.Revision)
	}
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// CompareVersions returns -1, 0 or 1 as a is before, equal to or after b.
// Versions with a known project id must belong to the same project.
func CompareVersions(a, b ProjectVersion) (int, error) {
	if a.ProjectID != "" && b.ProjectID != "" && a.ProjectID != b.ProjectID {
		return 0, errors.Wrapf(ErrCrossProject, "compare %s of %s with %s of %s",
			a, a.ProjectID, b, b.ProjectID)
	}
	return a.compare(b), nil
}

// IsLessThan reports whether v comes strictly before o. Both versions must
// belong to the same project; use CompareVersions when that is not known.
func (v ProjectVersion) IsLessThan(o ProjectVersion) bool {
	return v.compare(o) < 0
}

// IsLessThanOrEqualTo reports whether v comes before or is o.
func (v ProjectVersion) IsLessThanOrEqualTo(o ProjectVersion) bool {
	return v.compare(o) <= 0
}

// IsGreaterThan reports whether v comes strictly after o.
func (v ProjectVersion) IsGreaterThan(o ProjectVersion) bool {
	return v.compare(o) > 0
}

// SameTriple reports whether both versions carry the same triple.
func (v ProjectVersion) SameTriple(o ProjectVersion) bool {
	return v.compare(o) == 0
}

// Next returns the triple following v for the given bump. Lower components
// reset to zero.
func (v ProjectVersion) Next(bump VersionBump) (ProjectVersion, error) {
	next := ProjectVersion{ProjectID: v.ProjectID}
	switch bump {
	case BumpMajor:
		next.Major = v.Major + 1
	case BumpMinor:
		next.Major, next.Minor = v.Major, v.Minor+1
	case BumpRevision, "":
		next.Major, next.Minor, next.Revision = v.Major, v.Minor, v.Revision+1
	default:
		return ProjectVersion{}, errors.Errorf("unknown version bump %q", bump)
	}
	return next, nil
}

// ParseVersion parses "major.minor.revision". A leading "v" is accepted.
func ParseVersion(s string) (ProjectVersion, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 3 {
		return ProjectVersion{}, errors.Errorf("version %q: want major.minor.revision", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return ProjectVersion{}, errors.Errorf("version %q: invalid component %q", s, p)
		}
		nums[i] = n
	}
	return ProjectVersion{Major: nums[0], Minor: nums[1], Revision: nums[2]}, nil
}
