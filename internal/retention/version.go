// Package retention decides which historical versions of a path to keep.
//
// Versions of one path are evaluated together as a Group, newest first.
// The current live upload is never touched. Every other upload is deleted
// unless it is the oldest or newest version inside one of the policy's
// windows, and hide markers are dropped once no preserved upload remains
// for them to shadow.
package retention

import "github.com/verprune/verprune/internal/policy"

// Action is the kind of version record.
type Action int

const (
	// ActionUpload is a stored copy of the file's content.
	ActionUpload Action = iota
	// ActionHide is a delete marker hiding the uploads before it.
	ActionHide
)

func (a Action) String() string {
	switch a {
	case ActionUpload:
		return "upload"
	case ActionHide:
		return "hide"
	default:
		return "unknown"
	}
}

// Tag is the evaluation outcome for a version.
type Tag int

const (
	// TagPreserve keeps the version.
	TagPreserve Tag = iota
	// TagDelete removes the version.
	TagDelete
)

func (t Tag) String() string {
	if t == TagDelete {
		return "delete"
	}
	return "preserve"
}

// Reasons attached to versions outside any window rule.
const (
	ReasonCurrent       = "current version"
	ReasonHideNeeded    = "hide still needed"
	ReasonHideNotNeeded = "hide no longer needed"
)

// Version is one record in a path's history.
type Version struct {
	FileID    string
	Timestamp int64
	Action    Action
	Tag       Tag
	Reason    string
}

// Group is the full history of one path, newest first.
type Group struct {
	EncodedPath string
	Path        string
	Versions    []Version
	// Undeleted is set by Apply when the newest version is an upload.
	Undeleted bool
}

// OldestAge returns the age in seconds of the oldest version relative to now.
func (g *Group) OldestAge(now int64) int64 {
	if len(g.Versions) == 0 {
		return 0
	}
	age := now - g.Versions[len(g.Versions)-1].Timestamp
	if age < 0 {
		return 0
	}
	return age
}

// Deletions returns the versions tagged for deletion, oldest first. Deleting
// in this order never re-exposes a hidden file if a run stops midway.
func (g *Group) Deletions() []Version {
	var out []Version
	for i := len(g.Versions) - 1; i >= 0; i-- {
		if g.Versions[i].Tag == TagDelete {
			out = append(out, g.Versions[i])
		}
	}
	return out
}

// Counts returns the number of preserved and deleted versions.
func (g *Group) Counts() (preserved, deleted int) {
	for _, v := range g.Versions {
		if v.Tag == TagDelete {
			deleted++
		} else {
			preserved++
		}
	}
	return preserved, deleted
}

// Evaluate expands spec against the group's oldest version and applies it.
func Evaluate(g *Group, spec policy.Spec, now int64) {
	Apply(g, policy.Expand(spec, g.OldestAge(now), now), now)
}
