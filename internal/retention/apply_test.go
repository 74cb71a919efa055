package retention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verprune/verprune/internal/policy"
)

const (
	now  = int64(1_700_000_000)
	hour = int64(3600)
	day  = int64(policy.SecondsPerDay)
)

var oneWeek = policy.MustParseSpec("1,2,3,4,5,6,7")

func upload(id string, ts int64) Version { return Version{FileID: id, Timestamp: ts, Action: ActionUpload} }
func hide(id string, ts int64) Version   { return Version{FileID: id, Timestamp: ts, Action: ActionHide} }

func tags(g *Group) map[string]Tag {
	out := make(map[string]Tag, len(g.Versions))
	for _, v := range g.Versions {
		out[v.FileID] = v.Tag
	}
	return out
}

func reasons(g *Group) map[string]string {
	out := make(map[string]string, len(g.Versions))
	for _, v := range g.Versions {
		out[v.FileID] = v.Reason
	}
	return out
}

func TestApplyNeverDeletesCurrentUpload(t *testing.T) {
	g := &Group{Path: "a", Versions: []Version{
		upload("cur", now-400*day),
		upload("old", now-500*day),
	}}

	Evaluate(g, oneWeek, now)

	assert.True(t, g.Undeleted)
	assert.Equal(t, TagPreserve, g.Versions[0].Tag)
	assert.Equal(t, ReasonCurrent, g.Versions[0].Reason)
	assert.Equal(t, TagDelete, g.Versions[1].Tag)
}

func TestApplySingleUploadIsNoop(t *testing.T) {
	g := &Group{Path: "a", Versions: []Version{upload("cur", now-10*day)}}

	Evaluate(g, oneWeek, now)

	assert.Empty(t, g.Deletions())
	_, deleted := g.Counts()
	assert.Zero(t, deleted)
}

func TestApplyEmptyGroup(t *testing.T) {
	g := &Group{Path: "a"}
	Evaluate(g, oneWeek, now)
	assert.Empty(t, g.Deletions())
}

func TestApplyOneWeekOldHistory(t *testing.T) {
	// upload, hide, upload, hide with the older pair beyond seven days.
	g := &Group{Path: "docs/report", Versions: []Version{
		upload("u100", now),
		hide("h90", now-8*day),
		upload("u50", now-9*day),
		hide("h10", now-12*day),
	}}

	Evaluate(g, oneWeek, now)

	assert.Equal(t, map[string]Tag{
		"u100": TagPreserve,
		"h90":  TagDelete,
		"u50":  TagDelete,
		"h10":  TagDelete,
	}, tags(g))
	r := reasons(g)
	assert.Equal(t, "", r["u50"])
	assert.Equal(t, ReasonHideNotNeeded, r["h10"])
	assert.Equal(t, ReasonHideNotNeeded, r["h90"])
}

func TestApplyKeepsOldestAndNewestInWindow(t *testing.T) {
	g := &Group{Path: "a", Versions: []Version{
		hide("h", now-1*hour),
		upload("u2", now-2*hour),
		upload("u5", now-5*hour),
		upload("u10", now-10*hour),
	}}

	Evaluate(g, policy.MustParseSpec("1"), now)

	assert.False(t, g.Undeleted)
	assert.Equal(t, map[string]Tag{
		"h":   TagPreserve,
		"u2":  TagPreserve,
		"u5":  TagDelete,
		"u10": TagPreserve,
	}, tags(g))
	r := reasons(g)
	assert.Equal(t, "1 newest", r["u2"])
	assert.Equal(t, "1 oldest", r["u10"])
	assert.Equal(t, ReasonHideNeeded, r["h"])
}

func TestApplyWindowsAreDisjoint(t *testing.T) {
	g := &Group{Path: "a", Versions: []Version{
		upload("cur", now),
		upload("d1a", now-2*hour),
		upload("d1b", now-3*hour),
		upload("d1c", now-4*hour),
		upload("d2a", now-30*hour),
		upload("d2b", now-40*hour),
		upload("d3", now-50*hour),
	}}

	Evaluate(g, policy.MustParseSpec("1,2,3"), now)

	assert.Equal(t, map[string]Tag{
		"cur": TagPreserve,
		"d1a": TagPreserve,
		"d1b": TagDelete,
		"d1c": TagPreserve,
		"d2a": TagPreserve,
		"d2b": TagPreserve,
		"d3":  TagPreserve,
	}, tags(g))
	assert.Equal(t, "3 newest", reasons(g)["d3"])
}

func TestApplyMustExistWindowDropsDeletedFiles(t *testing.T) {
	spec := policy.MustParseSpec("1,?")

	gone := &Group{Path: "a", Versions: []Version{
		hide("h", now-1*hour),
		upload("u3d", now-3*day),
		upload("u10d", now-10*day),
	}}
	Evaluate(gone, spec, now)

	assert.Equal(t, map[string]Tag{
		"h":    TagDelete,
		"u3d":  TagDelete,
		"u10d": TagDelete,
	}, tags(gone))
	assert.Equal(t, "1x4? and file is gone", reasons(gone)["u3d"])

	live := &Group{Path: "a", Versions: []Version{
		upload("cur", now-1*hour),
		upload("u3d", now-3*day),
		upload("u10d", now-10*day),
	}}
	Evaluate(live, spec, now)

	assert.Equal(t, TagPreserve, tags(live)["u3d"])
	assert.Equal(t, "1x4? newest", reasons(live)["u3d"])
	// 10 days is older than the last generated window (8 days)
	assert.Equal(t, TagDelete, tags(live)["u10d"])
}

func TestApplyConsecutiveHides(t *testing.T) {
	g := &Group{Path: "a", Versions: []Version{
		upload("cur", now),
		hide("h1", now-1*hour),
		hide("h2", now-2*hour),
		upload("u3", now-3*hour),
	}}

	Evaluate(g, policy.MustParseSpec("1"), now)

	t2 := tags(g)
	assert.Equal(t, TagPreserve, t2["u3"])
	assert.Equal(t, TagPreserve, t2["h2"], "first hide after a preserved upload is kept")
	assert.Equal(t, TagDelete, t2["h1"], "later hide protects nothing")
}

func TestApplyIsIdempotent(t *testing.T) {
	g := &Group{Path: "a", Versions: []Version{
		upload("cur", now),
		upload("a", now-2*hour),
		upload("b", now-5*hour),
		upload("c", now-20*hour),
		hide("h", now-26*hour),
		upload("d", now-27*hour),
		upload("e", now-40*hour),
		upload("f", now-3*day-hour),
		upload("g", now-6*day),
		upload("old", now-30*day),
	}}
	Evaluate(g, oneWeek, now)

	var remaining []Version
	preserved := map[string]bool{}
	for _, v := range g.Versions {
		if v.Tag == TagPreserve {
			remaining = append(remaining, Version{FileID: v.FileID, Timestamp: v.Timestamp, Action: v.Action})
			preserved[v.FileID] = true
		}
	}
	require.NotEmpty(t, g.Deletions())

	again := &Group{Path: "a", Versions: remaining}
	Evaluate(again, oneWeek, now)

	assert.Empty(t, again.Deletions())
	for _, v := range again.Versions {
		assert.True(t, preserved[v.FileID], "%s was not preserved the first time", v.FileID)
	}
}

func TestDeletionsAreOldestFirst(t *testing.T) {
	g := &Group{Path: "a", Versions: []Version{
		hide("h", now),
		upload("u1", now-20*day),
		upload("u2", now-30*day),
	}}
	Evaluate(g, oneWeek, now)

	dels := g.Deletions()
	require.Len(t, dels, 3)
	assert.Equal(t, []string{"u2", "u1", "h"}, []string{dels[0].FileID, dels[1].FileID, dels[2].FileID})
}

func TestOldestAge(t *testing.T) {
	g := &Group{Versions: []Version{upload("a", now), upload("b", now-5*day)}}
	assert.Equal(t, 5*day, g.OldestAge(now))

	future := &Group{Versions: []Version{upload("a", now+10)}}
	assert.Zero(t, future.OldestAge(now))
}
