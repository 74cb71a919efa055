package retention

import "github.com/verprune/verprune/internal/policy"

// Apply tags every version of g as preserve or delete according to the
// expanded windows. Versions must be ordered newest first and now must be
// the timestamp the windows were expanded against.
func Apply(g *Group, windows []policy.Window, now int64) {
	if len(g.Versions) == 0 {
		return
	}

	candidates := g.Versions
	g.Undeleted = false
	if candidates[0].Action == ActionUpload {
		g.Undeleted = true
		candidates[0].Tag = TagPreserve
		candidates[0].Reason = ReasonCurrent
		candidates = candidates[1:]
	}

	for i := range candidates {
		if candidates[i].Action == ActionHide {
			candidates[i].Tag = TagPreserve
			candidates[i].Reason = ReasonHideNeeded
		} else {
			candidates[i].Tag = TagDelete
			candidates[i].Reason = ""
		}
	}

	applyWindows(candidates, windows, g.Undeleted, now)
	collapseHides(candidates)
}

// applyWindows walks windows from the newest cutoff to the oldest. At most
// the newest and oldest upload inside each window are preserved for it.
func applyWindows(versions []Version, windows []policy.Window, undeleted bool, now int64) {
	prevCutoff := now

	inWindow := make([]int, 0, len(versions))
	for _, w := range windows {
		inWindow = inWindow[:0]
		for i, v := range versions {
			if v.Action == ActionUpload && v.Timestamp > w.Cutoff && v.Timestamp <= prevCutoff {
				inWindow = append(inWindow, i)
			}
		}
		prevCutoff = w.Cutoff

		if len(inWindow) == 0 {
			continue
		}

		if w.MustExist && !undeleted {
			for _, i := range inWindow {
				versions[i].Tag = TagDelete
				versions[i].Reason = w.Reason + " and file is gone"
			}
			continue
		}

		// newest first, so the last index is the oldest version
		oldest := inWindow[len(inWindow)-1]
		newest := inWindow[0]
		versions[oldest].Tag = TagPreserve
		versions[oldest].Reason = w.Reason + " oldest"
		versions[newest].Tag = TagPreserve
		versions[newest].Reason = w.Reason + " newest"
	}
}

// collapseHides scans oldest to newest and deletes hide markers that no
// longer shadow a preserved upload.
func collapseHides(versions []Version) {
	haveUpload := false
	for i := len(versions) - 1; i >= 0; i-- {
		v := &versions[i]
		if v.Action == ActionUpload {
			haveUpload = v.Tag == TagPreserve
			continue
		}
		if haveUpload {
			haveUpload = false
			continue
		}
		v.Tag = TagDelete
		v.Reason = ReasonHideNotNeeded
	}
}
