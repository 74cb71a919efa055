package policy

import "fmt"

// SecondsPerDay is the length of one retention day.
const SecondsPerDay = 86400

// Window is one expanded retention bracket. Versions with timestamps in
// (Cutoff, previous window's Cutoff] belong to it.
type Window struct {
	Reason    string
	Days      int
	Cutoff    int64
	MustExist bool
}

// Expand turns a spec into explicit windows ordered from newest cutoff to
// oldest. oldestAge is the age in seconds of the oldest version being
// evaluated and bounds a trailing repeat marker. now is a unix timestamp in
// seconds. The result depends only on the arguments.
func Expand(spec Spec, oldestAge int64, now int64) []Window {
	windows := make([]Window, 0, len(spec)*2)
	before := 0

	for i, e := range spec {
		if !e.IsRepeat() {
			windows = append(windows, Window{
				Reason: fmt.Sprintf("%d", e.Days),
				Days:   e.Days,
				Cutoff: now - int64(e.Days)*SecondsPerDay,
			})
			before = e.Days
			continue
		}
		if before == 0 {
			continue
		}

		after, literal := nextLiteral(spec[i+1:])
		if !literal {
			after = int(oldestAge/SecondsPerDay) + 1 + before
		}

		last := before
		for m := 2; before*m <= after; m *= 2 {
			days := before * m
			if literal && days == after {
				break
			}
			windows = append(windows, Window{
				Reason:    fmt.Sprintf("%dx%d%c", before, m, e.Marker),
				Days:      days,
				Cutoff:    now - int64(days)*SecondsPerDay,
				MustExist: e.Marker == MarkerRepeatIfExists,
			})
			last = days
		}
		before = last
	}
	return windows
}

func nextLiteral(rest Spec) (int, bool) {
	for _, e := range rest {
		if !e.IsRepeat() {
			return e.Days, true
		}
	}
	return 0, false
}
