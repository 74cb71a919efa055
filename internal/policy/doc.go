// Package policy turns compact retention specs into explicit retention
// windows and maps object paths to named policies.
//
// A spec is an ordered list of day counts with optional repeat markers:
//
//	[1, 2, 3, 4, 5, 6, 7, "*", 30, "*", 365, "?"]
//
// A literal n keeps the oldest and newest version younger than n days (and
// older than the previous window). A "*" repeats the previous day count with
// doubling multipliers up to the next literal, or up to the age of the oldest
// version when no literal follows. A "?" repeats the same way but its windows
// only preserve versions while the file still exists.
package policy
