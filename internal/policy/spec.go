package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidSpec is returned for malformed retention specs.
var ErrInvalidSpec = errors.New("invalid retention spec")

// Repeat markers.
const (
	// MarkerRepeat repeats the previous window and drops versions of deleted files.
	MarkerRepeat byte = '*'
	// MarkerRepeatIfExists repeats the previous window only while the file exists.
	MarkerRepeatIfExists byte = '?'
)

// Entry is one element of a retention spec: either a literal day count
// (Marker == 0) or a repeat marker.
type Entry struct {
	Days   int
	Marker byte
}

// IsRepeat reports whether the entry is a repeat marker.
func (e Entry) IsRepeat() bool {
	return e.Marker != 0
}

func (e Entry) String() string {
	if e.IsRepeat() {
		return string(e.Marker)
	}
	return strconv.Itoa(e.Days)
}

// ParseEntry parses "7", "*" or "?".
func ParseEntry(s string) (Entry, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "*":
		return Entry{Marker: MarkerRepeat}, nil
	case "?":
		return Entry{Marker: MarkerRepeatIfExists}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: entry %q is neither a day count nor a repeat marker", ErrInvalidSpec, s)
	}
	return Entry{Days: n}, nil
}

// UnmarshalYAML accepts both integer and string scalars.
func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected scalar entry", ErrInvalidSpec, node.Line)
	}
	parsed, err := ParseEntry(node.Value)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// MarshalYAML writes literals as integers and markers as strings.
func (e Entry) MarshalYAML() (any, error) {
	if e.IsRepeat() {
		return string(e.Marker), nil
	}
	return e.Days, nil
}

// Spec is an ordered retention spec.
type Spec []Entry

// ParseSpec parses the compact form "1,2,3,*,30,?".
func ParseSpec(s string) (Spec, error) {
	var spec Spec
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		e, err := ParseEntry(part)
		if err != nil {
			return nil, err
		}
		spec = append(spec, e)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// MustParseSpec is ParseSpec for constant specs. It panics on error.
func MustParseSpec(s string) Spec {
	spec, err := ParseSpec(s)
	if err != nil {
		panic(err)
	}
	return spec
}

// Validate checks that s can be expanded: it must start with a
// literal, literals must be positive and strictly increasing, and markers
// must be known.
func (s Spec) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidSpec)
	}
	last := 0
	for i, e := range s {
		if e.IsRepeat() {
			if e.Marker != MarkerRepeat && e.Marker != MarkerRepeatIfExists {
				return fmt.Errorf("%w: unknown marker %q at position %d", ErrInvalidSpec, e.Marker, i)
			}
			if i == 0 {
				return fmt.Errorf("%w: cannot start with repeat marker %q", ErrInvalidSpec, e.Marker)
			}
			continue
		}
		if e.Days <= 0 {
			return fmt.Errorf("%w: day count %d at position %d must be positive", ErrInvalidSpec, e.Days, i)
		}
		if e.Days <= last {
			return fmt.Errorf("%w: day count %d at position %d is not greater than %d", ErrInvalidSpec, e.Days, i, last)
		}
		last = e.Days
	}
	return nil
}

// UnmarshalYAML accepts a sequence ([1, 2, "*"]) or the compact string form.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseSpec(node.Value)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case yaml.SequenceNode:
		var entries []Entry
		if err := node.Decode(&entries); err != nil {
			return err
		}
		*s = entries
		return nil
	default:
		return fmt.Errorf("%w: line %d: expected list or string", ErrInvalidSpec, node.Line)
	}
}

func (s Spec) String() string {
	parts := make([]string, len(s))
	for i, e := range s {
		parts[i] = e.String()
	}
	return strings.Join(parts, ",")
}
