// Package pathcodec translates object keys between their stored (encrypted)
// form and the plain paths retention rules are written against.
//
// Translators work in batches: callers enqueue every key they are about to
// need, flush once the batch is full or the input ends, then resolve keys
// from the accumulated mappings.
package pathcodec

import (
	"context"
	"errors"
)

// ErrUntranslated is returned by Resolve when a path segment has no mapping.
var ErrUntranslated = errors.New("pathcodec: segment not translated")

// Translator maps encoded keys to plain paths.
type Translator interface {
	// Enqueue schedules the segments of encoded for translation and reports
	// whether the batch is full.
	Enqueue(encoded string) bool

	// Flush translates every queued segment.
	Flush(ctx context.Context) error

	// Resolve returns the plain path of a key whose segments were flushed.
	Resolve(encoded string) (string, error)

	// Full reports whether the batch should be flushed before enqueuing more.
	Full() bool
}

// Identity is the translator for unencrypted buckets.
type Identity struct{}

func (Identity) Enqueue(string) bool { return false }
func (Identity) Flush(context.Context) error { return nil }
func (Identity) Resolve(encoded string) (string, error) { return encoded, nil }
func (Identity) Full() bool { return false }

var _ Translator = Identity{}
