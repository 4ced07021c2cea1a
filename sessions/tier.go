package sessions

import "context"

// Tier is one persistence backend for the session record.
// Every method operates on the whole key set in a single atomic step so a
// tier never holds half a session.
type Tier interface {
	// Name reports which tier this is
	Name() TierName

	// Read returns every present key of the record, or an empty map when none is stored
	Read(ctx context.Context) (map[string]string, error)

	// Write replaces the record with values; keys of the key set missing from values are removed
	Write(ctx context.Context, values map[string]string) error

	// Clear removes every key of the record
	Clear(ctx context.Context) error

	// Watch calls notify whenever the record may have been changed by another
	// context. It returns once watching has started and stops when ctx is done.
	Watch(ctx context.Context, notify func()) error
}
