package shared

import "github.com/cockroachdb/errors"

// Error taxonomy of the engine. Anything else bubbling out of an operation
// is an I/O failure from the underlying device, wrapped with its context.
var (
	// ErrNotFound reports that no live index entry exists for a name.
	ErrNotFound = errors.New("object not found")

	// ErrAlreadyExists reports a write against a name that is already
	// indexed.
	ErrAlreadyExists = errors.New("object already exists")

	// ErrCorruption reports an on-disk record that fails to decode: a
	// truncated or malformed chunk record, track header or index record,
	// or a read chain that reaches a freed chunk. Damaged chunks met while
	// reading or deleting are reported with this sentinel, not as plain
	// I/O failures.
	ErrCorruption = errors.New("corrupted record")
)
