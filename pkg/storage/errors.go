package storage

import "errors"

// ErrUnsupported is returned by an optional Adapter method an adapter
// chooses not to implement. The caller (PersistenceCoordinator) treats it
// as a warn-once-and-degrade signal, never as a fatal StorageError.
var ErrUnsupported = errors.New("storage: method not supported by this adapter")
