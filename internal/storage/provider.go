// Package storage holds what the blob store backends share. The backends
// keep an operational copy of the latest image; readers are always served
// from memory, never from these stores.
package storage

import "errors"

// ErrNotFound is returned by GetObject when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// Backend names accepted by the storage.backend setting.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)
