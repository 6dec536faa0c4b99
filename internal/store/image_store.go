package store

import (
	"sync/atomic"
	"time"

	"github.com/JakeFAU/satview/internal/imagery"
)

// Snapshot is an immutable image version. Callers must not modify Bytes.
type Snapshot struct {
	Bytes       []byte
	ContentType string
	FetchedAt   time.Time
	Digest      string
	Source      string
}

// Size returns the payload length in bytes.
func (s Snapshot) Size() int {
	return len(s.Bytes)
}

// ImageStore holds the current Snapshot behind an atomic pointer swap.
type ImageStore struct {
	current atomic.Pointer[Snapshot]
}

// NewImageStore returns an empty store.
func NewImageStore() *ImageStore {
	return &ImageStore{}
}

// Replace installs snap as the current version. The byte slice is copied so
// later mutations by the caller are not visible to readers.
func (s *ImageStore) Replace(snap Snapshot) {
	next := snap
	next.Bytes = append([]byte(nil), snap.Bytes...)
	if next.ContentType == "" {
		next.ContentType = imagery.ContentTypeJPEG
	}
	s.current.Store(&next)
}

// Read returns the current version, or false before the first Replace.
func (s *ImageStore) Read() (Snapshot, bool) {
	snap := s.current.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}
