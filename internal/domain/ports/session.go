package ports

import (
	"context"
	"sync"

	"torrentstream/internal/domain"
)

// Handle is an admitted torrent: a stable reference the pipeline polls
// while the swarm client acquires pieces. It wraps the swarm library's own
// handle so the pipeline never imports the swarm package directly.
type Handle interface {
	ID() domain.HandleID
	// HasMetadata reports whether the torrent's file list is known yet.
	HasMetadata() bool
	// Files lists the torrent's files once metadata has arrived.
	Files() []domain.FileRef
	// SelectFile marks file as the streaming target, enables sequential
	// download, and raises every piece covering it to high priority.
	SelectFile(file domain.FileRef) error
	// Progress returns downloaded-bytes / total-bytes * 100 for the
	// selected file, monotonic within a download phase (invariant I4).
	Progress() float64
	// IsSeeding reports whether the torrent has fully downloaded and
	// moved into seed mode.
	IsSeeding() bool
	// ActiveTimeSeconds returns seconds since the handle started actively
	// transferring, used by the reaper's seed-time threshold.
	ActiveTimeSeconds() float64
}

// SessionManager is the process-wide torrent session singleton (spec §4.3).
// admit is idempotent: re-submitting the same magnet returns the existing
// handle rather than creating a second swarm entry (invariant I1, P6).
type SessionManager interface {
	Admit(ctx context.Context, magnetURI, savePath string) (domain.HandleID, error)
	Handle(id domain.HandleID) (Handle, bool)
	Lock(id domain.HandleID) *sync.Mutex
	Remove(id domain.HandleID) error
	Close() error
}
