package ports

import (
	"time"

	"torrentstream/internal/domain"
)

// SegmentStore is the content-addressed on-disk layout described in
// spec §4.1: <downloads>/movies/<movieId>/{original file, <baseName>_segment_NNN.mp4}.
type SegmentStore interface {
	// Reserve ensures the movie's save directory exists and returns its
	// absolute path.
	Reserve(id domain.MovieID) (string, error)
	// SegmentPath returns the absolute path segment N of baseName would
	// occupy, without creating it.
	SegmentPath(id domain.MovieID, baseName string, index int) string
	// ListSegments returns the dense high-water-mark segment count for
	// baseName: the largest N such that 0..N-1 all exist (invariant I3).
	ListSegments(id domain.MovieID, baseName string) (int, error)
	// StatSegments returns size-annotated entries for every dense segment.
	StatSegments(id domain.MovieID, baseName string) ([]domain.Segment, error)
	// EvictIfStale removes the asset's on-disk files (invariant I6); the
	// caller is responsible for resetting the asset's persisted metadata.
	EvictIfStale(id domain.MovieID, lastWatchedAt *time.Time, now time.Time, threshold time.Duration) (evicted bool, err error)
}
