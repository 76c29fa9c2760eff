package usecase

import (
	"context"
	"time"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
)

// StreamResult is the resolved on-disk location of one segment, ready for
// the Range HTTP server to serve (spec §4.5, §6).
type StreamResult struct {
	Path  string
	Asset domain.MovieAsset
}

// Stream implements "GET /video/{id}/stream?segment=N". It enforces
// invariant I2 (only PLAYABLE/READY assets stream) and that the requested
// segment has actually been materialized, and records LastWatchedAt on
// success — the one field the Range HTTP server is allowed to write
// directly (spec §3's "Persisted state").
type Stream struct {
	Repo  ports.AssetRepository
	Store ports.SegmentStore
	Now   func() time.Time
}

func (uc Stream) Execute(ctx context.Context, movieID domain.MovieID, segmentIndex int) (StreamResult, error) {
	if segmentIndex < 0 {
		return StreamResult{}, domain.ErrInvalidSegment
	}

	asset, err := uc.Repo.Get(ctx, movieID)
	if err != nil {
		return StreamResult{}, err
	}
	if !asset.Status.IsStreamable() {
		return StreamResult{}, domain.ErrNotReady
	}

	base := baseName(asset.OriginalRelPath)
	available, err := uc.Store.ListSegments(movieID, base)
	if err != nil {
		return StreamResult{}, err
	}
	if segmentIndex >= available {
		return StreamResult{}, domain.ErrNotFound
	}

	path := uc.Store.SegmentPath(movieID, base, segmentIndex)

	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	_ = uc.Repo.UpdateLastWatched(ctx, movieID, now())

	return StreamResult{Path: path, Asset: asset}, nil
}
