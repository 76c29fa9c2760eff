package usecase

import (
	"context"
	"math"
	"path/filepath"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
)

// Status implements "GET /video/{id}/status" (spec §6): the current asset
// record plus how many segments are actually present on disk.
type Status struct {
	Repo               ports.AssetRepository
	Store              ports.SegmentStore
	SegmentDurationSec float64
}

func (uc Status) Execute(ctx context.Context, movieID domain.MovieID) (domain.AssetSnapshot, error) {
	asset, err := uc.Repo.Get(ctx, movieID)
	if err != nil {
		return domain.AssetSnapshot{}, err
	}

	available, err := uc.Store.ListSegments(movieID, baseName(asset.OriginalRelPath))
	if err != nil {
		available = 0
	}

	return domain.AssetSnapshot{
		MovieID:            asset.MovieID,
		Status:             asset.Status,
		Progress:           asset.Progress,
		OriginalRelPath:    asset.OriginalRelPath,
		StreamableRelPath:  asset.StreamableRelPath,
		TotalDuration:      asset.TotalDuration,
		SegmentDurationSec: uc.SegmentDurationSec,
		AvailableSegments:  available,
	}, nil
}

// baseName derives the segment-filename prefix from the asset's original
// relative path (spec §4.1's "<baseName>_segment_<NNN>.mp4"), or "" if the
// original hasn't been recorded yet.
func baseName(originalRelPath string) string {
	if originalRelPath == "" {
		return ""
	}
	return filepath.Base(originalRelPath)
}

// TotalSegments returns the expected segment count for a known duration,
// ceil(duration/segmentDuration), or 0 if duration is not yet known.
func TotalSegments(totalDuration, segmentDurationSec float64) int {
	if totalDuration <= 0 || segmentDurationSec <= 0 {
		return 0
	}
	return int(math.Ceil(totalDuration / segmentDurationSec))
}
