package usecase

import (
	"context"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
)

// SegmentsResult is the payload for "GET /video/{id}/segments" (spec §6).
type SegmentsResult struct {
	Segments           []domain.Segment
	SegmentDurationSec float64
	TotalSegments      int
	TotalDuration      float64
}

// ListSegments reports every segment currently materialized on disk for an
// asset, alongside the configured segment duration, the asset's total
// duration and the segment count that duration implies.
type ListSegments struct {
	Repo               ports.AssetRepository
	Store              ports.SegmentStore
	SegmentDurationSec float64
}

func (uc ListSegments) Execute(ctx context.Context, movieID domain.MovieID) (SegmentsResult, error) {
	asset, err := uc.Repo.Get(ctx, movieID)
	if err != nil {
		return SegmentsResult{}, err
	}

	segments, err := uc.Store.StatSegments(movieID, baseName(asset.OriginalRelPath))
	if err != nil {
		return SegmentsResult{}, err
	}

	return SegmentsResult{
		Segments:           segments,
		SegmentDurationSec: uc.SegmentDurationSec,
		TotalSegments:      TotalSegments(asset.TotalDuration, uc.SegmentDurationSec),
		TotalDuration:      asset.TotalDuration,
	}, nil
}
