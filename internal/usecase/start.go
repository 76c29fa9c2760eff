package usecase

import (
	"context"
	"strings"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
)

// Pipeline is the narrow slice of pipeline.Pool the Start usecase needs —
// kept as an interface here, not a direct dependency on the pipeline
// package, matching the teacher's "usecase depends on ports, not
// concrete engines" shape.
type Pipeline interface {
	Start(ctx context.Context, movieID domain.MovieID, magnetURI string) bool
}

// Start implements "POST /video/{id}/start" (spec §4.5, §6): launch the
// asset's pipeline worker, which upserts the asset record, unless the asset
// is already in an active status.
type Start struct {
	Repo     ports.AssetRepository
	Pipeline Pipeline
}

func (uc Start) Execute(ctx context.Context, movieID domain.MovieID, magnetURI string) (domain.MovieAsset, error) {
	if strings.TrimSpace(magnetURI) == "" {
		return domain.MovieAsset{}, domain.ErrInvalidMagnet
	}

	existing, err := uc.Repo.Get(ctx, movieID)
	if err == nil && isActive(existing.Status) {
		return existing, nil
	}

	uc.Pipeline.Start(ctx, movieID, magnetURI)

	return domain.MovieAsset{
		MovieID:   movieID,
		MagnetURI: magnetURI,
		Status:    domain.StatusPending,
	}, nil
}

// isActive reports whether asset is in a status spec §6 says should not be
// respawned: DOWNLOADING, DL_AND_CONVERT, PLAYABLE, or READY.
func isActive(status domain.MovieStatus) bool {
	switch status {
	case domain.StatusDownloading, domain.StatusDLAndConvert, domain.StatusPlayable, domain.StatusReady:
		return true
	default:
		return false
	}
}
