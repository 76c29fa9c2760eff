package ports

import (
	"context"
	"time"

	"torrentstream/internal/domain"
)

// AssetRepository persists MovieAsset rows. Upsert is the single mutation
// path for pipeline writes — and the place eviction (invariant I6) is
// applied before the new state is stored, per the Design Notes' "formalize
// a single write" guidance. UpdateLastWatched is the one field the Range
// HTTP server is allowed to write directly.
type AssetRepository interface {
	Get(ctx context.Context, id domain.MovieID) (domain.MovieAsset, error)
	Upsert(ctx context.Context, asset domain.MovieAsset) error
	UpdateLastWatched(ctx context.Context, id domain.MovieID, at time.Time) error
}
