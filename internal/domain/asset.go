package domain

import "time"

// MovieID is the caller's external catalog identifier. The streaming core
// treats it as opaque — whether it is a tmdb id, an imdb id, or something
// else is the caller's business, not this package's (see spec Open Questions).
type MovieID string

// HandleID is a stable fingerprint of a magnet URI, used as the torrent
// session manager's handle key so resubmitting the same magnet is
// idempotent (invariant I1).
type HandleID string

// MovieAsset is the single persisted record per movie (spec §3). The
// pipeline worker is its only writer until status reaches READY; the Range
// HTTP server only ever mutates LastWatchedAt.
type MovieAsset struct {
	MovieID           MovieID     `bson:"_id" json:"movieId"`
	MagnetURI         string      `bson:"magnetUri" json:"magnetUri"`
	Status            MovieStatus `bson:"status" json:"status"`
	Progress          float64     `bson:"progress" json:"progress"`
	OriginalRelPath   string      `bson:"originalRelPath,omitempty" json:"originalRelPath,omitempty"`
	StreamableRelPath string      `bson:"streamableRelPath,omitempty" json:"streamableRelPath,omitempty"`
	TotalDuration     float64     `bson:"totalDuration,omitempty" json:"totalDuration,omitempty"`
	LastWatchedAt     *time.Time  `bson:"lastWatchedAt,omitempty" json:"lastWatchedAt,omitempty"`
	CreatedAt         time.Time   `bson:"createdAt" json:"createdAt"`
}

// AssetSnapshot is the read-only view the pipeline worker publishes after
// every state change. The HTTP layer reads a snapshot atomically instead of
// touching MovieAsset fields one at a time, per the Design Notes'
// "formalize a small read-only asset snapshot" guidance.
type AssetSnapshot struct {
	MovieID           MovieID     `json:"movieId"`
	Status            MovieStatus `json:"status"`
	Progress          float64     `json:"progress"`
	OriginalRelPath   string      `json:"originalRelPath,omitempty"`
	StreamableRelPath string      `json:"streamableRelPath,omitempty"`
	TotalDuration     float64     `json:"totalDuration,omitempty"`
	SegmentDurationSec float64    `json:"segmentDurationSec,omitempty"`
	AvailableSegments int         `json:"availableSegments"`
	FailedSegments    []int       `json:"failedSegments,omitempty"`
}

// Ready reports whether the asset has reached a terminal success status.
func (s AssetSnapshot) Ready() bool {
	return s.Status == StatusReady
}

// Downloading reports whether the asset is still being acquired or
// transcoded.
func (s AssetSnapshot) Downloading() bool {
	return s.Status == StatusDownloading || s.Status == StatusDLAndConvert
}
