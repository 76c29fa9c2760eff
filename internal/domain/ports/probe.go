package ports

import (
	"context"

	"torrentstream/internal/domain"
)

// MediaProbe wraps an external media-inspection tool (spec §4.2).
type MediaProbe interface {
	Probe(ctx context.Context, path string) (domain.MediaInfo, error)
}

// IsBrowserCompatible reports whether info describes a container the
// Range HTTP server can serve as-is: MP4 container, H.264 video, AAC audio.
func IsBrowserCompatible(info domain.MediaInfo) bool {
	return info.Container == "mp4" &&
		info.VideoCodec() == "h264" &&
		info.AudioCodec() == "aac"
}
