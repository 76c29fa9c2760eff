package ports

import "context"

// ExtractResult is the tagged outcome of one segment extraction attempt —
// "no parsing of free-form output" per the Design Notes: callers branch on
// Ok, never on stderr text.
type ExtractResult struct {
	Ok       bool
	ExitCode int
	Stderr   string
}

// Segmenter extracts a fixed-duration slice of srcPath into dstPath as a
// fragmented-MP4 segment (spec §4.2). When copyStreams is true the source
// is already browser-compatible and streams are copied verbatim; otherwise
// video is re-encoded to H.264 and audio to AAC.
type Segmenter interface {
	ExtractSegment(ctx context.Context, srcPath, dstPath string, startSec, durationSec float64, copyStreams bool) (ExtractResult, error)
}
