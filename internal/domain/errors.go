package domain

import "errors"

// Sealed error values. The HTTP layer maps these to status codes in
// server_utils.go; the pipeline never lets an error escape without first
// resolving it into one of these or an asset-status write.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidMagnet       = errors.New("magnet link is required")
	ErrInvalidSegment      = errors.New("invalid segment index")
	ErrNotReady            = errors.New("movie is not ready for streaming")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrSwarm               = errors.New("swarm error")
	ErrUnsupported         = errors.New("unsupported operation")
)
