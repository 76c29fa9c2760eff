package domain

import "errors"

// MovieStatus is the persisted lifecycle state of a MovieAsset. It is a
// sealed variant: the only legal transitions are the ones enumerated in
// validTransitions below, applied exclusively by the pipeline worker.
type MovieStatus string

const (
	StatusPending       MovieStatus = "PENDING"
	StatusDownloading   MovieStatus = "DOWNLOADING"
	StatusDLAndConvert  MovieStatus = "DL_AND_CONVERT"
	StatusPlayable      MovieStatus = "PLAYABLE"
	StatusReady         MovieStatus = "READY"
	StatusError         MovieStatus = "ERROR"
	StatusNotFound      MovieStatus = "NOT_FOUND" // wire-only: asset does not exist
)

var ErrInvalidTransition = errors.New("invalid status transition")

var validTransitions = map[MovieStatus][]MovieStatus{
	StatusPending:      {StatusDownloading, StatusError},
	StatusDownloading:  {StatusDLAndConvert, StatusError, StatusPending},
	StatusDLAndConvert: {StatusPlayable, StatusError},
	StatusPlayable:     {StatusReady, StatusError},
	StatusReady:        {StatusPending}, // eviction reverts to PENDING
	StatusError:        {StatusPending, StatusDownloading},
}

// CanTransition reports whether moving an asset from one status to another
// is a legal step of the state machine in spec §4.4.
func CanTransition(from, to MovieStatus) bool {
	if from == to {
		return true
	}
	for _, candidate := range validTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsStreamable reports whether the wire contract allows GET .../stream
// requests against an asset in this status (invariant I2).
func (s MovieStatus) IsStreamable() bool {
	return s == StatusPlayable || s == StatusReady
}
