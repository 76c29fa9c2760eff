package apihttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"torrentstream/internal/domain"
)

// decodeJSON decodes a request body into dst, tolerating an empty body
// (left as dst's zero value) the way the start endpoint's optional fields do.
func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return nil
}

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeDomainError maps the sealed domain error values to the HTTP status
// codes spec §7 assigns them.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "movie not found")
	case errors.Is(err, domain.ErrInvalidMagnet):
		writeError(w, http.StatusBadRequest, "invalid_request", "magnet link is required")
	case errors.Is(err, domain.ErrInvalidSegment):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid segment index")
	case errors.Is(err, domain.ErrNotReady):
		writeError(w, http.StatusBadRequest, "not_ready", "movie is not ready for streaming")
	case errors.Is(err, domain.ErrRangeNotSatisfiable):
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "range not satisfiable")
	case errors.Is(err, domain.ErrSwarm):
		writeError(w, http.StatusBadGateway, "swarm_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// parseByteRange parses an RFC 7233 "Range: bytes=..." header value against
// a known resource size. Multi-range requests are rejected (single range
// only), matching spec §4.5's wire contract.
func parseByteRange(value string, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errRangeNotSatisfiable
	}

	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "bytes=") {
		return 0, 0, errInvalidRange
	}

	spec := strings.TrimSpace(value[len("bytes="):])
	if spec == "" || strings.Contains(spec, ",") {
		return 0, 0, errInvalidRange
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) == 1 {
		parts = append(parts, "")
	}
	if len(parts) != 2 {
		return 0, 0, errInvalidRange
	}

	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	if startStr == "" {
		if endStr == "" {
			return 0, 0, errInvalidRange
		}
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, errInvalidRange
		}
		if suffix > size {
			suffix = size
		}
		start := size - suffix
		end := size - 1
		return start, end, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errInvalidRange
	}

	if start >= size {
		return 0, 0, errRangeNotSatisfiable
	}

	if endStr == "" {
		return start, size - 1, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < 0 {
		return 0, 0, errInvalidRange
	}
	if end < start {
		return 0, 0, errInvalidRange
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

func parseSegmentQuery(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, domain.ErrInvalidSegment
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, domain.ErrInvalidSegment
	}
	return n, nil
}
