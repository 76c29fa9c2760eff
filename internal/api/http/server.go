// Package apihttp implements the Range HTTP Server (spec §4.5, §6): the
// five-endpoint contract clients use to kick off acquisition, poll status,
// list materialized segments, and stream them with Range support.
package apihttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentstream/internal/domain"
	"torrentstream/internal/usecase"
)

const copyChunkBytes = 8192

type StartUseCase interface {
	Execute(ctx context.Context, movieID domain.MovieID, magnetURI string) (domain.MovieAsset, error)
}

type StatusUseCase interface {
	Execute(ctx context.Context, movieID domain.MovieID) (domain.AssetSnapshot, error)
}

type SegmentsUseCase interface {
	Execute(ctx context.Context, movieID domain.MovieID) (usecase.SegmentsResult, error)
}

type StreamUseCase interface {
	Execute(ctx context.Context, movieID domain.MovieID, segmentIndex int) (usecase.StreamResult, error)
}

// HealthCheck reports readiness of the process's external dependencies
// (cmd/server wires it to a Mongo ping).
type HealthCheck func(ctx context.Context) error

type Server struct {
	start    StartUseCase
	status   StatusUseCase
	segments SegmentsUseCase
	stream   StreamUseCase

	logger         *slog.Logger
	allowedOrigins []string
	healthCheck    HealthCheck

	wsHub   *wsHub
	handler http.Handler
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

func WithHealthCheck(check HealthCheck) ServerOption {
	return func(s *Server) { s.healthCheck = check }
}

func NewServer(start StartUseCase, status StatusUseCase, segments SegmentsUseCase, stream StreamUseCase, opts ...ServerOption) *Server {
	s := &Server{start: start, status: status, segments: segments, stream: stream}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/video/", s.handleVideo)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "streamcore",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close shuts down the websocket hub, disconnecting every client.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

// BroadcastSnapshot pushes a pipeline state change to every connected
// websocket client. Pass this as a pipeline.Worker/pipeline.Pool's
// OnSnapshot callback.
func (s *Server) BroadcastSnapshot(snapshot domain.AssetSnapshot) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast("snapshot", snapshot)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck != nil {
		if err := s.healthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVideo dispatches "/video/{id}/{action}" the way the teacher's
// "/torrents/{id}" handler does: strip the known prefix and split the
// remainder, since the routes predate Go 1.22's mux path patterns.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/video/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	movieID := domain.MovieID(parts[0])

	switch parts[1] {
	case "start":
		s.handleStart(w, r, movieID)
	case "status":
		s.handleStatus(w, r, movieID)
	case "segments":
		s.handleSegments(w, r, movieID)
	case "stream":
		s.handleStream(w, r, movieID)
	case "ws":
		s.handleWS(w, r, movieID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

type startRequest struct {
	MagnetLink string `json:"magnet_link"`
}

type startResponse struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, movieID domain.MovieID) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	asset, err := s.start.Execute(r.Context(), movieID, req.MagnetLink)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{Status: string(asset.Status), Progress: asset.Progress})
}

type statusResponse struct {
	Status            string  `json:"status"`
	Progress          float64 `json:"progress"`
	FilePath          string  `json:"file_path,omitempty"`
	Ready             bool    `json:"ready"`
	Downloading       bool    `json:"downloading"`
	AvailableSegments *int    `json:"available_segments,omitempty"`
	TotalDuration     *float64 `json:"total_duration,omitempty"`
	SegmentDuration   *float64 `json:"segment_duration,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, movieID domain.MovieID) {
	snap, err := s.status.Execute(r.Context(), movieID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := statusResponse{
		Status:      string(snap.Status),
		Progress:    snap.Progress,
		FilePath:    snap.StreamableRelPath,
		Ready:       snap.Ready(),
		Downloading: snap.Downloading(),
	}
	if snap.TotalDuration > 0 {
		available := snap.AvailableSegments
		duration := snap.TotalDuration
		resp.AvailableSegments = &available
		resp.TotalDuration = &duration
	}
	if snap.SegmentDurationSec > 0 {
		segmentDuration := snap.SegmentDurationSec
		resp.SegmentDuration = &segmentDuration
	}
	writeJSON(w, http.StatusOK, resp)
}

type segmentPayload struct {
	Segment  int    `json:"segment"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type segmentsResponse struct {
	AvailableSegments []segmentPayload `json:"available_segments"`
	SegmentDuration   float64          `json:"segment_duration"`
	TotalSegments     int              `json:"total_segments"`
	TotalDuration     float64          `json:"total_duration"`
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request, movieID domain.MovieID) {
	res, err := s.segments.Execute(r.Context(), movieID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	payload := make([]segmentPayload, 0, len(res.Segments))
	for _, seg := range res.Segments {
		payload = append(payload, segmentPayload{Segment: seg.Index, Filename: seg.Filename, Size: seg.Size})
	}
	writeJSON(w, http.StatusOK, segmentsResponse{
		AvailableSegments: payload,
		SegmentDuration:   res.SegmentDurationSec,
		TotalSegments:     res.TotalSegments,
		TotalDuration:     res.TotalDuration,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, movieID domain.MovieID) {
	n, err := parseSegmentQuery(r.URL.Query().Get("segment"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := s.stream.Execute(r.Context(), movieID, n)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	f, err := os.Open(result.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "segment not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	size := info.Size()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		copyChunked(w, f, size)
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if errors.Is(err, errInvalidRange) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
		return
	}
	if errors.Is(err, errRangeNotSatisfiable) {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to seek segment")
		return
	}
	length := end - start + 1
	w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(size, 10))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	copyChunked(w, f, length)
}

// copyChunked streams exactly n bytes in fixed copyChunkBytes-sized reads
// (spec §4.5's "fixed chunk size (8 KiB)" back-pressure requirement). An
// explicit read/write loop is used instead of io.Copy/io.CopyBuffer because
// http.ResponseWriter can implement io.ReaderFrom, which would let a
// sendfile-style fast path ignore the chunk size entirely.
func copyChunked(w http.ResponseWriter, r io.Reader, n int64) {
	buf := make([]byte, copyChunkBytes)
	remaining := n
	for remaining > 0 {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		read, err := r.Read(buf[:want])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return
			}
			remaining -= int64(read)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Default().Debug("segment copy interrupted", "error", err.Error())
			}
			return
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, movieID domain.MovieID) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{hub: s.wsHub, conn: conn, send: make(chan []byte, 16)}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()

	if snap, err := s.status.Execute(r.Context(), movieID); err == nil {
		go func() {
			time.Sleep(10 * time.Millisecond)
			s.BroadcastSnapshot(snap)
		}()
	}
}
