package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"torrentstream/internal/domain"
	"torrentstream/internal/usecase"
)

type fakeStart struct {
	called  int
	magnet  string
	result  domain.MovieAsset
	err     error
}

func (f *fakeStart) Execute(ctx context.Context, movieID domain.MovieID, magnetURI string) (domain.MovieAsset, error) {
	f.called++
	f.magnet = magnetURI
	return f.result, f.err
}

type fakeStatus struct {
	result domain.AssetSnapshot
	err    error
}

func (f *fakeStatus) Execute(ctx context.Context, movieID domain.MovieID) (domain.AssetSnapshot, error) {
	return f.result, f.err
}

type fakeSegments struct {
	result usecase.SegmentsResult
	err    error
}

func (f *fakeSegments) Execute(ctx context.Context, movieID domain.MovieID) (usecase.SegmentsResult, error) {
	return f.result, f.err
}

type fakeStream struct {
	result usecase.StreamResult
	err    error
}

func (f *fakeStream) Execute(ctx context.Context, movieID domain.MovieID, segmentIndex int) (usecase.StreamResult, error) {
	return f.result, f.err
}

func newTestServer(start *fakeStart, status *fakeStatus, segments *fakeSegments, stream *fakeStream) *Server {
	return NewServer(start, status, segments, stream)
}

func TestHandleStartReturnsAssetStatus(t *testing.T) {
	start := &fakeStart{result: domain.MovieAsset{Status: domain.StatusPending}}
	srv := newTestServer(start, &fakeStatus{}, &fakeSegments{}, &fakeStream{})

	body, _ := json.Marshal(map[string]string{"magnet_link": "magnet:?xt=urn:btih:abc"})
	req := httptest.NewRequest(http.MethodPost, "/video/m1/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if start.called != 1 || start.magnet != "magnet:?xt=urn:btih:abc" {
		t.Fatalf("start usecase not invoked correctly: %+v", start)
	}
}

func TestHandleStartRejectsNonPost(t *testing.T) {
	srv := newTestServer(&fakeStart{}, &fakeStatus{}, &fakeSegments{}, &fakeStream{})
	req := httptest.NewRequest(http.MethodGet, "/video/m1/start", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandleStartPropagatesDomainError(t *testing.T) {
	start := &fakeStart{err: domain.ErrInvalidMagnet}
	srv := newTestServer(start, &fakeStatus{}, &fakeSegments{}, &fakeStream{})
	req := httptest.NewRequest(http.MethodPost, "/video/m1/start", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleStatusReturnsSnapshot(t *testing.T) {
	status := &fakeStatus{result: domain.AssetSnapshot{
		Status:            domain.StatusPlayable,
		Progress:          55.5,
		TotalDuration:      120,
		AvailableSegments: 4,
	}}
	srv := newTestServer(&fakeStart{}, status, &fakeSegments{}, &fakeStream{})
	req := httptest.NewRequest(http.MethodGet, "/video/m1/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Ready && resp.Downloading {
		t.Fatalf("unexpected flags: %+v", resp)
	}
	if resp.AvailableSegments == nil || *resp.AvailableSegments != 4 {
		t.Fatalf("available segments = %v, want 4", resp.AvailableSegments)
	}
}

func TestHandleStatusNotFound(t *testing.T) {
	status := &fakeStatus{err: domain.ErrNotFound}
	srv := newTestServer(&fakeStart{}, status, &fakeSegments{}, &fakeStream{})
	req := httptest.NewRequest(http.MethodGet, "/video/missing/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSegmentsReturnsPayload(t *testing.T) {
	segments := &fakeSegments{result: usecase.SegmentsResult{
		Segments:           []domain.Segment{{Index: 0, Filename: "segment_000.mp4", Size: 1024}},
		SegmentDurationSec: 10,
		TotalSegments:      12,
		TotalDuration:      118,
	}}
	srv := newTestServer(&fakeStart{}, &fakeStatus{}, segments, &fakeStream{})
	req := httptest.NewRequest(http.MethodGet, "/video/m1/segments", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp segmentsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.AvailableSegments) != 1 || resp.TotalSegments != 12 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleStreamRejectsMissingSegmentQuery(t *testing.T) {
	srv := newTestServer(&fakeStart{}, &fakeStatus{}, &fakeSegments{}, &fakeStream{})
	req := httptest.NewRequest(http.MethodGet, "/video/m1/stream", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleStreamServesFullSegment(t *testing.T) {
	dir := t.TempDir()
	segmentPath := filepath.Join(dir, "segment_000.mp4")
	payload := bytes.Repeat([]byte{0xAB}, 4096)
	if err := os.WriteFile(segmentPath, payload, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stream := &fakeStream{result: usecase.StreamResult{Path: segmentPath}}
	srv := newTestServer(&fakeStart{}, &fakeStatus{}, &fakeSegments{}, stream)

	req := httptest.NewRequest(http.MethodGet, "/video/m1/stream?segment=0", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Fatal("body does not match fixture segment")
	}
}

func TestHandleStreamServesPartialRange(t *testing.T) {
	dir := t.TempDir()
	segmentPath := filepath.Join(dir, "segment_000.mp4")
	payload := []byte("0123456789")
	if err := os.WriteFile(segmentPath, payload, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stream := &fakeStream{result: usecase.StreamResult{Path: segmentPath}}
	srv := newTestServer(&fakeStart{}, &fakeStatus{}, &fakeSegments{}, stream)

	req := httptest.NewRequest(http.MethodGet, "/video/m1/stream?segment=0", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "2345" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "2345")
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Fatalf("Content-Range = %q", got)
	}
}

func TestHandleStreamUnsatisfiableRange(t *testing.T) {
	dir := t.TempDir()
	segmentPath := filepath.Join(dir, "segment_000.mp4")
	if err := os.WriteFile(segmentPath, []byte("short"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stream := &fakeStream{result: usecase.StreamResult{Path: segmentPath}}
	srv := newTestServer(&fakeStart{}, &fakeStatus{}, &fakeSegments{}, stream)

	req := httptest.NewRequest(http.MethodGet, "/video/m1/stream?segment=0", nil)
	req.Header.Set("Range", "bytes=9999-")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rec.Code)
	}
}

func TestHandleStreamPropagatesNotReady(t *testing.T) {
	stream := &fakeStream{err: domain.ErrNotReady}
	srv := newTestServer(&fakeStart{}, &fakeStatus{}, &fakeSegments{}, stream)
	req := httptest.NewRequest(http.MethodGet, "/video/m1/stream?segment=0", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleVideoUnknownAction(t *testing.T) {
	srv := newTestServer(&fakeStart{}, &fakeStatus{}, &fakeSegments{}, &fakeStream{})
	req := httptest.NewRequest(http.MethodGet, "/video/m1/bogus", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleHealthzOK(t *testing.T) {
	srv := newTestServer(&fakeStart{}, &fakeStatus{}, &fakeSegments{}, &fakeStream{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleHealthzReportsFailingCheck(t *testing.T) {
	srv := NewServer(&fakeStart{}, &fakeStatus{}, &fakeSegments{}, &fakeStream{},
		WithHealthCheck(func(ctx context.Context) error { return context.DeadlineExceeded }))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
