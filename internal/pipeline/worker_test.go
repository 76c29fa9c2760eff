package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
)

type fakeRepo struct {
	mu     sync.Mutex
	assets map[domain.MovieID]domain.MovieAsset
}

func newFakeRepo() *fakeRepo { return &fakeRepo{assets: map[domain.MovieID]domain.MovieAsset{}} }

func (r *fakeRepo) Get(ctx context.Context, id domain.MovieID) (domain.MovieAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return domain.MovieAsset{}, domain.ErrNotFound
	}
	return a, nil
}

func (r *fakeRepo) Upsert(ctx context.Context, asset domain.MovieAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset.MovieID] = asset
	return nil
}

func (r *fakeRepo) UpdateLastWatched(ctx context.Context, id domain.MovieID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.assets[id]
	a.LastWatchedAt = &at
	r.assets[id] = a
	return nil
}

func (r *fakeRepo) statusOf(id domain.MovieID) domain.MovieStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assets[id].Status
}

type fakeHandle struct {
	hasMetadata bool
	files       []domain.FileRef
	progress    float64
	seeding     bool
	selected    domain.FileRef
}

func (h *fakeHandle) ID() domain.HandleID             { return "h1" }
func (h *fakeHandle) HasMetadata() bool                { return h.hasMetadata }
func (h *fakeHandle) Files() []domain.FileRef          { return h.files }
func (h *fakeHandle) SelectFile(f domain.FileRef) error { h.selected = f; return nil }
func (h *fakeHandle) Progress() float64                { return h.progress }
func (h *fakeHandle) IsSeeding() bool                  { return h.seeding }
func (h *fakeHandle) ActiveTimeSeconds() float64       { return 0 }

type fakeSessions struct {
	mu      sync.Mutex
	handle  *fakeHandle
	locks   map[domain.HandleID]*sync.Mutex
	admitID domain.HandleID
}

func newFakeSessions(h *fakeHandle) *fakeSessions {
	return &fakeSessions{handle: h, locks: map[domain.HandleID]*sync.Mutex{}, admitID: "h1"}
}

func (s *fakeSessions) Admit(ctx context.Context, magnetURI, savePath string) (domain.HandleID, error) {
	return s.admitID, nil
}

func (s *fakeSessions) Handle(id domain.HandleID) (ports.Handle, bool) {
	if id != s.admitID {
		return nil, false
	}
	return s.handle, true
}

func (s *fakeSessions) Lock(id domain.HandleID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[id] == nil {
		s.locks[id] = &sync.Mutex{}
	}
	return s.locks[id]
}

func (s *fakeSessions) Remove(id domain.HandleID) error { return nil }
func (s *fakeSessions) Close() error                    { return nil }

type fakeStoreFull struct {
	mu       sync.Mutex
	reserved bool
	segments map[int]bool
}

func newFakeStoreFull() *fakeStoreFull { return &fakeStoreFull{segments: map[int]bool{}} }

func (s *fakeStoreFull) Reserve(domain.MovieID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved = true
	return "/tmp/movie", nil
}

func (s *fakeStoreFull) SegmentPath(id domain.MovieID, baseName string, index int) string {
	return "/tmp/movie/segment"
}

func (s *fakeStoreFull) ListSegments(domain.MovieID, string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments), nil
}

func (s *fakeStoreFull) StatSegments(domain.MovieID, string) ([]domain.Segment, error) {
	return nil, nil
}

func (s *fakeStoreFull) EvictIfStale(domain.MovieID, *time.Time, time.Time, time.Duration) (bool, error) {
	return false, nil
}

type fakeProber struct {
	info domain.MediaInfo
	err  error
}

func (p *fakeProber) Probe(ctx context.Context, path string) (domain.MediaInfo, error) {
	return p.info, p.err
}

type fakeSegmenter struct {
	mu   sync.Mutex
	hits int
	ok   bool
}

func (s *fakeSegmenter) ExtractSegment(ctx context.Context, srcPath, dstPath string, startSec, durationSec float64, copyStreams bool) (ports.ExtractResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	return ports.ExtractResult{Ok: s.ok}, nil
}

func TestRequiredProgressIncludesSafetyMargin(t *testing.T) {
	got := requiredProgress(0, 10, 100)
	want := (10.0/100.0)*100 + safetyMarginPct
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRequiredProgressZeroDurationReturnsHundred(t *testing.T) {
	if got := requiredProgress(2, 10, 0); got != 100 {
		t.Fatalf("got %v, want 100", got)
	}
}

func TestWorkerRunReachesReadyOnFullDownload(t *testing.T) {
	repo := newFakeRepo()
	handle := &fakeHandle{
		hasMetadata: true,
		files:       []domain.FileRef{{Index: 0, Path: "movie.mkv", Length: 100}},
		progress:    100,
		seeding:     true,
	}
	sessions := newFakeSessions(handle)
	store := newFakeStoreFull()
	prober := &fakeProber{info: domain.MediaInfo{Duration: 20, Container: "mp4", Tracks: []domain.MediaTrack{{Type: "video", Codec: "h264"}, {Type: "audio", Codec: "aac"}}}}
	segmenter := &fakeSegmenter{ok: true}

	w := &Worker{
		MovieID:   "m1",
		MagnetURI: "magnet:?xt=urn:btih:abc",
		Repo:      repo,
		Sessions:  sessions,
		Store:     store,
		Prober:    prober,
		Segmenter: segmenter,
		Config:    Config{SegmentDurationSec: 10, PollInterval: time.Millisecond},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Run(ctx)

	if got := repo.statusOf("m1"); got != domain.StatusReady {
		t.Fatalf("status = %v, want READY", got)
	}
	if segmenter.hits == 0 {
		t.Fatal("expected at least one segment extraction attempt")
	}
}

func TestWorkerRunSetsErrorWhenNoFiles(t *testing.T) {
	repo := newFakeRepo()
	handle := &fakeHandle{hasMetadata: true, files: nil}
	sessions := newFakeSessions(handle)
	store := newFakeStoreFull()

	w := &Worker{
		MovieID:   "m2",
		MagnetURI: "magnet:?xt=urn:btih:def",
		Repo:      repo,
		Sessions:  sessions,
		Store:     store,
		Prober:    &fakeProber{},
		Segmenter: &fakeSegmenter{},
		Config:    Config{PollInterval: time.Millisecond},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Run(ctx)

	if got := repo.statusOf("m2"); got != domain.StatusError {
		t.Fatalf("status = %v, want ERROR", got)
	}
}

func TestWorkerRunSetsErrorWhenSegmentsAllFail(t *testing.T) {
	repo := newFakeRepo()
	handle := &fakeHandle{
		hasMetadata: true,
		files:       []domain.FileRef{{Index: 0, Path: "movie.mkv", Length: 100}},
		progress:    100,
		seeding:     true,
	}
	sessions := newFakeSessions(handle)
	store := newFakeStoreFull()
	prober := &fakeProber{info: domain.MediaInfo{Duration: 10, Container: "mp4"}}
	segmenter := &fakeSegmenter{ok: false}

	w := &Worker{
		MovieID:   "m3",
		MagnetURI: "magnet:?xt=urn:btih:ghi",
		Repo:      repo,
		Sessions:  sessions,
		Store:     store,
		Prober:    prober,
		Segmenter: segmenter,
		Config:    Config{SegmentDurationSec: 10, MaxRetries: 1, RetryCooldown: time.Millisecond, PollInterval: time.Millisecond},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Run(ctx)

	if got := repo.statusOf("m3"); got != domain.StatusError {
		t.Fatalf("status = %v, want ERROR (segment 0 never succeeded)", got)
	}
}

func TestWorkerPublishesSnapshotsOnStateChange(t *testing.T) {
	repo := newFakeRepo()
	handle := &fakeHandle{hasMetadata: true, files: nil}
	sessions := newFakeSessions(handle)
	store := newFakeStoreFull()

	var mu sync.Mutex
	var snapshots []domain.AssetSnapshot

	w := &Worker{
		MovieID:   "m4",
		MagnetURI: "magnet:?xt=urn:btih:jkl",
		Repo:      repo,
		Sessions:  sessions,
		Store:     store,
		Prober:    &fakeProber{},
		Segmenter: &fakeSegmenter{},
		Config:    Config{PollInterval: time.Millisecond},
		OnSnapshot: func(s domain.AssetSnapshot) {
			mu.Lock()
			defer mu.Unlock()
			snapshots = append(snapshots, s)
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) == 0 {
		t.Fatal("expected at least one published snapshot")
	}
	if snapshots[len(snapshots)-1].Status != domain.StatusError {
		t.Fatalf("last snapshot status = %v, want ERROR", snapshots[len(snapshots)-1].Status)
	}
}
