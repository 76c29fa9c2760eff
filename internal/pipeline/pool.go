package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
)

// Pool is a worker pool keyed by movieId: at most one Worker runs per
// asset at a time, and a Start for an already-running asset is a no-op
// rather than spawning a second worker. The number of distinct assets
// with a running Worker is not capped.
type Pool struct {
	Repo      ports.AssetRepository
	Sessions  ports.SessionManager
	Store     ports.SegmentStore
	Prober    ports.MediaProbe
	Segmenter ports.Segmenter
	Config    Config
	Log       *slog.Logger

	OnSnapshot func(domain.AssetSnapshot)

	mu      sync.Mutex
	running map[domain.MovieID]context.CancelFunc
}

// Start launches a worker for movieID unless one is already running, in
// which case it returns false immediately.
func (p *Pool) Start(ctx context.Context, movieID domain.MovieID, magnetURI string) bool {
	p.mu.Lock()
	if p.running == nil {
		p.running = make(map[domain.MovieID]context.CancelFunc)
	}
	if _, active := p.running[movieID]; active {
		p.mu.Unlock()
		return false
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.running[movieID] = cancel
	p.mu.Unlock()

	w := &Worker{
		MovieID:    movieID,
		MagnetURI:  magnetURI,
		Repo:       p.Repo,
		Sessions:   p.Sessions,
		Store:      p.Store,
		Prober:     p.Prober,
		Segmenter:  p.Segmenter,
		Config:     p.Config,
		Log:        p.Log,
		OnSnapshot: p.OnSnapshot,
	}

	go func() {
		defer p.release(movieID)
		w.Run(workerCtx)
	}()
	return true
}

func (p *Pool) release(movieID domain.MovieID) {
	p.mu.Lock()
	delete(p.running, movieID)
	p.mu.Unlock()
}

// IsRunning reports whether a worker for movieID is currently active.
func (p *Pool) IsRunning(movieID domain.MovieID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, active := p.running[movieID]
	return active
}

// Stop cancels the running worker for movieID, if any.
func (p *Pool) Stop(movieID domain.MovieID) {
	p.mu.Lock()
	cancel, active := p.running[movieID]
	p.mu.Unlock()
	if active {
		cancel()
	}
}

// ActiveCount reports how many workers are currently running.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}
