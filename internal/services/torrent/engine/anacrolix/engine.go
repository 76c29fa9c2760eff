// Package anacrolix adapts github.com/anacrolix/torrent into the torrent
// session manager contract of ports.SessionManager.
package anacrolix

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
)

// addMagnetTimeout caps how long Admit waits for the anacrolix client to
// accept a magnet link before giving up; AddMagnet can block on an internal
// client mutex when the client is busy resolving another torrent's metadata.
const addMagnetTimeout = 10 * time.Second

var ErrClientNotConfigured = errors.New("torrent client not configured")

type Config struct {
	DataDir       string
	PortLow       int
	PortHigh      int
	ReapInterval  time.Duration // how often the seed-time reaper scans handles
	ReapThreshold time.Duration // a seeding handle admitted longer ago than this is reaped
}

// Engine is the process-wide torrent session manager (spec §4.3). It is a
// singleton by construction: callers share one *Engine, built once at
// startup via New, rather than locking around lazy initialization.
type Engine struct {
	client  *torrent.Client
	mu      sync.RWMutex
	entries map[domain.HandleID]*entry

	reapCancel context.CancelFunc

	speedMu   sync.Mutex
	lastSpeed speedSample
}

type entry struct {
	lock    sync.Mutex
	handle  *Handle
	addedAt time.Time
}

// speedSample records a cumulative byte counter at a point in time so Stats
// can derive a per-second rate between two calls, the way the teacher's
// engine samples aggregate swarm throughput.
type speedSample struct {
	at      time.Time
	read    int64
	written int64
}

// Stats is a point-in-time snapshot of swarm activity, sampled by the
// caller into the process's Prometheus gauges.
type Stats struct {
	ActiveSessions int
	PeersConnected int
	DownloadBytes  int64
	UploadBytes    int64
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	// Try each port of [PortLow, PortHigh] in turn until the client binds.
	var client *torrent.Client
	var err error
	for port := cfg.PortLow; ; port++ {
		if port > 0 {
			clientConfig.ListenPort = port
		}
		client, err = torrent.NewClient(clientConfig)
		if err == nil || port <= 0 || port >= cfg.PortHigh {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	e := &Engine{
		client:  client,
		entries: make(map[domain.HandleID]*entry),
	}

	interval := cfg.ReapInterval
	if interval <= 0 {
		interval = 300 * time.Second
	}
	threshold := cfg.ReapThreshold
	if threshold <= 0 {
		threshold = 3600 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.reapCancel = cancel
	go e.reapLoop(ctx, interval, threshold)

	return e, nil
}

// fingerprintMagnet derives a stable HandleID from a magnet URI so Admit is
// idempotent (invariant I1): resubmitting the same magnet always maps to the
// same handle, independent of whether metadata has arrived yet.
func fingerprintMagnet(magnetURI string) domain.HandleID {
	sum := sha1.Sum([]byte(magnetURI))
	return domain.HandleID(hex.EncodeToString(sum[:]))
}

func (e *Engine) Admit(ctx context.Context, magnetURI, savePath string) (domain.HandleID, error) {
	if e.client == nil {
		return "", ErrClientNotConfigured
	}
	id := fingerprintMagnet(magnetURI)

	e.mu.Lock()
	if _, exists := e.entries[id]; exists {
		e.mu.Unlock()
		return id, nil
	}
	e.mu.Unlock()

	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		spec, err := torrent.TorrentSpecFromMagnetUri(magnetURI)
		if err != nil {
			ch <- addResult{nil, err}
			return
		}
		if savePath != "" {
			spec.Storage = storage.NewFile(savePath)
		}
		t, _, err := e.client.AddTorrentSpec(spec)
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		t = res.t
	case <-time.After(addMagnetTimeout):
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return "", errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return "", ctx.Err()
	}

	e.mu.Lock()
	if _, exists := e.entries[id]; exists {
		e.mu.Unlock()
		t.Drop()
		return id, nil
	}
	e.entries[id] = &entry{
		handle:  newHandle(id, t),
		addedAt: time.Now().UTC(),
	}
	e.mu.Unlock()

	return id, nil
}

func (e *Engine) Handle(id domain.HandleID) (ports.Handle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.entries[id]
	if !ok {
		return nil, false
	}
	return ent.handle, true
}

func (e *Engine) Lock(id domain.HandleID) *sync.Mutex {
	e.mu.Lock()
	ent, ok := e.entries[id]
	if !ok {
		ent = &entry{addedAt: time.Now().UTC()}
		e.entries[id] = ent
	}
	e.mu.Unlock()
	return &ent.lock
}

func (e *Engine) Remove(id domain.HandleID) error {
	e.mu.Lock()
	ent, ok := e.entries[id]
	delete(e.entries, id)
	e.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	if ent.handle != nil {
		ent.handle.close()
	}
	return nil
}

func (e *Engine) Close() error {
	if e.reapCancel != nil {
		e.reapCancel()
	}
	if e.client == nil {
		return nil
	}
	errs := e.client.Close()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Stats aggregates active-peer counts and read/write throughput across
// every admitted torrent, grounded on the teacher's per-torrent
// sampleSpeed idiom but collapsed into one engine-wide sample since
// spec §5.5's gauges are process-wide, not per-asset.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	sessions := len(e.entries)
	var peers int
	var read, written int64
	for _, ent := range e.entries {
		if ent.handle == nil || ent.handle.torrent == nil {
			continue
		}
		s := ent.handle.torrent.Stats()
		peers += s.ActivePeers
		read += s.BytesReadUsefulData.Int64()
		written += s.BytesWrittenData.Int64()
	}
	e.mu.RUnlock()

	now := time.Now()
	e.speedMu.Lock()
	prev := e.lastSpeed
	e.lastSpeed = speedSample{at: now, read: read, written: written}
	e.speedMu.Unlock()

	var downloadRate, uploadRate int64
	if !prev.at.IsZero() {
		dt := now.Sub(prev.at).Seconds()
		if dt > 0 {
			downloadRate = int64(float64(read-prev.read) / dt)
			uploadRate = int64(float64(written-prev.written) / dt)
		}
	}

	return Stats{
		ActiveSessions: sessions,
		PeersConnected: peers,
		DownloadBytes:  downloadRate,
		UploadBytes:    uploadRate,
	}
}

// reapLoop drops handles that are seeding (selected file fully downloaded)
// and whose active time, counted from admission, exceeds threshold, freeing swarm resources for
// assets nobody is watching (spec §4.3; grounded in the original service's
// periodic cleanup of stale torrent sessions).
func (e *Engine) reapLoop(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reapSeeding(threshold)
		}
	}
}

func (e *Engine) reapSeeding(threshold time.Duration) {
	e.mu.RLock()
	var candidates []domain.HandleID
	for id, ent := range e.entries {
		if ent.handle == nil {
			continue
		}
		if ent.handle.IsSeeding() && ent.handle.ActiveTimeSeconds() > threshold.Seconds() {
			candidates = append(candidates, id)
		}
	}
	e.mu.RUnlock()

	for _, id := range candidates {
		slog.Info("reaping seeding handle", slog.String("handleId", string(id)))
		_ = e.Remove(id)
	}
}
