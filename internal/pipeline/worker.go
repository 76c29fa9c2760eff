// Package pipeline implements the Download+Segment state machine (spec
// §4.4): one worker per active asset drives a movie from PENDING through
// DOWNLOADING, DL_AND_CONVERT, PLAYABLE and finally READY or ERROR.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
	"torrentstream/internal/metrics"
)

const safetyMarginPct = 5.0

// Config holds the fixed knobs a Worker needs, shared across every asset
// the pool spawns.
type Config struct {
	SegmentDurationSec float64
	MaxRetries         int
	RetryCooldown      time.Duration
	PollInterval       time.Duration // defaults to 1s, matching spec §4.4's poll cadence
}

func (c Config) withDefaults() Config {
	if c.SegmentDurationSec <= 0 {
		c.SegmentDurationSec = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryCooldown <= 0 {
		c.RetryCooldown = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Worker drives a single MovieAsset through the state machine. It is
// constructed fresh per run by Pool and discarded afterwards.
type Worker struct {
	MovieID   domain.MovieID
	MagnetURI string

	Repo      ports.AssetRepository
	Sessions  ports.SessionManager
	Store     ports.SegmentStore
	Prober    ports.MediaProbe
	Segmenter ports.Segmenter

	Config Config
	Log    *slog.Logger

	// OnSnapshot is invoked after every persisted state change, letting the
	// HTTP layer's websocket hub broadcast without the worker importing it.
	OnSnapshot func(domain.AssetSnapshot)
}

type retryState struct {
	attempts    int
	nextAttempt time.Time
}

// Run executes the full protocol to completion or until ctx is cancelled.
// It never returns an error: every failure is folded into the asset's
// persisted status, matching "any unhandled exception sets ERROR".
func (w *Worker) Run(ctx context.Context) {
	cfg := w.Config.withDefaults()
	log := w.logger()

	if err := w.start(ctx); err != nil {
		log.Error("pipeline failed to start", "movieId", w.MovieID, "error", err)
		w.setError(ctx)
		return
	}

	handleID, err := w.Sessions.Admit(ctx, w.MagnetURI, w.savePathHint())
	if err != nil {
		log.Error("admit failed", "movieId", w.MovieID, "error", err)
		w.setError(ctx)
		return
	}

	lock := w.Sessions.Lock(handleID)
	lock.Lock()
	defer lock.Unlock()

	handle, ok := w.Sessions.Handle(handleID)
	if !ok {
		log.Error("handle vanished after admit", "movieId", w.MovieID)
		w.setError(ctx)
		return
	}

	if err := w.waitForMetadata(ctx, handle, cfg); err != nil {
		log.Warn("metadata wait aborted", "movieId", w.MovieID, "error", err)
		w.setError(ctx)
		return
	}

	file, originalRelPath, err := w.selectTarget(handle)
	if err != nil {
		log.Error("no streamable file in torrent", "movieId", w.MovieID, "error", err)
		w.setError(ctx)
		return
	}
	w.persistOriginal(ctx, originalRelPath)

	duration, compatible, err := w.waitForDuration(ctx, handle, originalAbsPath(w.savePathHint(), file.Path), cfg)
	if err != nil {
		log.Warn("duration probe aborted", "movieId", w.MovieID, "error", err)
		w.setError(ctx)
		return
	}

	w.markDurationKnown(ctx, duration)

	srcPath := originalAbsPath(w.savePathHint(), file.Path)
	baseName := filepath.Base(originalRelPath)
	failed := w.convert(ctx, handle, srcPath, duration, compatible, cfg)

	w.finish(ctx, failed, baseName)
}

func (w *Worker) logger() *slog.Logger {
	if w.Log != nil {
		return w.Log
	}
	return slog.Default()
}

func (w *Worker) savePathHint() string {
	dir, err := w.Store.Reserve(w.MovieID)
	if err != nil {
		return ""
	}
	return dir
}

func originalAbsPath(saveDir, relPath string) string {
	return filepath.Join(saveDir, relPath)
}

func (w *Worker) start(ctx context.Context) error {
	asset, err := w.Repo.Get(ctx, w.MovieID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	from := asset.Status
	asset.MovieID = w.MovieID
	asset.MagnetURI = w.MagnetURI
	asset.Status = domain.StatusDownloading
	asset.Progress = 0
	metrics.PipelineStageTransitionsTotal.WithLabelValues(string(from), string(asset.Status)).Inc()
	if _, reserveErr := w.Store.Reserve(w.MovieID); reserveErr != nil {
		return reserveErr
	}
	return w.Repo.Upsert(ctx, asset)
}

func (w *Worker) waitForMetadata(ctx context.Context, handle ports.Handle, cfg Config) error {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for !handle.HasMetadata() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (w *Worker) selectTarget(handle ports.Handle) (domain.FileRef, string, error) {
	files := handle.Files()
	if len(files) == 0 {
		return domain.FileRef{}, "", errors.New("torrent exposes no files")
	}
	largest := files[0]
	for _, f := range files[1:] {
		if f.Length > largest.Length {
			largest = f
		}
	}
	if err := handle.SelectFile(largest); err != nil {
		return domain.FileRef{}, "", err
	}
	return largest, largest.Path, nil
}

func (w *Worker) persistOriginal(ctx context.Context, relPath string) {
	asset, err := w.Repo.Get(ctx, w.MovieID)
	if err != nil {
		return
	}
	asset.OriginalRelPath = relPath
	_ = w.Repo.Upsert(ctx, asset)
	w.publish(asset, 0)
}

// persistProgress refreshes the asset's progress field with the swarm's
// current download percentage (spec §4.4 step 4's 1 s poll cadence), never
// letting it regress (invariant I4 / property P3: progress is monotonic
// within a download phase).
func (w *Worker) persistProgress(ctx context.Context, progress float64, baseName string) {
	asset, err := w.Repo.Get(ctx, w.MovieID)
	if err != nil {
		return
	}
	if progress <= asset.Progress {
		return
	}
	asset.Progress = progress
	_ = w.Repo.Upsert(ctx, asset)
	n, _ := w.Store.ListSegments(w.MovieID, baseName)
	w.publish(asset, n)
}

// waitForDuration polls progress and probes the partial file for duration,
// tolerating probe failures until enough bytes have landed (spec §4.4 step
// 4). It returns once duration is known, or ctx is cancelled.
func (w *Worker) waitForDuration(ctx context.Context, handle ports.Handle, path string, cfg Config) (float64, bool, error) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		w.persistProgress(ctx, handle.Progress(), filepath.Base(path))
		info, err := w.Prober.Probe(ctx, path)
		if err == nil && info.Duration > 0 {
			return info.Duration, ports.IsBrowserCompatible(info), nil
		}
		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// convert runs the segment extraction loop (steps 5–6): it polls progress
// while the handle downloads, and once seeding begins, drains every
// remaining segment under the same retry rules.
func (w *Worker) convert(ctx context.Context, handle ports.Handle, srcPath string, duration float64, compatible bool, cfg Config) map[int]bool {
	total := int(math.Ceil(duration / cfg.SegmentDurationSec))
	processed := map[int]bool{}
	retries := map[int]*retryState{}
	failed := map[int]bool{}
	next := 0

	baseName := filepath.Base(srcPath)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		progress := handle.Progress()
		w.persistProgress(ctx, progress, baseName)
		w.attemptReady(ctx, srcPath, compatible, cfg, duration, progress, total, processed, retries, failed, &next)

		if handle.IsSeeding() || next >= total {
			break
		}

		select {
		case <-ctx.Done():
			return failed
		case <-ticker.C:
		}
	}

	// Drain: force remaining segments regardless of live progress, since the
	// swarm is now fully seeded and every byte is on disk.
	for next < total {
		if rs := retries[next]; rs != nil {
			select {
			case <-ctx.Done():
				return failed
			case <-time.After(time.Until(rs.nextAttempt)):
			}
		}
		w.attemptSegment(ctx, srcPath, compatible, next, processed, retries, failed, cfg)
		if processed[next] || failed[next] {
			next++
		}
	}

	return failed
}

func (w *Worker) attemptReady(ctx context.Context, srcPath string, compatible bool, cfg Config, duration float64, progress float64, total int, processed map[int]bool, retries map[int]*retryState, failed map[int]bool, next *int) {
	for *next < total {
		required := requiredProgress(*next, cfg.SegmentDurationSec, duration)
		if progress < required {
			return
		}
		if rs := retries[*next]; rs != nil && time.Now().Before(rs.nextAttempt) {
			return
		}
		w.attemptSegment(ctx, srcPath, compatible, *next, processed, retries, failed, cfg)
		if processed[*next] || failed[*next] {
			*next++
			continue
		}
		return
	}
}

func requiredProgress(n int, segmentDurationSec, totalDuration float64) float64 {
	if totalDuration <= 0 {
		return 100
	}
	return ((float64(n)+1)*segmentDurationSec/totalDuration)*100 + safetyMarginPct
}

func (w *Worker) attemptSegment(ctx context.Context, srcPath string, compatible bool, n int, processed map[int]bool, retries map[int]*retryState, failed map[int]bool, cfg Config) {
	if processed[n] || failed[n] {
		return
	}
	dst := w.Store.SegmentPath(w.MovieID, filepath.Base(srcPath), n)
	start := float64(n) * cfg.SegmentDurationSec

	extractStart := time.Now()
	result, err := w.Segmenter.ExtractSegment(ctx, srcPath, dst, start, cfg.SegmentDurationSec, compatible)
	metrics.PipelineSegmentExtractDuration.Observe(time.Since(extractStart).Seconds())

	if err == nil && result.Ok {
		metrics.PipelineSegmentExtractionsTotal.WithLabelValues("ok").Inc()
		processed[n] = true
		if n == 0 {
			w.markPlayable(ctx, filepath.Base(dst))
		}
		return
	}
	metrics.PipelineSegmentExtractionsTotal.WithLabelValues("retry").Inc()

	rs := retries[n]
	if rs == nil {
		rs = &retryState{}
		retries[n] = rs
	}
	rs.attempts++
	rs.nextAttempt = time.Now().Add(cfg.RetryCooldown)

	if rs.attempts >= cfg.MaxRetries {
		failed[n] = true
		metrics.PipelineSegmentExtractionsTotal.WithLabelValues("failed").Inc()
		w.logger().Warn("segment extraction exhausted retries", "movieId", w.MovieID, "segment", n)
	}
}

// markPlayable transitions the asset to PLAYABLE once segment 0 has landed,
// recording its filename as streamableRelPath (spec §4.4 step 5).
func (w *Worker) markPlayable(ctx context.Context, segmentZeroName string) {
	asset, err := w.Repo.Get(ctx, w.MovieID)
	if err != nil {
		return
	}
	if !domain.CanTransition(asset.Status, domain.StatusPlayable) {
		return
	}
	metrics.PipelineStageTransitionsTotal.WithLabelValues(string(asset.Status), string(domain.StatusPlayable)).Inc()
	asset.Status = domain.StatusPlayable
	asset.StreamableRelPath = segmentZeroName
	_ = w.Repo.Upsert(ctx, asset)
	w.publish(asset, 1)
}

// markDurationKnown transitions to DL_AND_CONVERT and records the probed
// total duration, which the required-progress formula needs from here on.
func (w *Worker) markDurationKnown(ctx context.Context, duration float64) {
	asset, err := w.Repo.Get(ctx, w.MovieID)
	if err != nil {
		return
	}
	if !domain.CanTransition(asset.Status, domain.StatusDLAndConvert) {
		return
	}
	metrics.PipelineStageTransitionsTotal.WithLabelValues(string(asset.Status), string(domain.StatusDLAndConvert)).Inc()
	asset.Status = domain.StatusDLAndConvert
	asset.TotalDuration = duration
	_ = w.Repo.Upsert(ctx, asset)
	w.publish(asset, 0)
}

// finish applies step 7's terminal rule: READY if nothing failed, PLAYABLE
// if at least segment 0 made it, ERROR otherwise.
func (w *Worker) finish(ctx context.Context, failed map[int]bool, baseName string) {
	asset, err := w.Repo.Get(ctx, w.MovieID)
	if err != nil {
		return
	}
	from := asset.Status
	switch {
	case len(failed) == 0:
		asset.Status = domain.StatusReady
	case asset.Status == domain.StatusPlayable:
		// at least segment 0 succeeded; stay PLAYABLE
	default:
		asset.Status = domain.StatusError
	}
	if asset.Status != from {
		metrics.PipelineStageTransitionsTotal.WithLabelValues(string(from), string(asset.Status)).Inc()
	}
	if asset.Status == domain.StatusError {
		metrics.PipelineAssetFailuresTotal.Inc()
	}
	asset.Progress = 100
	_ = w.Repo.Upsert(ctx, asset)
	n, _ := w.Store.ListSegments(w.MovieID, baseName)
	w.publish(asset, n)
}

func (w *Worker) setError(ctx context.Context) {
	asset, err := w.Repo.Get(ctx, w.MovieID)
	if err != nil {
		asset = domain.MovieAsset{MovieID: w.MovieID, MagnetURI: w.MagnetURI}
	}
	if asset.Status != domain.StatusError {
		metrics.PipelineStageTransitionsTotal.WithLabelValues(string(asset.Status), string(domain.StatusError)).Inc()
	}
	metrics.PipelineAssetFailuresTotal.Inc()
	asset.Status = domain.StatusError
	_ = w.Repo.Upsert(ctx, asset)
	w.publish(asset, 0)
}

func (w *Worker) publish(asset domain.MovieAsset, available int) {
	if w.OnSnapshot == nil {
		return
	}
	w.OnSnapshot(domain.AssetSnapshot{
		MovieID:            asset.MovieID,
		Status:             asset.Status,
		Progress:           asset.Progress,
		OriginalRelPath:    asset.OriginalRelPath,
		StreamableRelPath:  asset.StreamableRelPath,
		SegmentDurationSec: w.Config.SegmentDurationSec,
		TotalDuration:      asset.TotalDuration,
		AvailableSegments:  available,
	})
}
