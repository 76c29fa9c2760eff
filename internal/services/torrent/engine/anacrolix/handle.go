package anacrolix

import (
	"io"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"torrentstream/internal/domain"
)

// pumpReadahead bounds how far ahead of the current read position the
// sequential pump asks anacrolix to prioritize. Large enough to keep a
// slow swarm saturated, small enough not to waste bandwidth on pieces the
// pipeline will reach long after they would already be needed.
const pumpReadahead = 32 << 20 // 32 MiB

// Handle wraps one admitted *torrent.Torrent (spec §4.3). It implements
// ports.Handle.
type Handle struct {
	id      domain.HandleID
	torrent *torrent.Torrent

	mu          sync.Mutex
	selected    *torrent.File
	pumpCancel  func()
	addedAt     time.Time
}

func newHandle(id domain.HandleID, t *torrent.Torrent) *Handle {
	return &Handle{id: id, torrent: t, addedAt: time.Now().UTC()}
}

func (h *Handle) ID() domain.HandleID {
	return h.id
}

func (h *Handle) HasMetadata() bool {
	if h.torrent == nil {
		return false
	}
	select {
	case <-h.torrent.GotInfo():
		return true
	default:
		return false
	}
}

func (h *Handle) Files() []domain.FileRef {
	if !h.HasMetadata() {
		return nil
	}
	files := h.torrent.Files()
	out := make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		out = append(out, domain.FileRef{Index: i, Path: f.Path(), Length: f.Length()})
	}
	return out
}

// SelectFile marks file as the streaming target: it enables sequential
// download by driving a readahead pump that continuously advances a torrent
// reader from the start of the file, which makes anacrolix prioritize
// pieces in playback order instead of its default rarest-first scheduling
// (spec §4.3, invariant I4 — Progress must be monotonic within a download
// phase, which requires pieces to complete roughly in file order).
func (h *Handle) SelectFile(file domain.FileRef) error {
	if !h.HasMetadata() {
		return domain.ErrSwarm
	}
	files := h.torrent.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return domain.ErrNotFound
	}
	f := files[file.Index]

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.selected == f {
		return nil
	}
	if h.pumpCancel != nil {
		h.pumpCancel()
	}
	h.selected = f
	f.SetPriority(torrent.PiecePriorityHigh)

	stop := make(chan struct{})
	h.pumpCancel = sync.OnceFunc(func() { close(stop) })
	go pumpSequential(f, stop)
	return nil
}

// pumpSequential reads file from the beginning to the end, discarding
// bytes, so the underlying torrent.Reader keeps requesting pieces in file
// order. It exits once the file is fully read or stop fires.
func pumpSequential(f *torrent.File, stop <-chan struct{}) {
	r := f.NewReader()
	defer r.Close()
	r.SetReadahead(pumpReadahead)
	r.SetResponsive()

	buf := make([]byte, 1<<20)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := r.Read(buf)
		_ = n
		if err != nil {
			if err == io.EOF {
				return
			}
			return
		}
	}
}

func (h *Handle) Progress() float64 {
	h.mu.Lock()
	f := h.selected
	h.mu.Unlock()
	if f == nil {
		return 0
	}
	length := f.Length()
	if length <= 0 {
		return 0
	}
	completed := f.BytesCompleted()
	if completed > length {
		completed = length
	}
	return float64(completed) / float64(length) * 100
}

func (h *Handle) IsSeeding() bool {
	h.mu.Lock()
	f := h.selected
	h.mu.Unlock()
	if f == nil {
		return false
	}
	return f.BytesCompleted() >= f.Length() && f.Length() > 0
}

func (h *Handle) ActiveTimeSeconds() float64 {
	return time.Since(h.addedAt).Seconds()
}

func (h *Handle) close() {
	h.mu.Lock()
	if h.pumpCancel != nil {
		h.pumpCancel()
	}
	t := h.torrent
	h.mu.Unlock()
	if t != nil {
		t.Drop()
	}
}
