package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"torrentstream/internal/domain"
)

// Prober shells out to ffprobe to inspect a media file's container and
// codecs (spec §4.2). It implements ports.MediaProbe.
type Prober struct {
	binary string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

const maxProbeTimeout = 30 * time.Second

func (p *Prober) Probe(ctx context.Context, path string) (domain.MediaInfo, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.MediaInfo{}, errors.New("file path is required")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-probesize", "100M",
		"-analyzeduration", "100M",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	info, parseErr := parseProbeOutput(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return domain.MediaInfo{}, wrapStderr(runErr, stderr.String())
		}
		return domain.MediaInfo{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}

	// A partially downloaded file can still yield usable stream metadata
	// even when ffprobe exits non-zero. Keep it if we have it.
	if runErr != nil && len(info.Tracks) == 0 {
		return domain.MediaInfo{}, wrapStderr(runErr, stderr.String())
	}

	return info, nil
}

func wrapStderr(runErr error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return fmt.Errorf("ffprobe failed: %w", runErr)
	}
	return fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

type probeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

func parseProbeOutput(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, err
	}

	tracks := make([]domain.MediaTrack, 0, len(payload.Streams))
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video", "audio", "subtitle":
			tracks = append(tracks, domain.MediaTrack{
				Type:  stream.CodecType,
				Codec: stream.CodecName,
			})
		}
	}

	var duration float64
	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
			duration = d
		}
	}

	return domain.MediaInfo{
		Container: containerFromFormatName(payload.Format.FormatName),
		Duration:  duration,
		Tracks:    tracks,
	}, nil
}

// containerFromFormatName reduces ffprobe's comma-separated format_name
// (e.g. "mov,mp4,m4a,3gp,3g2,mj2") to the single name the browser
// compatibility check in ports.IsBrowserCompatible looks for.
func containerFromFormatName(formatName string) string {
	for _, name := range strings.Split(formatName, ",") {
		if name == "mp4" {
			return "mp4"
		}
	}
	parts := strings.SplitN(formatName, ",", 2)
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(parts[0])
}
