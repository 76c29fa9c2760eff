// Package ffmpeg builds and runs the segment-extraction command described
// in spec §4.2: a fixed-duration slice of the source, stream-copied when
// already browser-compatible and re-encoded to H.264/AAC otherwise.
package ffmpeg

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"torrentstream/internal/domain/ports"
)

// Segmenter shells out to ffmpeg. It implements ports.Segmenter.
type Segmenter struct {
	binary string
}

func New(binary string) *Segmenter {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Segmenter{binary: bin}
}

// segmentArgConfig holds the parameters needed to build an ffmpeg argument
// list for one segment extraction. Value type, no side effects — mirrors
// the streaming pipeline's own argument-builder idiom.
type segmentArgConfig struct {
	Input       string
	Output      string
	StartSec    float64
	DurationSec float64
	CopyStreams bool
}

// buildSegmentArgs constructs the ffmpeg argument list for extracting one
// fragmented-MP4 segment. Fragmentation lets a segment be served before
// ffmpeg has fully flushed its moov atom, and lets partial segments (from a
// killed process) still be probed for whatever duration was written.
func buildSegmentArgs(cfg segmentArgConfig) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-ss", strconv.FormatFloat(cfg.StartSec, 'f', 3, 64),
		"-i", cfg.Input,
		"-t", strconv.FormatFloat(cfg.DurationSec, 'f', 3, 64),
	}

	if cfg.CopyStreams {
		args = append(args, "-c", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
			"-c:a", "aac", "-b:a", "128k",
		)
	}

	args = append(args,
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		"-avoid_negative_ts", "make_zero",
		cfg.Output,
	)
	return args
}

func (s *Segmenter) ExtractSegment(ctx context.Context, srcPath, dstPath string, startSec, durationSec float64, copyStreams bool) (ports.ExtractResult, error) {
	args := buildSegmentArgs(segmentArgConfig{
		Input:       srcPath,
		Output:      dstPath,
		StartSec:    startSec,
		DurationSec: durationSec,
		CopyStreams: copyStreams,
	})

	cmd := exec.CommandContext(ctx, s.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return ports.ExtractResult{Ok: true}, nil
	}

	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		return ports.ExtractResult{
			Ok:       false,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
		}, nil
	}
	return ports.ExtractResult{}, err
}
