// Copyright 2024-2026 Aiku AI

package media

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// FFmpegTranscoder shells out to ffmpeg for audio transcodes.
type FFmpegTranscoder struct {
	// Binary overrides the ffmpeg executable path. Empty means "ffmpeg"
	// from PATH.
	Binary string
	Log    zerolog.Logger
}

var _ Transcoder = (*FFmpegTranscoder)(nil)

// Convert runs a single ffmpeg invocation producing outputPath from
// inputPath according to the profile. Cancelling ctx kills the subprocess.
func (f *FFmpegTranscoder) Convert(ctx context.Context, inputPath, outputPath string, profile OutputProfile) error {
	binary := f.Binary
	if binary == "" {
		binary = "ffmpeg"
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(profile.Channels),
		"-ar", strconv.Itoa(profile.SampleRate),
		"-b:a", fmt.Sprintf("%dk", profile.BitrateKbps),
		"-c:a", profile.Codec,
		outputPath,
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w (output: %s)", err, tailLines(string(output), 5))
	}

	f.Log.Debug().
		Str("input", inputPath).
		Str("output", outputPath).
		Msg("ffmpeg transcode complete")
	return nil
}

// tailLines keeps the last n lines of ffmpeg output for error context.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
