// Copyright 2024-2026 Aiku AI

// Package media converts message payloads between the formats the two
// platforms accept. Every conversion runs inside its own scoped temporary
// directory which is removed on all exit paths, and transcodes are bounded
// by a worker queue so they stay off the message dispatch path.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// OutputProfile is a fixed transcode target.
type OutputProfile struct {
	Container   string
	Codec       string
	Channels    int
	SampleRate  int
	BitrateKbps int
}

// VoiceNoteProfile matches the destination's voice-note constraints:
// single channel opus in an OGG container at 44.1 kHz.
var VoiceNoteProfile = OutputProfile{
	Container:   "ogg",
	Codec:       "libopus",
	Channels:    1,
	SampleRate:  44100,
	BitrateKbps: 64,
}

// AudioMP3Profile is the source-friendly audio target for the reverse
// direction.
var AudioMP3Profile = OutputProfile{
	Container:   "mp3",
	Codec:       "libmp3lame",
	Channels:    1,
	SampleRate:  44100,
	BitrateKbps: 128,
}

// ConversionError wraps a transcode failure.
type ConversionError struct {
	Profile OutputProfile
	Err     error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion to %s/%s failed: %v", e.Profile.Container, e.Profile.Codec, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Transcoder runs an external media transcode between two files.
type Transcoder interface {
	Convert(ctx context.Context, inputPath, outputPath string, profile OutputProfile) error
}

// Converter manages scoped temporary files around a Transcoder.
type Converter struct {
	transcoder Transcoder
	baseDir    string
	log        zerolog.Logger
}

// NewConverter creates the converter's base temp directory. Close removes it.
func NewConverter(transcoder Transcoder, baseDir string, log zerolog.Logger) (*Converter, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "topicbridge")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create temp dir %s: %w", baseDir, err)
	}
	return &Converter{
		transcoder: transcoder,
		baseDir:    baseDir,
		log:        log.With().Str("component", "media_converter").Logger(),
	}, nil
}

// ConvertAudio transcodes the input bytes to the profile and returns the
// result. The scoped temp directory is deleted on success, failure and
// cancellation alike; no partial files survive.
func (c *Converter) ConvertAudio(ctx context.Context, input []byte, profile OutputProfile) ([]byte, error) {
	dir, err := os.MkdirTemp(c.baseDir, "conv-")
	if err != nil {
		return nil, &ConversionError{Profile: profile, Err: fmt.Errorf("failed to create scoped dir: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			c.log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove scoped temp dir")
		}
	}()

	inputPath := filepath.Join(dir, "input"+mimetype.Detect(input).Extension())
	outputPath := filepath.Join(dir, "output."+profile.Container)

	if err := os.WriteFile(inputPath, input, 0o600); err != nil {
		return nil, &ConversionError{Profile: profile, Err: fmt.Errorf("failed to write input: %w", err)}
	}

	if err := c.transcoder.Convert(ctx, inputPath, outputPath, profile); err != nil {
		return nil, &ConversionError{Profile: profile, Err: err}
	}

	output, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, &ConversionError{Profile: profile, Err: fmt.Errorf("failed to read output: %w", err)}
	}

	c.log.Debug().
		Int("input_bytes", len(input)).
		Int("output_bytes", len(output)).
		Str("container", profile.Container).
		Msg("Converted audio")
	return output, nil
}

// Close removes the converter's base temp directory and everything in it.
func (c *Converter) Close() error {
	return os.RemoveAll(c.baseDir)
}

// BaseDir returns the converter's temp directory root.
func (c *Converter) BaseDir() string {
	return c.baseDir
}
