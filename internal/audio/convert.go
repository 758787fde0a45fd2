package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// FFMPEGConverter normalizes audio files to telephony WAV by delegating
// to an ffmpeg subprocess.
type FFMPEGConverter struct {
	command    string
	sampleRate int
	channels   int
	logger     *zap.Logger
}

func NewFFMPEGConverter(command string, sampleRate int, channels int, logger *zap.Logger) *FFMPEGConverter {
	if command == "" {
		command = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	if channels <= 0 {
		channels = 1
	}
	return &FFMPEGConverter{command: command, sampleRate: sampleRate, channels: channels, logger: logger}
}

// ToWAV converts src to a WAV file at the configured rate and channel
// count, next to the source. Files already in WAV form pass through.
func (c *FFMPEGConverter) ToWAV(ctx context.Context, src string) (string, error) {
	if strings.HasSuffix(strings.ToLower(src), ".wav") {
		return src, nil
	}

	dst := trimExt(src) + ".wav"
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-ar", strconv.Itoa(c.sampleRate),
		"-ac", strconv.Itoa(c.channels),
		"-f", "wav",
		dst,
		"-y",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return "", fmt.Errorf("converting %s: %w: %s", src, err, detail)
		}
		return "", fmt.Errorf("converting %s: %w", src, err)
	}

	c.logger.Debug("converted audio", zap.String("src", src), zap.String("dst", dst))
	return dst, nil
}

func trimExt(path string) string {
	if idx := strings.LastIndex(path, "."); idx > strings.LastIndex(path, "/") {
		return path[:idx]
	}
	return path
}
