package voice

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// TranscodeToWAV converts a downloaded video or video-note track into the
// mono 16 kHz WAV the embedding engine expects. The codec work itself is
// delegated to ffmpeg; the source file is removed on success.
func TranscodeToWAV(ctx context.Context, source string) (string, error) {
	out, err := os.CreateTemp("", "voxguard_*.wav")
	if err != nil {
		return "", err
	}
	out.Close()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", source,
		"-ac", "1",
		"-ar", "16000",
		"-sample_fmt", "s16",
		out.Name(),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("ffmpeg failed: %w: %s", err, output)
	}

	os.Remove(source)
	return out.Name(), nil
}
