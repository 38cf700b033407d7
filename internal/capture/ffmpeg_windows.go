//go:build windows

package capture

import "strconv"

// buildFFmpegCaptureArgs constructs FFmpeg arguments for mono audio capture
// on Windows. -nostdin is NOT used here so the process can still be shut
// down gracefully via console input.
func buildFFmpegCaptureArgs(inputFormat, device string, sampleRate int) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	}
}
