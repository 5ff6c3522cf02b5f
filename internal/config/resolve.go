package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Binaries holds the resolved analyzer tool paths.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// ResolveAnalyzer locates the ffmpeg and ffprobe binaries.
//
// Resolution order for ffmpeg:
//  1. Explicit analyzer.command
//  2. PATH lookup
//
// ffprobe is derived from the ffmpeg directory when ffmpeg was given as a
// concrete path, otherwise resolved from PATH. A missing binary is fatal for
// the run (ErrToolMissing).
func ResolveAnalyzer(cfg AnalyzerConfig) (Binaries, error) {
	ffmpeg := strings.TrimSpace(cfg.Command)
	if ffmpeg == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return Binaries{}, fmt.Errorf("%w: ffmpeg not in PATH: %v", ErrToolMissing, err)
		}
		ffmpeg = path
	} else if _, err := os.Stat(ffmpeg); err != nil {
		return Binaries{}, fmt.Errorf("%w: analyzer.command %q: %v", ErrToolMissing, ffmpeg, err)
	}

	ffprobe := deriveFFprobe(ffmpeg)
	if ffprobe == "" {
		path, err := exec.LookPath("ffprobe")
		if err != nil {
			return Binaries{}, fmt.Errorf("%w: ffprobe not in PATH: %v", ErrToolMissing, err)
		}
		ffprobe = path
	}

	return Binaries{FFmpeg: ffmpeg, FFprobe: ffprobe}, nil
}

// deriveFFprobe maps .../ffmpeg to a sibling .../ffprobe when it exists.
// A bare "ffmpeg" (PATH lookup result of the same name) is not guessed from.
func deriveFFprobe(ffmpegBin string) string {
	if !strings.ContainsRune(ffmpegBin, os.PathSeparator) {
		return ""
	}
	base := filepath.Base(ffmpegBin)
	if base != "ffmpeg" && base != "ffmpeg.exe" {
		return ""
	}
	name := strings.Replace(base, "ffmpeg", "ffprobe", 1)
	candidate := filepath.Join(filepath.Dir(ffmpegBin), name)
	if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
		return candidate
	}
	return ""
}
