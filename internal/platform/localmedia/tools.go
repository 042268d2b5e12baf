package localmedia

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nexston/bekola-backend/internal/platform/ctxutil"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

// Tools wraps the ffmpeg and ffprobe binaries. Calls are synchronous and
// belong in workers, not request handlers.
type Tools struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string

	defaultTimeout time.Duration
}

type Options struct {
	FFmpegPath  string        `yaml:"ffmpeg_path"`
	FFprobePath string        `yaml:"ffprobe_path"`
	Timeout     time.Duration `yaml:"timeout"`
}

func New(log *logger.Logger, opts Options) *Tools {
	t := &Tools{
		log:            log.With("service", "MediaTools"),
		ffmpegPath:     strings.TrimSpace(opts.FFmpegPath),
		ffprobePath:    strings.TrimSpace(opts.FFprobePath),
		defaultTimeout: opts.Timeout,
	}
	if t.ffmpegPath == "" {
		t.ffmpegPath = "ffmpeg"
	}
	if t.ffprobePath == "" {
		t.ffprobePath = "ffprobe"
	}
	if t.defaultTimeout <= 0 {
		t.defaultTimeout = 2 * time.Hour
	}
	return t
}

func (m *Tools) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	return nil
}

// Probe returns the container duration in seconds.
func (m *Tools) Probe(ctx context.Context, path string) (float64, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	res, err := Inspect(ctx, m.ffprobePath, path)
	if err != nil {
		return 0, err
	}
	d := res.DurationSeconds()
	if math.IsNaN(d) || d <= 0 {
		return 0, fmt.Errorf("ffprobe reported no usable duration for %s", filepath.Base(path))
	}
	return d, nil
}

// HLSResult is the output of ConvertToHLS.
type HLSResult struct {
	PlaylistPath string
	// Log is the tail of ffmpeg's stderr.
	Log string
}

const (
	PlaylistName   = "playlist.m3u8"
	segmentPattern = "segment_%03d.ts"
	maxLogBytes    = 16 << 10
)

// HLSArgs builds the ffmpeg argument list for a single-rendition HLS ladder
// with machine-readable progress on stdout.
func HLSArgs(input, outDir string) []string {
	return []string{
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "aac",
		"-hls_time", "4",
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(outDir, segmentPattern),
		"-progress", "pipe:1",
		"-nostats",
		filepath.Join(outDir, PlaylistName),
	}
}

// ConvertToHLS transcodes input into outDir. onProgress receives the encoded
// media time as ffmpeg reports it; it may be nil.
func (m *Tools) ConvertToHLS(ctx context.Context, input, outDir string, onProgress func(ProgressUpdate)) (HLSResult, error) {
	ctx = ctxutil.Default(ctx)
	if input == "" {
		return HLSResult{}, fmt.Errorf("input path required")
	}
	if outDir == "" {
		return HLSResult{}, fmt.Errorf("outDir required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return HLSResult{}, fmt.Errorf("mkdir outDir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffmpegPath, HLSArgs(input, outDir)...)
	stderr := &tailBuffer{max: maxLogBytes}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return HLSResult{}, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return HLSResult{}, fmt.Errorf("start ffmpeg: %w", err)
	}

	consumeProgress(stdout, onProgress)

	res := HLSResult{PlaylistPath: filepath.Join(outDir, PlaylistName)}
	waitErr := cmd.Wait()
	res.Log = stderr.String()
	if waitErr != nil {
		return res, fmt.Errorf("ffmpeg hls failed: %w; out=%s", waitErr, lastLines(res.Log, 5))
	}
	if _, err := os.Stat(res.PlaylistPath); err != nil {
		return res, fmt.Errorf("playlist missing at %s", res.PlaylistPath)
	}
	return res, nil
}

func consumeProgress(r io.Reader, onProgress func(ProgressUpdate)) {
	var p ProgressParser
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		upd, ok := p.Feed(sc.Text())
		if ok && onProgress != nil {
			onProgress(upd)
		}
	}
	// Drain whatever is left so ffmpeg never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, _ := b.buf.Write(p)
	if over := b.buf.Len() - b.max; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
