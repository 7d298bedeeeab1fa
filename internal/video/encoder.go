package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-lapse/internal/config"
)

// stderrTailSize bounds the encoder output kept for error messages.
const stderrTailSize = 2000

// EncodeRequest lists the frame files of one render in display order.
type EncodeRequest struct {
	FramePaths    []string
	FrameDuration float64 // seconds each frame is shown
	Output        string  // path of the mp4 to write
}

// Encoder turns still frames into a video file.
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) error
}

// FFmpegEncoder runs the ffmpeg concat demuxer over the frame list.
type FFmpegEncoder struct {
	path    string
	crf     int
	preset  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewFFmpegEncoder(path string, cfg config.VideoConfig, logger *slog.Logger) *FFmpegEncoder {
	if path == "" {
		path = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.EncodeTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	preset := cfg.Preset
	if preset == "" {
		preset = "medium"
	}
	crf := cfg.CRF
	if crf <= 0 {
		crf = 23
	}
	return &FFmpegEncoder{path: path, crf: crf, preset: preset, timeout: timeout, logger: logger}
}

func (e *FFmpegEncoder) Encode(ctx context.Context, req EncodeRequest) error {
	if len(req.FramePaths) == 0 {
		return errors.New("no frames to encode")
	}

	listPath := filepath.Join(filepath.Dir(req.Output), "frames.txt")
	if err := writeConcatList(listPath, req.FramePaths, req.FrameDuration); err != nil {
		return err
	}
	defer os.Remove(listPath)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := e.buildArgs(listPath, req.Output)
	cmd := exec.CommandContext(ctx, e.path, args...)
	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ffmpeg timed out after %v", e.timeout)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg canceled: %w", ctx.Err())
		}
		e.logger.Error("ffmpeg failed", "command", e.path+" "+strings.Join(args, " "), "stderr", stderr.String())
		return fmt.Errorf("ffmpeg failed: %w: %s", err, stderr.String())
	}
	e.logger.Debug("ffmpeg finished", "frames", len(req.FramePaths), "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (e *FFmpegEncoder) buildArgs(listPath, output string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", "format=yuv420p",
		"-c:v", "libx264",
		"-preset", e.preset,
		"-crf", strconv.Itoa(e.crf),
		"-movflags", "+faststart",
		output,
	}
}

// writeConcatList writes the demuxer script; the last frame is listed twice
// so that its duration is honoured.
func writeConcatList(path string, frames []string, frameDuration float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	w := bufio.NewWriter(f)
	duration := strconv.FormatFloat(frameDuration, 'f', -1, 64)
	for _, frame := range frames {
		fmt.Fprintf(w, "file %s\nduration %s\n", quoteConcatPath(frame), duration)
	}
	fmt.Fprintf(w, "file %s\n", quoteConcatPath(frames[len(frames)-1]))

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	return f.Close()
}

func quoteConcatPath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
