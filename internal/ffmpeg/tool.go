package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	probeTimeout = 30 * time.Second
)

// ToolConfig holds the subprocess driver's configuration.
type ToolConfig struct {
	FFmpegPath  string // path to ffmpeg binary; empty = PATH lookup
	FFprobePath string // path to ffprobe binary; empty = PATH lookup
	Logger      *slog.Logger
}

// Tool is the production FFmpeg implementation backed by the external
// ffmpeg/ffprobe binaries.
type Tool struct {
	cfg     ToolConfig
	ffmpeg  string // resolved ffmpeg path
	ffprobe string // resolved ffprobe path
}

// NewTool creates a Tool, resolving both binaries up front so a missing
// installation surfaces at startup rather than mid-export.
func NewTool(cfg ToolConfig) (*Tool, error) {
	ffmpegBin, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobeBin, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("encoder tools resolved", "ffmpeg", ffmpegBin, "ffprobe", ffprobeBin)
	}
	return &Tool{cfg: cfg, ffmpeg: ffmpegBin, ffprobe: ffprobeBin}, nil
}

// probeOutput mirrors the ffprobe -of json structure we ask for.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

func (t *Tool) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64)
	if err != nil || duration <= 0 {
		return nil, fmt.Errorf("no usable duration for %s", filepath.Base(path))
	}

	result := &ProbeResult{Duration: duration}
	for _, s := range parsed.Streams {
		if s.CodecType == "audio" {
			result.HasAudio = true
		}
	}
	return result, nil
}

func (t *Tool) SpriteSheet(ctx context.Context, path string, duration float64, outPath string) error {
	if duration <= 0 {
		return fmt.Errorf("cannot sample sprite frames: duration %.3f", duration)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("cannot create sprite dir: %w", err)
	}

	result := t.run(ctx, nil, []string{
		"-y",
		"-i", path,
		"-vf", spriteFilter(duration),
		"-frames:v", "1",
		"-q:v", "3",
		outPath,
	})
	if !result.IsSuccess() {
		return &EncodeError{ExitCode: result.ExitCode, StderrTail: truncate(result.StderrTail, 512)}
	}
	return nil
}

func (t *Tool) TranscodeSegment(ctx context.Context, spec SegmentSpec) error {
	if err := os.MkdirAll(filepath.Dir(spec.Output), 0755); err != nil {
		return fmt.Errorf("cannot create segment dir: %w", err)
	}

	result := t.run(ctx, nil, segmentArgs(spec))
	if !result.IsSuccess() {
		return &EncodeError{ExitCode: result.ExitCode, StderrTail: truncate(result.StderrTail, 512)}
	}
	return nil
}

func (t *Tool) Mux(ctx context.Context, spec MuxSpec, onProgress func(float64)) error {
	if err := os.MkdirAll(filepath.Dir(spec.Output), 0755); err != nil {
		return fmt.Errorf("cannot create output dir: %w", err)
	}

	var args []string
	switch {
	case len(spec.Segments) == 1:
		args = singleArgs(spec)
	case spec.Transition == "cut" || XfadeName(spec.Transition) == "":
		listPath := spec.Output + ".ffconcat"
		if err := os.WriteFile(listPath, []byte(concatList(spec.Segments)), 0644); err != nil {
			return fmt.Errorf("cannot write concat list: %w", err)
		}
		defer os.Remove(listPath)
		args = cutArgs(spec, listPath)
	default:
		args = xfadeArgs(spec)
	}

	var progress func(string)
	if onProgress != nil && spec.TotalDuration > 0 {
		progress = func(line string) {
			frac, ok := parseProgressLine(line, spec.TotalDuration)
			if ok {
				onProgress(frac)
			}
		}
	}

	result := t.run(ctx, progress, args)
	if !result.IsSuccess() {
		return &EncodeError{ExitCode: result.ExitCode, StderrTail: truncate(result.StderrTail, 512)}
	}
	return nil
}

// run is the core subprocess execution helper. onLine, when set,
// receives each stdout line of ffmpeg's -progress stream.
func (t *Tool) run(ctx context.Context, onLine func(string), args []string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, t.ffmpeg, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	var stdout io.ReadCloser
	if onLine != nil {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
		stdout = pipe
	} else {
		cmd.Stdout = io.Discard
	}

	if t.cfg.Logger != nil {
		t.cfg.Logger.Debug("executing ffmpeg", "args", args)
	}

	if err := cmd.Start(); err != nil {
		return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
	}

	if stdout != nil {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			onLine(strings.TrimSpace(scanner.Text()))
		}
	}

	err := cmd.Wait()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 && t.cfg.Logger != nil {
		t.cfg.Logger.Warn("ffmpeg command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	}

	return RunResult{ExitCode: exitCode, StderrTail: stderrTail, Duration: elapsed}
}

// parseProgressLine extracts the out_time_us counter from ffmpeg's
// -progress stream and converts it to a fraction of total.
func parseProgressLine(line string, total float64) (float64, bool) {
	const prefix = "out_time_us="
	if !strings.HasPrefix(line, prefix) {
		return 0, false
	}
	us, err := strconv.ParseInt(strings.TrimPrefix(line, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	frac := float64(us) / 1e6 / total
	if frac > 1.0 {
		frac = 1.0
	}
	if frac < 0 {
		frac = 0
	}
	return frac, true
}

// resolveBinary finds a usable binary path.
func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
