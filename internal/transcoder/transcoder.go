// Package transcoder wraps ffmpeg and ffprobe for audio normalisation,
// probing and slicing.
package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"skald/internal/models"
	"skald/internal/planner"
)

// Recognizer-friendly WAV: 16 kHz, mono, 16-bit PCM.
const (
	sampleRate = "16000"
	channels   = "1"
	codec      = "pcm_s16le"

	// wavHeaderSize is the size of a WAV file with no samples.
	wavHeaderSize = 44
)

// CommandResult is the captured output of one process run.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Transcoder runs ffmpeg/ffprobe.
type Transcoder struct {
	runner      CommandRunner
	ffmpegPath  string
	ffprobePath string
}

func New(runner CommandRunner, ffmpegPath, ffprobePath string) *Transcoder {
	if runner == nil {
		runner = ExecRunner{}
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Transcoder{runner: runner, ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Normalize converts input to a recognizer-compatible WAV in outDir and
// returns the new path. The input file is left untouched.
func (t *Transcoder) Normalize(ctx context.Context, input, outDir string) (string, error) {
	if _, err := os.Stat(input); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInput, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out := filepath.Join(outDir, base+"_converted.wav")
	if out == input {
		out = filepath.Join(outDir, base+"_converted_1.wav")
	}

	args := append([]string{"-y", "-i", input}, wavArgs()...)
	args = append(args, out)
	if res, err := t.runner.Run(ctx, t.ffmpegPath, args...); err != nil {
		return "", fmt.Errorf("ffmpeg normalize %s: %w: %s", filepath.Base(input), err, lastLine(res.Stderr))
	}
	if !nonEmptyAudio(out) {
		return "", fmt.Errorf("ffmpeg normalize %s: no audio written", filepath.Base(input))
	}
	return out, nil
}

// Duration returns the length of path in seconds, or 0 when it cannot be determined.
func (t *Transcoder) Duration(ctx context.Context, path string) float64 {
	res, err := t.runner.Run(ctx, t.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("ffprobe failed")
		return 0
	}
	raw := strings.TrimSpace(res.Stdout)
	if raw == "" || raw == "N/A" {
		return 0
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d < 0 {
		log.WithField("output", raw).Warn("ffprobe returned an unusable duration")
		return 0
	}
	return d
}

// Split plans and cuts path into segments of segmentLength seconds, inflating
// the length when more than maxSegments would be needed.
func (t *Transcoder) Split(ctx context.Context, path, outDir string, segmentLength float64, maxSegments int) ([]string, error) {
	duration := t.Duration(ctx, path)
	plan := planner.Plan(duration, segmentLength, maxSegments)
	if plan == nil {
		return nil, fmt.Errorf("cannot plan segments for %s (duration %.2fs)", filepath.Base(path), duration)
	}
	return t.SplitPlan(ctx, path, outDir, plan)
}

// SplitPlan cuts path along plan into outDir. Segments ffmpeg cannot produce,
// or that come out empty, are skipped; the returned paths keep plan order.
func (t *Transcoder) SplitPlan(ctx context.Context, path, outDir string, plan []planner.Segment) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}

	paths := make([]string, 0, len(plan))
	for _, seg := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := filepath.Join(outDir, fmt.Sprintf("segment_%03d.wav", seg.Index))
		args := []string{
			"-y", "-i", path,
			"-ss", formatSeconds(seg.Start),
			"-t", formatSeconds(seg.Length),
		}
		args = append(args, wavArgs()...)
		args = append(args, out)

		logger := log.WithFields(log.Fields{"segment": seg.Index, "start": seg.Start, "length": seg.Length})
		if res, err := t.runner.Run(ctx, t.ffmpegPath, args...); err != nil {
			logger.WithError(err).Warnf("Skipping segment: %s", lastLine(res.Stderr))
			continue
		}
		if !nonEmptyAudio(out) {
			logger.Debug("Skipping empty segment")
			_ = os.Remove(out)
			continue
		}
		paths = append(paths, out)
	}
	log.Debugf("Created %d/%d segments", len(paths), len(plan))
	return paths, nil
}

// Version returns the first line of `ffmpeg -version`, or "" when ffmpeg cannot be run.
func (t *Transcoder) Version(ctx context.Context) string {
	res, err := t.runner.Run(ctx, t.ffmpegPath, "-hide_banner", "-version")
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(res.Stdout)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return line
}

func wavArgs() []string {
	return []string{"-vn", "-acodec", codec, "-ar", sampleRate, "-ac", channels}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func nonEmptyAudio(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Size() > wavHeaderSize
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
