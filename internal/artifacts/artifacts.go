// Package artifacts stores the files a job leaves behind under the downloads
// directory: the normalised audio, the transcript and converted files.
package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"skald/internal/models"
)

const (
	AudioDir     = "audio"
	TextDir      = "text"
	ConvertedDir = "converted"

	// MicrophoneRecording is the upload name browsers use for live recordings.
	MicrophoneRecording = "microphone-recording.wav"

	timestampLayout = "2006-01-02-15-04-05"
)

// FileStore writes artifacts below root and hands out paths relative to it.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) Root() string { return s.root }

// BaseName is the file stem used for a job's artifacts. Microphone recordings
// are named after the browser timestamp, or the creation time without one.
func BaseName(info models.JobInfo) string {
	if info.OriginalName == MicrophoneRecording {
		if info.BrowserTime != "" {
			return sanitize(info.BrowserTime) + "-recording"
		}
		created := info.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		return created.Format(timestampLayout) + "-recording"
	}
	name := filepath.Base(info.OriginalName)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = info.ID
	}
	return sanitize(stem)
}

// SaveAudio copies src into audio/ and returns the relative path.
func (s *FileStore) SaveAudio(info models.JobInfo, src string) (string, error) {
	return s.copyInto(AudioDir, info, filepath.Ext(src), src)
}

// SaveConverted copies src into converted/ and returns the relative path.
func (s *FileStore) SaveConverted(info models.JobInfo, src string) (string, error) {
	return s.copyInto(ConvertedDir, info, filepath.Ext(src), src)
}

// SaveTranscript writes text into text/ and returns the relative path.
func (s *FileStore) SaveTranscript(info models.JobInfo, text string) (string, error) {
	rel, abs, err := s.target(TextDir, info, ".txt")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return rel, nil
}

// Path resolves a relative artifact path, refusing anything outside root.
func (s *FileStore) Path(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty artifact path", models.ErrValidation)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: artifact path %q escapes the downloads directory", models.ErrValidation, rel)
	}
	return filepath.Join(s.root, clean), nil
}

// Remove deletes a relative artifact. A missing file is not an error.
func (s *FileStore) Remove(rel string) error {
	abs, err := s.Path(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// target picks a free file name in dir. A name already taken by another job
// gets the job id appended.
func (s *FileStore) target(dir string, info models.JobInfo, ext string) (rel, abs string, err error) {
	if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
		return "", "", fmt.Errorf("create %s dir: %w", dir, err)
	}
	name := BaseName(info) + ext
	abs = filepath.Join(s.root, dir, name)
	if _, statErr := os.Stat(abs); statErr == nil && info.ID != "" {
		name = BaseName(info) + "-" + shortID(info.ID) + ext
		abs = filepath.Join(s.root, dir, name)
	}
	return filepath.ToSlash(filepath.Join(dir, name)), abs, nil
}

func (s *FileStore) copyInto(dir string, info models.JobInfo, ext, src string) (string, error) {
	rel, abs, err := s.target(dir, info, ext)
	if err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInput, err)
	}
	defer in.Close()

	out, err := os.Create(abs)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", rel, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(abs)
		return "", fmt.Errorf("copy to %s: %w", rel, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", rel, err)
	}
	return rel, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
}
