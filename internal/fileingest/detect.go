package fileingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	audioExtensions = map[string]bool{".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".flac": true}
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true}
)

// DetectFileType classifies a file as "audio" or "video" from its content,
// falling back to the extension of name, the client-supplied file name.
func DetectFileType(path, name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, err := mimetype.DetectFile(path); err == nil {
		for m := mt; m != nil; m = m.Parent() {
			switch {
			case strings.HasPrefix(m.String(), "audio/"):
				return "audio", nil
			case strings.HasPrefix(m.String(), "video/"):
				// A WebM or MP4 container with only an audio track sniffs as video.
				if audioExtensions[ext] {
					return "audio", nil
				}
				return "video", nil
			}
		}
	}
	switch {
	case audioExtensions[ext]:
		return "audio", nil
	case videoExtensions[ext]:
		return "video", nil
	}
	return "", fmt.Errorf("unsupported file type %q", name)
}
