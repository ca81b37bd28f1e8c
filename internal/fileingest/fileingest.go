// Package fileingest finds local media files and stages them into the upload directory.
package fileingest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileMeta holds metadata about a file to be ingested.
type FileMeta struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// DiscoverMediaFiles recursively finds audio and video files under rootDir,
// sorted by path. Hidden directories are skipped.
func DiscoverMediaFiles(ctx context.Context, rootDir string) ([]FileMeta, error) {
	var files []FileMeta
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != rootDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ext := strings.ToLower(filepath.Ext(d.Name())); !audioExtensions[ext] && !videoExtensions[ext] {
			return nil
		}
		meta, metaErr := ExtractFileMeta(path)
		if metaErr != nil || meta.Size == 0 {
			// unreadable or empty
			return nil
		}
		files = append(files, meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ExtractFileMeta extracts metadata from a given file path.
func ExtractFileMeta(path string) (FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{
		Path:    path,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Stage copies src into uploadDir under a fresh unique name keeping the
// lowercased extension, and returns the new path.
func Stage(src, uploadDir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(uploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(src)))
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}
