package fileingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestDiscoverMediaFiles(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "b.MP3"), "x")
	write(t, filepath.Join(root, "nested", "a.webm"), "x")
	write(t, filepath.Join(root, "notes.md"), "x")
	write(t, filepath.Join(root, "empty.wav"), "")
	write(t, filepath.Join(root, ".cache", "c.wav"), "x")

	files, err := DiscoverMediaFiles(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b.MP3", files[0].Name)
	assert.Equal(t, filepath.Join(root, "nested", "a.webm"), files[1].Path)
	assert.EqualValues(t, 1, files[1].Size)
}

func TestDiscoverMediaFiles_MissingRoot(t *testing.T) {
	_, err := DiscoverMediaFiles(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestStage(t *testing.T) {
	src := filepath.Join(t.TempDir(), "Talk.M4A")
	write(t, src, "audio-bytes")
	uploads := filepath.Join(t.TempDir(), "uploads")

	dst, err := Stage(src, uploads)
	require.NoError(t, err)
	assert.Equal(t, uploads, filepath.Dir(dst))
	assert.Equal(t, ".m4a", filepath.Ext(dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))

	_, err = Stage(filepath.Join(t.TempDir(), "missing.wav"), uploads)
	assert.Error(t, err)
}

var wavHeader = append([]byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x80\x3e\x00\x00\x00\x7d\x00\x00\x02\x00\x10\x00data\x00\x00\x00\x00"), make([]byte, 64)...)

func TestDetectFileType(t *testing.T) {
	dir := t.TempDir()
	wav := filepath.Join(dir, "x.bin")
	require.NoError(t, os.WriteFile(wav, wavHeader, 0o644))
	typ, err := DetectFileType(wav, "recording")
	require.NoError(t, err)
	assert.Equal(t, "audio", typ)

	unknown := filepath.Join(dir, "y.bin")
	require.NoError(t, os.WriteFile(unknown, []byte{0x00, 0x01, 0x02}, 0o644))
	typ, err = DetectFileType(unknown, "clip.MOV")
	require.NoError(t, err)
	assert.Equal(t, "video", typ)

	_, err = DetectFileType(unknown, "archive.zip")
	assert.Error(t, err)
}
