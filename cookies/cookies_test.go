package cookies

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jar = "# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\tTRUE\t0\tPREF\tf1=1\n"

func TestNamedPath(t *testing.T) {
	store := NewStore("/data")
	tests := []struct {
		name string
		want string
	}{
		{"youtube", "/data/cookies/youtube.txt"},
		{"../../etc/passwd", "/data/cookies/etcpasswd.txt"},
		{"my profile.txt", "/data/cookies/myprofiletxt.txt"},
		{"...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.NamedPath(tt.name))
		})
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	assert.Empty(t, store.Resolve("", ""))
	assert.Equal(t, "/explicit.txt", store.Resolve(" /explicit.txt ", "yt"))

	_, err := store.Write("", strings.NewReader(jar))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultFileName), store.Resolve("", "missing"))

	_, err = store.Write("yt", strings.NewReader(jar))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, NamedDir, "yt.txt"), store.Resolve("", "yt"))
}

func TestWriteStatusDelete(t *testing.T) {
	store := NewStore(t.TempDir())

	status, err := store.Status("")
	require.NoError(t, err)
	assert.False(t, status.Exists)

	status, err = store.Write("", strings.NewReader(jar))
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.Equal(t, int64(len(jar)), status.Size)
	require.NotNil(t, status.ModTime)

	info, err := os.Stat(status.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Delete(""))
	assert.ErrorIs(t, store.Delete(""), ErrCookiesNotFound)
}

func TestWriteRejects(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Write("", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = store.Write("", strings.NewReader(strings.Repeat("a", MaxFileSize+1)))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = store.Write("../", strings.NewReader(jar))
	assert.ErrorIs(t, err, ErrInvalidName)
}
