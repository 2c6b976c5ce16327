package hlsinput

import (
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestSaveFilesMirrorsSegmentBytes(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewSaveFiles(fs, "/mirror", 0, nil)

	rc := s.Wrap(io.NopCloser(strings.NewReader("hello segment")), "https://example.com/seg1.ts")
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello segment", string(data))
	require.NoError(t, rc.Close())

	entries, err := afero.ReadDir(fs, "/mirror")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), "seg1.ts")

	mirrored, err := afero.ReadFile(fs, "/mirror/"+entries[0].Name())
	require.NoError(t, err)
	require.Equal(t, "hello segment", string(mirrored))
}

func TestSaveFilesEvictsOldestOnceOverBudget(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewSaveFiles(fs, "/mirror", 10, nil)

	for i, body := range []string{"0123456789", "abcdefghij"} {
		rc := s.Wrap(io.NopCloser(strings.NewReader(body)), "seg.ts")
		_, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		_ = i
	}

	entries, err := afero.ReadDir(fs, "/mirror")
	require.NoError(t, err)
	require.Len(t, entries, 1, "budget of 10 bytes should keep only the most recent 10-byte segment")
}
