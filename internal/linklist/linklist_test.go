package linklist

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeWritesHeaderAndRows(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []string{"https://example.com/a", "https://example.com/b,c"}))
	require.Equal(t, "Links\nhttps://example.com/a\n\"https://example.com/b,c\"\n", buf.String())
}

func TestDecodeSkipsHeaderAndBlankRows(t *testing.T) {
	t.Parallel()

	links, err := Decode(strings.NewReader("Links\nhttps://example.com/a\n\n https://example.com/b \n"))
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, links)
}

func TestReadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Read(filepath.Join(t.TempDir(), "missing.csv"))
	require.True(t, errors.Is(err, ErrNotExist))
}

func TestWriteThenReadPreservesOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "task.csv")
	want := []string{"https://example.com/z", "https://example.com/a", "https://example.com/m"}
	require.NoError(t, Write(path, want))

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestWriteEmptyListStillHasHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, Write(path, nil))
	got, err := Read(path)
	require.NoError(t, err)
	require.Empty(t, got)
}
