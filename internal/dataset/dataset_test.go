package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadXY(t *testing.T) {
	path := writeFile(t, "0.0 1.5\n0.5 2.5\n1.0 -0.5\n")
	x, y, err := LoadXY(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, x)
	assert.Equal(t, []float64{1.5, 2.5, -0.5}, y)
}

func TestLoadXSkipsCommentsAndBlanks(t *testing.T) {
	path := writeFile(t, "# header\n1.0\n\n   \n2.0\n# trailing\n3.0")
	x, err := LoadX(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, x)
}

func TestCommaSeparated(t *testing.T) {
	path := writeFile(t, "0.1, 1.0\n0.2, 2.0\n")
	x, y, err := LoadXY(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, x)
	assert.Equal(t, []float64{1, 2}, y)
}

func TestWrongColumnCount(t *testing.T) {
	path := writeFile(t, "1.0 2.0\n3.0\n")
	_, _, err := LoadXY(path)
	require.ErrorIs(t, err, ErrFormat)
}

func TestUnparsableField(t *testing.T) {
	path := writeFile(t, "1.0 abc\n")
	_, _, err := LoadXY(path)
	require.ErrorIs(t, err, ErrFormat)
}

func TestMissingFile(t *testing.T) {
	_, _, err := LoadXY(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestEmptyFile(t *testing.T) {
	path := writeFile(t, "")
	x, err := LoadX(path)
	require.NoError(t, err)
	assert.Empty(t, x)
}

func TestOpenCloseIdempotent(t *testing.T) {
	path := writeFile(t, "1.0\n")
	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}
