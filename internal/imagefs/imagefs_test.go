package imagefs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/frame"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

var errEncodeBoom = errors.New("encode boom")

func stubEncoder(f frame.Frame) ([]byte, error) {
	return f.Pixels, nil
}

func TestPathBuildsCatalogLayout(t *testing.T) {
	w := New("/data/images", "", ".png", false, stubEncoder)
	at := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	got := w.Path(at, pressmodel.ProgramID(42), pressmodel.PartCounter(7), "cam-a", 1)
	want := filepath.Join("/data/images", "2026", "03", "05", "42", "7", "00-cam-a-01.png")
	require.Equal(t, want, got)
}

func TestPathDefaultsPrefix(t *testing.T) {
	w := New("/data/images", "", ".png", false, stubEncoder)
	require.Equal(t, DefaultPrefix, w.prefix)
}

func TestWriteCreatesDirectoriesAndFile(t *testing.T) {
	root := t.TempDir()
	w := New(root, "00", ".bin", false, stubEncoder)
	path := filepath.Join(root, "a", "b", "c.bin")

	f := frame.Frame{Pixels: []byte{1, 2, 3}}
	require.NoError(t, w.Write(path, f))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)
}

func TestWriteRefusesOverwriteByDefault(t *testing.T) {
	root := t.TempDir()
	w := New(root, "00", ".bin", false, stubEncoder)
	path := filepath.Join(root, "c.bin")

	f := frame.Frame{Pixels: []byte{1}}
	require.NoError(t, w.Write(path, f))
	err := w.Write(path, f)
	require.Error(t, err)
}

func TestWriteAllowsOverwriteWhenConfigured(t *testing.T) {
	root := t.TempDir()
	w := New(root, "00", ".bin", true, stubEncoder)
	path := filepath.Join(root, "c.bin")

	require.NoError(t, w.Write(path, frame.Frame{Pixels: []byte{1}}))
	require.NoError(t, w.Write(path, frame.Frame{Pixels: []byte{2}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte{2}, data)
}

func TestWritePropagatesEncoderError(t *testing.T) {
	root := t.TempDir()
	boom := func(f frame.Frame) ([]byte, error) { return nil, errEncodeBoom }
	w := New(root, "00", ".bin", false, boom)
	err := w.Write(filepath.Join(root, "c.bin"), frame.Frame{})
	require.ErrorIs(t, err, errEncodeBoom)
}
