// Package imagefs writes a decoded frame's pixel buffer to the
// collector's filesystem layout:
//
//	<root>/<yyyy>/<mm>/<dd>/<program_id>/<part_counter>/<prefix>-<camera_user_id>-<index>.<fmt>
//
// Image encoding (PNG/JPEG/etc) stays outside this package's concern
// boundary the same way the native camera SDK and relational driver are
// kept behind narrow interfaces elsewhere in this repo: callers supply an
// Encoder that turns a decoded frame.Frame into bytes for the configured
// format.
package imagefs

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/frame"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

// DefaultPrefix is the filename prefix used when none is configured.
const DefaultPrefix = "00"

// Encoder renders a decoded frame to the bytes that should be written to
// disk for the configured image format (e.g. ".png"). It is supplied by
// the caller; imagefs only resolves paths and performs the write.
type Encoder func(f frame.Frame) ([]byte, error)

// Writer resolves catalog-layout paths under root and writes encoded
// frames to them.
type Writer struct {
	root      string
	prefix    string
	ext       string
	overwrite bool
	encode    Encoder
}

// New returns a Writer rooted at root. prefix defaults to DefaultPrefix
// when empty; ext should include the leading dot (e.g. ".png").
func New(root, prefix, ext string, overwrite bool, encode Encoder) *Writer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Writer{root: root, prefix: prefix, ext: ext, overwrite: overwrite, encode: encode}
}

// Path builds the destination path for one frame. index is the 1-based
// position of this frame among the part's frames, rendered zero-padded to
// two digits.
func (w *Writer) Path(at time.Time, program pressmodel.ProgramID, count pressmodel.PartCounter, cameraUserID string, index int) string {
	return filepath.Join(
		w.root,
		at.Format("2006"),
		at.Format("01"),
		at.Format("02"),
		fmt.Sprintf("%d", uint16(program)),
		fmt.Sprintf("%d", uint32(count)),
		fmt.Sprintf("%s-%s-%02d%s", w.prefix, cameraUserID, index, w.ext),
	)
}

// Write encodes f and writes it to path, creating parent directories as
// needed. It refuses to overwrite an existing file unless the writer was
// configured to allow it.
func (w *Writer) Write(path string, f frame.Frame) error {
	if !w.overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("imagefs: refusing to overwrite existing file %q", path)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("imagefs: stat %q: %w", path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("imagefs: creating directory for %q: %w", path, err)
	}
	data, err := w.encode(f)
	if err != nil {
		return fmt.Errorf("imagefs: encoding frame for %q: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("imagefs: writing %q: %w", path, err)
	}
	return nil
}
