// Package frame encodes and decodes the raw pixel buffers camera agents
// publish to the broker and the image collector reads back. A frame is
// stored as its flat pixel bytes plus a metadata hash describing shape,
// element count, and element type; decoding reproduces the original
// buffer bit-for-bit.
package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// Meta is the broker hash written alongside a frame's raw bytes.
type Meta struct {
	ProgramID    uint16
	PartCounter  uint32
	CameraIP     string
	CameraUserID string
	HasPartT     int64
	FrameT       int64
	FrameNum     int64
	// Shape is the row-major dimensions of the pixel buffer, e.g. [height,
	// width, channels].
	Shape []int
	// Size is the total element count; Shape's product must equal it.
	Size int
	// Dtype names the element type, e.g. "uint8". Only uint8 is decoded by
	// Decode today; other values round-trip through Fields but fail Decode.
	Dtype string
}

// Fields renders Meta as the string-keyed map the broker's hash operations
// expect.
func (m Meta) Fields() map[string]interface{} {
	shape := make([]string, len(m.Shape))
	for i, d := range m.Shape {
		shape[i] = strconv.Itoa(d)
	}
	return map[string]interface{}{
		"program_id":     m.ProgramID,
		"part_counter":   m.PartCounter,
		"camera_ip":      m.CameraIP,
		"camera_user_id": m.CameraUserID,
		"has_part_t":     m.HasPartT,
		"frame_t":        m.FrameT,
		"frame_num":      m.FrameNum,
		"frame_shape":    strings.Join(shape, ","),
		"frame_size":     m.Size,
		"frame_dtype":    m.Dtype,
	}
}

// MetaFromFields parses a broker hash (string values, as returned by
// HGETALL) back into a Meta.
func MetaFromFields(f map[string]string) (Meta, error) {
	var m Meta
	var err error
	if m.ProgramID, err = parseUint16(f, "program_id"); err != nil {
		return Meta{}, err
	}
	if m.PartCounter, err = parseUint32(f, "part_counter"); err != nil {
		return Meta{}, err
	}
	m.CameraIP = f["camera_ip"]
	m.CameraUserID = f["camera_user_id"]
	if m.HasPartT, err = parseInt64(f, "has_part_t"); err != nil {
		return Meta{}, err
	}
	if m.FrameT, err = parseInt64(f, "frame_t"); err != nil {
		return Meta{}, err
	}
	if m.FrameNum, err = parseInt64(f, "frame_num"); err != nil {
		return Meta{}, err
	}
	shapeRaw, ok := f["frame_shape"]
	if !ok {
		return Meta{}, fmt.Errorf("frame: missing field frame_shape")
	}
	for _, part := range strings.Split(shapeRaw, ",") {
		d, err := strconv.Atoi(part)
		if err != nil {
			return Meta{}, fmt.Errorf("frame: parsing frame_shape %q: %w", shapeRaw, err)
		}
		m.Shape = append(m.Shape, d)
	}
	sizeRaw, ok := f["frame_size"]
	if !ok {
		return Meta{}, fmt.Errorf("frame: missing field frame_size")
	}
	if m.Size, err = strconv.Atoi(sizeRaw); err != nil {
		return Meta{}, fmt.Errorf("frame: parsing frame_size %q: %w", sizeRaw, err)
	}
	m.Dtype = f["frame_dtype"]
	return m, nil
}

func parseUint16(f map[string]string, key string) (uint16, error) {
	raw, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("frame: missing field %s", key)
	}
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("frame: parsing %s %q: %w", key, raw, err)
	}
	return uint16(v), nil
}

func parseUint32(f map[string]string, key string) (uint32, error) {
	raw, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("frame: missing field %s", key)
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("frame: parsing %s %q: %w", key, raw, err)
	}
	return uint32(v), nil
}

func parseInt64(f map[string]string, key string) (int64, error) {
	raw, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("frame: missing field %s", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("frame: parsing %s %q: %w", key, raw, err)
	}
	return v, nil
}

// Frame pairs a decoded pixel buffer with the metadata that described it.
type Frame struct {
	Pixels []byte
	Meta   Meta
}

// Encode captures a raw uint8 pixel buffer (row-major, shape as given) into
// a Frame ready for PutFrame. pixels is not copied.
func Encode(pixels []byte, shape []int, meta Meta) (Frame, error) {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size != len(pixels) {
		return Frame{}, fmt.Errorf("frame: shape %v (size %d) does not match buffer length %d", shape, size, len(pixels))
	}
	meta.Shape = append([]int(nil), shape...)
	meta.Size = size
	meta.Dtype = "uint8"
	return Frame{Pixels: pixels, Meta: meta}, nil
}

// Decode reconstructs pixel bytes + Meta from a broker blob and hash,
// verifying the byte count against the declared shape and size.
func Decode(data []byte, fields map[string]string) (Frame, error) {
	meta, err := MetaFromFields(fields)
	if err != nil {
		return Frame{}, err
	}
	if meta.Dtype != "uint8" {
		return Frame{}, fmt.Errorf("frame: unsupported dtype %q", meta.Dtype)
	}
	if len(data) != meta.Size {
		return Frame{}, fmt.Errorf("frame: buffer length %d does not match frame_size %d", len(data), meta.Size)
	}
	shapeSize := 1
	for _, d := range meta.Shape {
		shapeSize *= d
	}
	if shapeSize != meta.Size {
		return Frame{}, fmt.Errorf("frame: frame_shape %v does not match frame_size %d", meta.Shape, meta.Size)
	}
	return Frame{Pixels: data, Meta: meta}, nil
}
