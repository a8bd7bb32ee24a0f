// Package catalog is the relational sink the image collector writes one
// row into per persisted frame. It wraps database/sql with the lib/pq
// driver behind a single prepared insert: no ORM, one statement, one row
// per frame.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

// Row is one frame's entry in the image_info table.
type Row struct {
	PartID       pressmodel.ProgramID
	PartCount    pressmodel.PartCounter
	CameraIP     string
	CameraUserID string
	FrameNum     int64
	FrameT       int64
	FrameWidth   int
	FrameHeight  int
	FrameSize    int
	HasPartT     int64
	ImagePath    string
}

const insertStmt = `
INSERT INTO image_info (
	part_id, part_count, camera_ip, camera_user_id, frame_num, frame_t,
	frame_width, frame_height, frame_size, shuttle_has_part_t, image_path
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// Sink inserts catalog rows through a single prepared statement shared
// across callers.
type Sink struct {
	db   *sql.DB
	stmt *sql.Stmt
	log  logrus.FieldLogger
}

// Open connects to a Postgres-compatible DSN and prepares the insert
// statement once. Callers treat failures here as fatal at startup.
func Open(dsn string, log logrus.FieldLogger) (*Sink, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	stmt, err := db.Prepare(insertStmt)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: prepare insert: %w", err)
	}
	return &Sink{db: db, stmt: stmt, log: log}, nil
}

// OpenDB wraps an already-opened *sql.DB (used by tests with sqlmock,
// which owns connection setup itself).
func OpenDB(db *sql.DB, log logrus.FieldLogger) (*Sink, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	stmt, err := db.Prepare(insertStmt)
	if err != nil {
		return nil, fmt.Errorf("catalog: prepare insert: %w", err)
	}
	return &Sink{db: db, stmt: stmt, log: log}, nil
}

func (s *Sink) Close() error {
	if s.stmt != nil {
		s.stmt.Close()
	}
	return s.db.Close()
}

// Insert writes one frame's row. Errors are isolated to the calling
// collector event; the caller decides whether to continue with the rest
// of that event's frames.
func (s *Sink) Insert(ctx context.Context, row Row) error {
	_, err := s.stmt.ExecContext(ctx,
		uint16(row.PartID), uint32(row.PartCount), row.CameraIP, row.CameraUserID,
		row.FrameNum, row.FrameT, row.FrameWidth, row.FrameHeight, row.FrameSize,
		row.HasPartT, row.ImagePath,
	)
	if err != nil {
		return fmt.Errorf("catalog: insert row for %s/%d/%d/%s: %w", row.PartID, row.PartCount, row.FrameNum, row.CameraIP, err)
	}
	return nil
}
