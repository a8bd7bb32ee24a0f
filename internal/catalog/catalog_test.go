package catalog

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

func TestInsertExecutesPreparedStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPrepare("INSERT INTO image_info")
	mock.ExpectExec("INSERT INTO image_info").
		WithArgs(uint16(77), uint32(12), "10.0.0.5", "cam-a", int64(4), int64(1727000000123),
			1920, 1080, 1080*1920, int64(1727000000000), "/data/2026/07/31/77/12/00-cam-a-01.png").
		WillReturnResult(sqlmock.NewResult(1, 1))

	s, err := OpenDB(db, nil)
	require.NoError(t, err)
	defer s.Close()

	err = s.Insert(context.Background(), Row{
		PartID:       pressmodel.ProgramID(77),
		PartCount:    pressmodel.PartCounter(12),
		CameraIP:     "10.0.0.5",
		CameraUserID: "cam-a",
		FrameNum:     4,
		FrameT:       1727000000123,
		FrameWidth:   1920,
		FrameHeight:  1080,
		FrameSize:    1080 * 1920,
		HasPartT:     1727000000000,
		ImagePath:    "/data/2026/07/31/77/12/00-cam-a-01.png",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPropagatesSinkError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPrepare("INSERT INTO image_info")
	mock.ExpectExec("INSERT INTO image_info").WillReturnError(context.DeadlineExceeded)

	s, err := OpenDB(db, nil)
	require.NoError(t, err)
	defer s.Close()

	err = s.Insert(context.Background(), Row{CameraIP: "10.0.0.5"})
	require.Error(t, err)
}
