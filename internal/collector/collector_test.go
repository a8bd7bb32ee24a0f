package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/catalog"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/frame"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/imagefs"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return broker.New(rdb, nil)
}

func newTestSink(t *testing.T) (*catalog.Sink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectPrepare("INSERT INTO image_info")
	s, err := catalog.OpenDB(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mock
}

type fakePinger struct {
	sent int
}

func (f *fakePinger) Send() error {
	f.sent++
	return nil
}

func putTestFrame(t *testing.T, b *broker.Broker, line pressmodel.Line, program pressmodel.ProgramID, count pressmodel.PartCounter, ip, userID string) {
	t.Helper()
	pixels := []byte{1, 2, 3, 4, 5, 6}
	meta := frame.Meta{
		ProgramID:    uint16(program),
		PartCounter:  uint32(count),
		CameraIP:     ip,
		CameraUserID: userID,
		FrameNum:     1,
		FrameT:       time.Now().UnixMilli(),
	}
	f, err := frame.Encode(pixels, []int{2, 3}, meta)
	require.NoError(t, err)
	require.NoError(t, b.PutFrame(context.Background(), line, program, count, ip, f.Pixels, f.Meta.Fields(), time.Minute))
}

func stubEncoder(f frame.Frame) ([]byte, error) {
	return f.Pixels, nil
}

func TestHandleEventPersistsFramesAndPings(t *testing.T) {
	b := newTestBroker(t)
	line := pressmodel.Line("5-100")
	ctx := context.Background()

	require.NoError(t, b.AddRunningCamera(ctx, line, "10.0.0.1"))
	require.NoError(t, b.AddRunningCamera(ctx, line, "10.0.0.2"))
	putTestFrame(t, b, line, 77, 12, "10.0.0.1", "cam-a")
	putTestFrame(t, b, line, 77, 12, "10.0.0.2", "cam-b")

	sink, mock := newTestSink(t)
	mock.ExpectExec("INSERT INTO image_info").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO image_info").WillReturnResult(sqlmock.NewResult(2, 1))

	root := t.TempDir()
	writer := imagefs.New(root, "", ".bin", false, stubEncoder)
	ping := &fakePinger{}

	c := New(line, b, sink, writer, ping, 2*time.Second, nil)
	c.handleEvent(ctx, 77, 12)

	require.Equal(t, 1, ping.sent)
	require.NoError(t, mock.ExpectationsWereMet())

	entries, err := os.ReadDir(filepath.Join(root, time.Now().Format("2006"), time.Now().Format("01"), time.Now().Format("02"), "77", "12"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestHandleEventTimesOutOnMissingCamera(t *testing.T) {
	b := newTestBroker(t)
	line := pressmodel.Line("5-100")
	ctx := context.Background()

	require.NoError(t, b.AddRunningCamera(ctx, line, "10.0.0.1"))
	require.NoError(t, b.AddRunningCamera(ctx, line, "10.0.0.2"))
	putTestFrame(t, b, line, 77, 13, "10.0.0.1", "cam-a")
	// 10.0.0.2 never deposits a frame.

	sink, mock := newTestSink(t)
	mock.ExpectExec("INSERT INTO image_info").WillReturnResult(sqlmock.NewResult(1, 1))

	root := t.TempDir()
	writer := imagefs.New(root, "", ".bin", false, stubEncoder)
	ping := &fakePinger{}

	c := New(line, b, sink, writer, ping, 100*time.Millisecond, nil)
	ips, err := c.waitForConvergence(ctx, 77, 13)
	require.Error(t, err)
	require.Nil(t, ips)
	var timeoutErr *ErrConsistencyTimeout
	require.ErrorAs(t, err, &timeoutErr)
	require.ElementsMatch(t, []string{"10.0.0.2"}, timeoutErr.Missing)

	// The following event proceeds normally: timeouts are isolated per event.
	require.NoError(t, b.AddRunningCamera(ctx, line, "10.0.0.3"))
	require.NoError(t, b.RemoveRunningCamera(ctx, line, "10.0.0.1"))
	require.NoError(t, b.RemoveRunningCamera(ctx, line, "10.0.0.2"))
	putTestFrame(t, b, line, 77, 14, "10.0.0.3", "cam-c")
	c.handleEvent(ctx, 77, 14)
	require.Equal(t, 1, ping.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}
