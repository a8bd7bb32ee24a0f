package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

func newTestBroker(t *testing.T) (*broker.Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return broker.New(rdb, nil), mr
}

func TestProgramIDPublishAndLatest(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	line := pressmodel.Line("5-100")

	_, _, err := b.LatestProgramID(ctx, line)
	require.ErrorIs(t, err, broker.ErrStreamEmpty)

	require.NoError(t, b.PublishProgramID(ctx, line, 42))
	ts, id, err := b.LatestProgramID(ctx, line)
	require.NoError(t, err)
	require.Equal(t, pressmodel.ProgramID(42), id)
	require.Greater(t, ts, int64(0))
}

func TestFollowProgramIDTimesOutWithoutBlocking(t *testing.T) {
	b, _ := newTestBroker(t)
	line := pressmodel.Line("5-100")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f := b.FollowProgramID(line, 50, false)
	ev, ok, err := f.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, ev.ID)
}

func TestFollowProgramIDIncludeLastReturnsExistingEntryFirst(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	line := pressmodel.Line("5-100")
	require.NoError(t, b.PublishProgramID(ctx, line, 7))

	f := b.FollowProgramID(line, 50, true)
	ev, ok, err := f.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "7", ev.Fields["program_id"])
}

func TestRunningCameraSetCleansUpWhenEmpty(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()
	line := pressmodel.Line("5-100")

	require.NoError(t, b.AddRunningCamera(ctx, line, "10.0.0.1"))
	require.NoError(t, b.AddRunningCamera(ctx, line, "10.0.0.2"))

	n, err := b.RunningCameraCount(ctx, line)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoError(t, b.RemoveRunningCamera(ctx, line, "10.0.0.1"))
	ok, err := b.IsCameraRunning(ctx, line, "10.0.0.2")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.RemoveRunningCamera(ctx, line, "10.0.0.2"))
	require.False(t, mr.Exists(broker.RunningCameraKey(line)))
}

func TestPutFrameAndUnphotographedIPs(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	line := pressmodel.Line("5-100")
	program := pressmodel.ProgramID(3)
	count := pressmodel.PartCounter(100)

	require.NoError(t, b.AddRunningCamera(ctx, line, "10.0.0.1"))
	require.NoError(t, b.AddRunningCamera(ctx, line, "10.0.0.2"))

	unphotographed, err := b.UnphotographedIPs(ctx, line, program, count)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, unphotographed)

	data := []byte{1, 2, 3, 4}
	meta := map[string]interface{}{"shape": "2,2", "dtype": "uint8"}
	require.NoError(t, b.PutFrame(ctx, line, program, count, "10.0.0.1", data, meta, 5*time.Second))

	unphotographed, err = b.UnphotographedIPs(ctx, line, program, count)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.2"}, unphotographed)

	gotData, gotMeta, err := b.GetFrame(ctx, line, program, count, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, data, gotData)
	require.Equal(t, "2,2", gotMeta["shape"])
}

func TestLampEnableIdempotence(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()
	line := pressmodel.Line("5-100")

	// enable forever
	require.NoError(t, b.SetLampEnable(ctx, line, 0))
	enabled, err := b.LampEnabled(ctx, line)
	require.NoError(t, err)
	require.True(t, enabled)
	// miniredis reports a key with no expiry as TTL 0.
	require.Equal(t, time.Duration(0), mr.TTL(broker.LightEnableKey(line)))

	// arming auto-off when no TTL pending succeeds
	require.NoError(t, b.ArmLampAutoOff(ctx, line, 10*time.Second))
	mr.FastForward(0)
	ttl := mr.TTL(broker.LightEnableKey(line))
	require.Greater(t, ttl, time.Duration(0))

	// re-arming with a shorter duration must not shorten the pending TTL
	require.NoError(t, b.ArmLampAutoOff(ctx, line, 1*time.Second))
	ttl2 := mr.TTL(broker.LightEnableKey(line))
	require.Equal(t, ttl, ttl2)

	// re-enabling forever clears the pending expiry
	require.NoError(t, b.SetLampEnable(ctx, line, 0))
	require.Equal(t, time.Duration(0), mr.TTL(broker.LightEnableKey(line)))
}

func TestLampEnableFirstCallWithTTL(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()
	line := pressmodel.Line("5-100")

	require.NoError(t, b.SetLampEnable(ctx, line, 10*time.Second))
	ttl := mr.TTL(broker.LightEnableKey(line))
	require.Greater(t, ttl, time.Duration(0))
}
