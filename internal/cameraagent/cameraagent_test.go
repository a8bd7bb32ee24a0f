package cameraagent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/bus"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return broker.New(rdb, nil)
}

type fakeSDK struct {
	mu       sync.Mutex
	opened   int
	closed   int
	openErr  error
	params   map[string]interface{}
	getErr   error
	callback func(CapturedFrame)
}

func newFakeSDK() *fakeSDK {
	return &fakeSDK{params: map[string]interface{}{"fps": float64(30)}}
}

func (f *fakeSDK) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return f.openErr
}

func (f *fakeSDK) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSDK) SetParam(node string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[node] = value
	return nil
}

func (f *fakeSDK) GetParam(node string) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.params[node]
	if !ok {
		return nil, errNodeNotFound(node)
	}
	return v, nil
}

func (f *fakeSDK) SetFrameCallback(fn func(CapturedFrame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = fn
}

type errNodeNotFound string

func (e errNodeNotFound) Error() string { return "unknown node: " + string(e) }

func newTestAgent(t *testing.T, b *broker.Broker, sdk SDK) *Agent {
	t.Helper()
	a := &Agent{
		ip: "10.0.0.1", userID: "cam-1", line: pressmodel.Line("5-100"),
		b: b, sdk: sdk, log: logrus.New(), ttl: time.Second, closeGrace: 200 * time.Millisecond,
	}
	sdk.SetFrameCallback(a.onFrame)
	return a
}

func TestHandleCommandGetReturnsValue(t *testing.T) {
	b := newTestBroker(t)
	sdk := newFakeSDK()
	a := newTestAgent(t, b, sdk)

	res := a.handleCommand(context.Background(), bus.GetCmd("fps"))
	require.NotNil(t, res)
	require.Equal(t, "done", res.Status)
	require.EqualValues(t, 30, res.Value)
}

func TestHandleCommandGetUnknownNodeReturnsError(t *testing.T) {
	b := newTestBroker(t)
	sdk := newFakeSDK()
	a := newTestAgent(t, b, sdk)

	res := a.handleCommand(context.Background(), bus.GetCmd("unknown"))
	require.NotNil(t, res)
	require.Equal(t, "error", res.Status)
	require.NotEmpty(t, res.Detail)
}

func TestHandleCommandsOnlyRepliesToGet(t *testing.T) {
	b := newTestBroker(t)
	sdk := newFakeSDK()
	a := newTestAgent(t, b, sdk)

	results := a.handleCommands(context.Background(), []bus.Command{
		bus.OpenCmd(),
		bus.SetCmd("fps", float64(60)),
		bus.GetCmd("fps"),
		bus.CloseCmd(),
	})
	require.Len(t, results, 1)
	require.Equal(t, bus.Get, results[0].Command.Kind)
	require.EqualValues(t, 60, results[0].Value)
}

func TestTriggerSoftwareStashesHasPartT(t *testing.T) {
	b := newTestBroker(t)
	sdk := newFakeSDK()
	a := newTestAgent(t, b, sdk)

	a.handleCommand(context.Background(), bus.SetCmd("TriggerSoftware", float64(1727000000000)))
	a.mu.Lock()
	got := a.hasPartT
	a.mu.Unlock()
	require.EqualValues(t, 1727000000000, got)
}

func TestOpenThenCloseWorkerJoinsAndLeavesRunningSet(t *testing.T) {
	b := newTestBroker(t)
	sdk := newFakeSDK()
	a := newTestAgent(t, b, sdk)

	ctx := context.Background()
	a.openWorker(ctx)

	require.Eventually(t, func() bool {
		running, err := a.b.IsCameraRunning(ctx, a.line, a.ip)
		return err == nil && running
	}, time.Second, 10*time.Millisecond)

	a.closeWorker()
	require.Eventually(t, func() bool {
		running, err := a.b.IsCameraRunning(ctx, a.line, a.ip)
		return err == nil && !running
	}, time.Second, 10*time.Millisecond)

	sdk.mu.Lock()
	defer sdk.mu.Unlock()
	require.Equal(t, 1, sdk.opened)
	require.Equal(t, 1, sdk.closed)
}

func TestOpenWorkerIsIdempotentWhileRunning(t *testing.T) {
	b := newTestBroker(t)
	sdk := newFakeSDK()
	a := newTestAgent(t, b, sdk)

	ctx := context.Background()
	a.openWorker(ctx)
	a.openWorker(ctx) // second call while already running must be a no-op

	require.Eventually(t, func() bool {
		sdk.mu.Lock()
		defer sdk.mu.Unlock()
		return sdk.opened == 1
	}, time.Second, 10*time.Millisecond)

	a.closeWorker()
}

func TestOnFrameWritesBlobAndMeta(t *testing.T) {
	b := newTestBroker(t)
	sdk := newFakeSDK()
	a := newTestAgent(t, b, sdk)

	ctx := context.Background()
	require.NoError(t, b.PublishProgramID(ctx, a.line, 77))
	require.NoError(t, b.PublishPartCounter(ctx, a.line, 5))

	a.onFrame(CapturedFrame{Pixels: []byte{1, 2, 3, 4}, Shape: []int{2, 2}, FrameNum: 9, FrameT: 123})

	require.Eventually(t, func() bool {
		ips, err := b.PhotographedIPs(ctx, a.line, 77, 5)
		return err == nil && len(ips) == 1
	}, time.Second, 10*time.Millisecond)

	data, meta, err := b.GetFrame(ctx, a.line, 77, 5, a.ip)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data)
	require.Equal(t, "cam-1", meta["camera_user_id"])
}
