// Package cameraagent owns one camera's lifecycle: it subscribes to its
// point-to-point and broadcast command queues, drives a capture worker in
// response to open/close, applies parameter get/set, and writes every
// grabbed frame's buffer and metadata to the broker.
package cameraagent

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/bus"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/frame"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/obsv"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

// DefaultFrameTTL is how long a written frame blob/meta/photographed-set
// entry survives before expiring, absent an explicit override.
const DefaultFrameTTL = 60 * time.Second

// DefaultCloseGrace is how long Close waits for the capture worker to
// observe a stop signal and leave the running-camera set before forcing
// removal.
const DefaultCloseGrace = 5 * time.Second

// CapturedFrame is one grabbed frame handed to the agent's frame callback.
type CapturedFrame struct {
	Pixels   []byte
	Shape    []int
	FrameNum int64
	FrameT   int64
}

// SDK is the capability object the camera agent drives: open/close the
// device, get/set its parameters, and register the callback invoked per
// grabbed frame. Implementations wrap the vendor camera SDK.
type SDK interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	SetParam(node string, value interface{}) error
	GetParam(node string) (interface{}, error)
	SetFrameCallback(fn func(CapturedFrame))
}

// Agent owns one camera identified by ip/userID on press line.
type Agent struct {
	ip         string
	userID     string
	line       pressmodel.Line
	b          *broker.Broker
	sub        *bus.Subscriber
	sdk        SDK
	log        logrus.FieldLogger
	ttl        time.Duration
	closeGrace time.Duration

	mu            sync.Mutex
	hasPartT      int64
	workerRunning bool
	workerCancel  context.CancelFunc
	workerDone    chan struct{}
}

// New returns an Agent for one camera. sdk's frame callback is registered
// to the agent immediately.
func New(ip, userID string, line pressmodel.Line, b *broker.Broker, sub *bus.Subscriber, sdk SDK, log logrus.FieldLogger) *Agent {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Agent{
		ip: ip, userID: userID, line: line,
		b: b, sub: sub, sdk: sdk, log: log,
		ttl: DefaultFrameTTL, closeGrace: DefaultCloseGrace,
	}
	sdk.SetFrameCallback(a.onFrame)
	return a
}

// Run consumes command deliveries from sub until ctx is cancelled, or the
// subscriber's delivery channel closes.
func (a *Agent) Run(ctx context.Context) error {
	deliveries, err := a.sub.Listen(ctx)
	if err != nil {
		return err
	}
	for d := range deliveries {
		results := a.handleCommands(ctx, d.Commands)
		if len(results) == 0 {
			continue
		}
		if err := a.sub.Reply(ctx, d.ReplyTo, results); err != nil {
			a.log.WithError(err).Warn("replying to command batch")
		}
	}
	return nil
}

// handleCommands processes every command in a batch. Only `get` commands
// produce a reply entry -- open/close/set are fire-and-forget.
func (a *Agent) handleCommands(ctx context.Context, cmds []bus.Command) []bus.Result {
	var results []bus.Result
	for _, cmd := range cmds {
		if res := a.handleCommand(ctx, cmd); res != nil {
			results = append(results, *res)
		}
	}
	return results
}

func (a *Agent) handleCommand(ctx context.Context, cmd bus.Command) *bus.Result {
	switch cmd.Kind {
	case bus.Open:
		a.openWorker(ctx)
		return nil
	case bus.Close:
		a.closeWorker()
		return nil
	case bus.Set:
		if cmd.Node == "TriggerSoftware" {
			if ms, ok := toInt64(cmd.Value); ok {
				a.mu.Lock()
				a.hasPartT = ms
				a.mu.Unlock()
			}
		}
		if err := a.sdk.SetParam(cmd.Node, cmd.Value); err != nil {
			a.log.WithError(err).WithField("node", cmd.Node).Warn("set camera parameter")
		}
		return nil
	case bus.Get:
		value, err := a.sdk.GetParam(cmd.Node)
		if err != nil {
			return &bus.Result{Command: cmd, Status: "error", Detail: err.Error()}
		}
		return &bus.Result{Command: cmd, Status: "done", Value: value}
	default:
		return nil
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// openWorker launches the capture worker if it isn't already running: it
// opens the device, joins the running-camera set, and blocks until the
// worker is cancelled, then leaves the set and closes the device.
func (a *Agent) openWorker(ctx context.Context) {
	a.mu.Lock()
	if a.workerRunning {
		a.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	a.workerRunning = true
	a.workerCancel = cancel
	a.workerDone = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			a.mu.Lock()
			a.workerRunning = false
			a.mu.Unlock()
		}()

		if err := a.sdk.Open(workerCtx); err != nil {
			a.log.WithError(err).Warn("opening camera")
			return
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.sdk.Close(closeCtx); err != nil {
				a.log.WithError(err).Warn("closing camera")
			}
		}()

		if err := a.b.AddRunningCamera(workerCtx, a.line, a.ip); err != nil {
			a.log.WithError(err).Warn("adding running camera")
			return
		}
		defer func() {
			removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.b.RemoveRunningCamera(removeCtx, a.line, a.ip); err != nil {
				a.log.WithError(err).Warn("removing running camera")
			}
		}()

		<-workerCtx.Done()
	}()
}

// closeWorker signals the capture worker to stop and waits up to
// closeGrace for it to leave the running-camera set, forcing removal if
// it doesn't.
func (a *Agent) closeWorker() {
	a.mu.Lock()
	cancel, done := a.workerCancel, a.workerDone
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
		return
	case <-time.After(a.closeGrace):
	}

	ctx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()
	if err := a.b.RemoveRunningCamera(ctx, a.line, a.ip); err != nil {
		a.log.WithError(err).Warn("force-removing running camera after close grace period")
	}
}

// Close stops any running capture worker (waiting up to closeGrace) and
// closes the command subscriber.
func (a *Agent) Close() error {
	a.closeWorker()
	return a.sub.Close()
}

// onFrame is the SDK's per-frame callback: it copies nothing further (the
// pixel slice is already the agent's to keep), looks up the current
// program id and part counter, and writes the frame's blob, metadata, and
// photographed-set membership to the broker in the background.
func (a *Agent) onFrame(f CapturedFrame) {
	go a.writeFrame(f)
}

func (a *Agent) writeFrame(f CapturedFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, programID, err := a.b.LatestProgramID(ctx, a.line)
	if err != nil {
		a.log.WithError(err).Warn("looking up program id for frame")
		return
	}
	_, count, err := a.b.LatestPartCounter(ctx, a.line)
	if err != nil {
		a.log.WithError(err).Warn("looking up part counter for frame")
		return
	}

	a.mu.Lock()
	hasPartT := a.hasPartT
	a.mu.Unlock()

	meta := frame.Meta{
		ProgramID:    uint16(programID),
		PartCounter:  uint32(count),
		CameraIP:     a.ip,
		CameraUserID: a.userID,
		HasPartT:     hasPartT,
		FrameT:       f.FrameT,
		FrameNum:     f.FrameNum,
	}
	frm, err := frame.Encode(f.Pixels, f.Shape, meta)
	if err != nil {
		a.log.WithError(err).Warn("encoding captured frame")
		return
	}
	if err := a.b.PutFrame(ctx, a.line, programID, count, a.ip, frm.Pixels, frm.Meta.Fields(), a.ttl); err != nil {
		a.log.WithError(err).Warn("writing frame to broker")
		return
	}
	obsv.FramesWritten.WithLabelValues(string(a.line), a.ip).Inc()
}
