// Command cameraagent runs one camera agent: it owns a single camera,
// serves open/close/get/set commands over the bus, and streams grabbed
// frames into the broker.
//
// This binary wires a small simulated grabber satisfying cameraagent.SDK
// so the process is runnable end-to-end without proprietary hardware
// drivers. A real deployment swaps simulatorSDK for a build-tagged
// wrapper around the vendor SDK.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/bus"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/cameraagent"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/config"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

type options struct {
	Camera config.Camera `group:"camera" namespace:"camera" env-namespace:"CAMERA"`
	Press  config.Press  `group:"press" namespace:"press" env-namespace:"PRESS"`
	Broker config.Broker `group:"broker" namespace:"broker" env-namespace:"BROKER"`
	Bus    config.Bus    `group:"bus" namespace:"bus" env-namespace:"BUS"`
	Log    config.Log    `group:"log" namespace:"log" env-namespace:"LOG"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(opts.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
	line := pressmodel.Line(opts.Press.Line)

	rdb := redis.NewClient(&redis.Options{Addr: opts.Broker.Addr, Password: opts.Broker.Password, DB: opts.Broker.DB})
	b := broker.New(rdb, log)
	defer b.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := b.Ping(ctx); err != nil {
		log.WithError(err).Fatal("connecting to broker")
	}

	sub := bus.NewSubscriber(opts.Bus.URL, opts.Camera.Location, opts.Camera.IP, log)
	if err := sub.Connect(); err != nil {
		log.WithError(err).Fatal("connecting command subscriber")
	}

	sdk := newSimulatorSDK()
	agent := cameraagent.New(opts.Camera.IP, opts.Camera.UserID, line, b, sub, sdk, log)
	defer agent.Close()

	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("camera agent exited")
	}
}

// simulatorSDK stands in for the vendor camera SDK: Open starts a ticker
// that invokes the registered frame callback with a tiny synthetic image
// until Close or context cancellation. Parameters are held in memory.
type simulatorSDK struct {
	mu       sync.Mutex
	params   map[string]interface{}
	callback func(cameraagent.CapturedFrame)
	cancel   context.CancelFunc
	frameNum int64
}

func newSimulatorSDK() *simulatorSDK {
	return &simulatorSDK{params: map[string]interface{}{"Width": 64, "Height": 64}}
}

func (s *simulatorSDK) SetFrameCallback(fn func(cameraagent.CapturedFrame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = fn
}

func (s *simulatorSDK) Open(ctx context.Context) error {
	grabCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-grabCtx.Done():
				return
			case <-t.C:
				s.grab()
			}
		}
	}()
	return nil
}

func (s *simulatorSDK) grab() {
	s.mu.Lock()
	s.frameNum++
	num := s.frameNum
	cb := s.callback
	s.mu.Unlock()
	if cb == nil {
		return
	}
	pixels := make([]byte, 64*64)
	cb(cameraagent.CapturedFrame{
		Pixels:   pixels,
		Shape:    []int{64, 64},
		FrameNum: num,
		FrameT:   time.Now().UnixMilli(),
	})
}

func (s *simulatorSDK) Close(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *simulatorSDK) SetParam(node string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[node] = value
	return nil
}

func (s *simulatorSDK) GetParam(node string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[node], nil
}
