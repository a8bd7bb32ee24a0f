// Package pressreader runs the two scheduled PLC polling jobs that keep
// the broker's press:programId and press:runningStatus streams current:
// a slow program-id poll and a faster running-status poll that debounces
// three samples before publishing a verdict.
package pressreader

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/debounce"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

const (
	// ProgramIDInterval is how often the program-id job runs.
	ProgramIDInterval = time.Minute
	// RunningStatusInterval is how often the running-status job runs.
	RunningStatusInterval = 4 * time.Second
	// SampleInterval is the spacing between the three running-light
	// samples collected within a single running-status job execution.
	SampleInterval = 500 * time.Millisecond
)

// ProgramIDSource reads the current program id from the PLC. Implemented
// by internal/plc.Registers for a given line's head-station register.
type ProgramIDSource interface {
	ReadProgramID(ctx context.Context) (pressmodel.ProgramID, error)
}

// RunningLightSource reads the current running-light bit from the PLC.
// Implemented by internal/plc.Registers for a given line's 1st-station
// register.
type RunningLightSource interface {
	ReadRunningLight(ctx context.Context) (bool, error)
}

// Reader runs both scheduled jobs for one press line, publishing only on
// change and never running two instances of the same job concurrently.
type Reader struct {
	line    pressmodel.Line
	b       *broker.Broker
	program ProgramIDSource
	light   RunningLightSource
	log     logrus.FieldLogger

	lastProgramID     pressmodel.ProgramID
	haveProgramID     bool
	lastRunning       bool
	haveRunningStatus bool

	programBusy atomic.Bool
	statusBusy  atomic.Bool
}

// New returns a Reader for line, sourcing its PLC reads from program and
// light.
func New(line pressmodel.Line, b *broker.Broker, program ProgramIDSource, light RunningLightSource, log logrus.FieldLogger) *Reader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reader{line: line, b: b, program: program, light: light, log: log}
}

// Run drives both scheduled jobs until ctx is cancelled. The streams the
// jobs feed are append-only and bounded by the broker's approximate
// trimming; they are left in place on shutdown so followers keep the
// last-known press state across a reader restart.
func (r *Reader) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.runTicker(ctx, ProgramIDInterval, r.readProgramIDJob) })
	g.Go(func() error { return r.runTicker(ctx, RunningStatusInterval, r.readRunningStatusJob) })
	return g.Wait()
}

// runTicker fires job on interval until ctx is done. The first fire is
// immediate.
func (r *Reader) runTicker(ctx context.Context, interval time.Duration, job func(ctx context.Context)) error {
	job(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			job(ctx)
		}
	}
}

func (r *Reader) readProgramIDJob(ctx context.Context) {
	if !r.programBusy.CompareAndSwap(false, true) {
		return // previous run still in flight: skip this tick
	}
	defer r.programBusy.Store(false)

	id, err := r.program.ReadProgramID(ctx)
	if err != nil {
		r.log.WithError(err).Warn("read program id")
		return
	}
	if r.haveProgramID && id == r.lastProgramID {
		return
	}
	if err := r.b.PublishProgramID(ctx, r.line, id); err != nil {
		r.log.WithError(err).Warn("publish program id")
		return
	}
	r.lastProgramID, r.haveProgramID = id, true
	r.log.WithField("program_id", id).Info("program id changed")
}

func (r *Reader) readRunningStatusJob(ctx context.Context) {
	if !r.statusBusy.CompareAndSwap(false, true) {
		return
	}
	defer r.statusBusy.Store(false)

	status, err := r.sampleRunningStatus(ctx)
	if err != nil {
		r.log.WithError(err).Warn("read running status")
		return
	}
	// Downstream acts on the boolean projection, so a STANDBY -> STOPPED
	// transition (both "not running") is not a flip and is not republished.
	running := status.IsRunning()
	if r.haveRunningStatus && running == r.lastRunning {
		return
	}
	if err := r.b.PublishRunningStatus(ctx, r.line, running); err != nil {
		r.log.WithError(err).Warn("publish running status")
		return
	}
	r.lastRunning, r.haveRunningStatus = running, true
	r.log.WithField("running_status", status).Info("running status changed")
}

// sampleRunningStatus collects SampleCount running-light samples spaced
// SampleInterval apart and debounces them into a verdict.
func (r *Reader) sampleRunningStatus(ctx context.Context) (pressmodel.RunningStatus, error) {
	d := debounce.New()
	for i := 0; i < debounce.SampleCount; i++ {
		light, err := r.light.ReadRunningLight(ctx)
		if err != nil {
			return pressmodel.Unknown, err
		}
		d.Push(light)
		if i < debounce.SampleCount-1 {
			select {
			case <-ctx.Done():
				return pressmodel.Unknown, ctx.Err()
			case <-time.After(SampleInterval):
			}
		}
	}
	return d.Detect()
}
