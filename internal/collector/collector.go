// Package collector implements the image collector: for each newly
// published part counter it waits until every currently running camera
// has deposited a frame (or times out), persists the frames to disk and
// to the relational catalog, and multicasts a completion ping for the
// dashboard front-end.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/catalog"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/frame"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/imagefs"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/obsv"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

// DefaultTimeout bounds how long a collector waits for the photographed
// set to converge with the running-camera set before giving up on an
// event.
const DefaultTimeout = 5 * time.Second

// PollInterval is how often the collector re-checks the photographed/
// running diff while waiting on a part event.
const PollInterval = 50 * time.Millisecond

// ErrConsistencyTimeout is returned (and only logged, never fatal) when
// the photographed set never converges with the running-camera set
// within the configured timeout.
type ErrConsistencyTimeout struct {
	Line    pressmodel.Line
	Program pressmodel.ProgramID
	Count   pressmodel.PartCounter
	Missing []string
}

func (e *ErrConsistencyTimeout) Error() string {
	return fmt.Sprintf("collector: %s/%d/%d: timed out waiting on %v", e.Line, e.Program, e.Count, e.Missing)
}

// Pinger sends the UDP completion datagram. Implemented by
// internal/multicast.Pinger.
type Pinger interface {
	Send() error
}

// Collector drives the per-line image collection loop.
type Collector struct {
	line    pressmodel.Line
	b       *broker.Broker
	sink    *catalog.Sink
	writer  *imagefs.Writer
	ping    Pinger
	timeout time.Duration
	log     logrus.FieldLogger
}

// New returns a Collector for one press line.
func New(line pressmodel.Line, b *broker.Broker, sink *catalog.Sink, writer *imagefs.Writer, ping Pinger, timeout time.Duration, log logrus.FieldLogger) *Collector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Collector{line: line, b: b, sink: sink, writer: writer, ping: ping, timeout: timeout, log: log}
}

// Run follows the part counter stream (new events only; entries published
// before startup are not replayed) and handles each event until ctx is
// cancelled. Per-event failures are isolated: the collector always
// proceeds to the next event.
func (c *Collector) Run(ctx context.Context) error {
	f := c.b.FollowPartCounter(c.line, 1000, false)
	for {
		ev, ok, err := f.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("following part counter stream")
			continue
		}
		if !ok {
			return nil
		}
		if ev.ID == "" {
			continue
		}
		count, err := parsePartCounterField(ev.Fields)
		if err != nil {
			c.log.WithError(err).Warn("parsing part counter event")
			continue
		}
		_, program, err := c.b.LatestProgramID(ctx, c.line)
		if err != nil && err != broker.ErrStreamEmpty {
			c.log.WithError(err).Warn("looking up program id for collector event")
			continue
		}
		c.handleEvent(ctx, program, count)
	}
}

func (c *Collector) handleEvent(ctx context.Context, program pressmodel.ProgramID, count pressmodel.PartCounter) {
	log := c.log.WithFields(logrus.Fields{"program_id": program, "part_count": count})

	ips, err := c.waitForConvergence(ctx, program, count)
	if err != nil {
		if _, ok := err.(*ErrConsistencyTimeout); ok {
			obsv.CollectorTimeouts.WithLabelValues(string(c.line)).Inc()
		}
		log.WithError(err).Warn("timed out waiting for frames")
		return
	}
	if len(ips) == 0 {
		return
	}

	results := c.b.BatchGetFrames(ctx, c.line, program, count, ips)
	n := 0
	for _, r := range results {
		if r.Err != nil {
			log.WithError(r.Err).WithField("camera_ip", r.IP).Warn("fetching frame for collector event")
			continue
		}
		if err := c.persistFrame(ctx, program, count, r); err != nil {
			log.WithError(err).WithField("camera_ip", r.IP).Warn("persisting frame")
			continue
		}
		n++
		obsv.FramesPersisted.WithLabelValues(string(c.line)).Inc()
	}
	if n == 0 {
		return
	}

	if c.ping != nil {
		if err := c.ping.Send(); err != nil {
			log.WithError(err).Warn("sending multicast completion ping")
		}
	}
}

// waitForConvergence polls runningCamera(line) \ photographed(line,
// program, count) until the diff is empty or c.timeout elapses. The
// returned slice is the set of running cameras the collector should fetch
// frames for (empty on timeout).
func (c *Collector) waitForConvergence(ctx context.Context, program pressmodel.ProgramID, count pressmodel.PartCounter) ([]string, error) {
	deadline := time.Now().Add(c.timeout)
	for {
		running, err := c.b.RunningCameras(ctx, c.line)
		if err != nil {
			return nil, err
		}
		if len(running) == 0 {
			return nil, nil
		}
		missing, err := c.b.UnphotographedIPs(ctx, c.line, program, count)
		if err != nil {
			return nil, err
		}
		if len(missing) == 0 {
			return running, nil
		}
		if time.Now().After(deadline) {
			return nil, &ErrConsistencyTimeout{Line: c.line, Program: program, Count: count, Missing: missing}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

func (c *Collector) persistFrame(ctx context.Context, program pressmodel.ProgramID, count pressmodel.PartCounter, r broker.FrameResult) error {
	f, err := frame.Decode(r.Data, r.Meta)
	if err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}

	at := time.Now()
	index := 1
	path := c.writer.Path(at, program, count, f.Meta.CameraUserID, index)
	if err := c.writer.Write(path, f); err != nil {
		return fmt.Errorf("writing frame file: %w", err)
	}

	height, width := dimsFromShape(f.Meta.Shape)
	row := catalog.Row{
		PartID:       program,
		PartCount:    count,
		CameraIP:     f.Meta.CameraIP,
		CameraUserID: f.Meta.CameraUserID,
		FrameNum:     f.Meta.FrameNum,
		FrameT:       f.Meta.FrameT,
		FrameWidth:   width,
		FrameHeight:  height,
		FrameSize:    f.Meta.Size,
		HasPartT:     f.Meta.HasPartT,
		ImagePath:    path,
	}
	if err := c.sink.Insert(ctx, row); err != nil {
		return fmt.Errorf("inserting catalog row: %w", err)
	}
	return nil
}

// dimsFromShape reads height/width off a 2-D or 3-D shape
// ([h,w] or [h,w,channels]).
func dimsFromShape(shape []int) (height, width int) {
	if len(shape) < 2 {
		return 0, 0
	}
	return shape[0], shape[1]
}

func parsePartCounterField(fields map[string]string) (pressmodel.PartCounter, error) {
	raw, ok := fields["part_counter"]
	if !ok {
		return 0, fmt.Errorf("collector: stream entry missing part_counter field")
	}
	var v uint32
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("collector: parsing part_counter %q: %w", raw, err)
	}
	return pressmodel.PartCounter(v), nil
}
