// Package shuttle implements the camera-fleet orchestrator: it reacts to
// program-id and running-status changes, detects parts crossing the
// shuttle station, dispatches software triggers and open/close commands
// over the command bus, and keeps the illumination lamp register in sync
// with the broker's lamp-enable flag.
package shuttle

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/bus"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/catalogcfg"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/obsv"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/partdetect"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/plc"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

// LampAutoOffDelay is how long the lamp stays enabled after the press
// stops before the illumination register is allowed to turn off.
const LampAutoOffDelay = 600 * time.Second

// IdlePollInterval is how long shuttle_detect sleeps between checks while
// the press isn't running or no camera is open.
const IdlePollInterval = 100 * time.Millisecond

// LightControlInterval is how often light_control compares the observed
// lamp-enable flag against the last value it wrote.
const LightControlInterval = time.Second

// SensorSource reads the shuttle's two photoelectric sensors.
type SensorSource interface {
	ReadShuttleSensors(ctx context.Context) (plc.ShuttleSensors, error)
}

// CounterSource reads the press's raw part counter.
type CounterSource interface {
	ReadPartCounter(ctx context.Context) (pressmodel.PartCounter, error)
}

// LampWriter writes the illumination controller's light-enable register.
type LampWriter interface {
	SetLightEnable(enabled bool) error
}

// CommandPublisher fans command batches out to camera IPs. Implemented by
// bus.CommandBus.
type CommandPublisher interface {
	Publish(ctx context.Context, ips []string, cmds []bus.Command) error
}

// Controller runs the four concurrent tasks (program-id reaction,
// running-status reaction, shuttle detection, light control) coordinating
// one press line's camera fleet.
type Controller struct {
	line    pressmodel.Line
	catalog *catalogcfg.Catalog
	b       *broker.Broker
	bus     CommandPublisher
	sensors SensorSource
	counter CounterSource
	lamp    LampWriter
	det     *partdetect.Detector
	log     logrus.FieldLogger

	mu           sync.Mutex
	triggerDelay time.Duration

	lastLampWritten     bool
	haveLastLampWritten bool
}

// New returns a Controller for line. det should already be constructed
// with the catalog's default detect type (BOTH); the program-id
// subscription updates it as program ids change.
func New(line pressmodel.Line, catalog *catalogcfg.Catalog, b *broker.Broker, commandBus CommandPublisher, sensors SensorSource, counter CounterSource, lamp LampWriter, det *partdetect.Detector, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		line:         line,
		catalog:      catalog,
		b:            b,
		bus:          commandBus,
		sensors:      sensors,
		counter:      counter,
		lamp:         lamp,
		det:          det,
		log:          log,
		triggerDelay: time.Duration(catalogcfg.DefaultTriggerDelaySeconds * float64(time.Second)),
	}
}

// Run drives all four tasks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.subscribeProgramID(ctx) })
	g.Go(func() error { return c.subscribeRunningStatus(ctx) })
	g.Go(func() error { return c.shuttleDetect(ctx) })
	g.Go(func() error { return c.lightControl(ctx) })
	return g.Wait()
}

// --- program id -----------------------------------------------------------

func (c *Controller) subscribeProgramID(ctx context.Context) error {
	f := c.b.FollowProgramID(c.line, 1000, true)
	for {
		ev, ok, err := f.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("following program id stream")
			continue
		}
		if !ok || ev.ID == "" {
			continue
		}
		id, err := parseProgramIDField(ev.Fields["program_id"])
		if err != nil {
			c.log.WithError(err).Warn("parsing program id event")
			continue
		}
		c.onProgramID(ctx, id)
	}
}

func (c *Controller) onProgramID(ctx context.Context, id pressmodel.ProgramID) {
	info := c.catalog.PartInfoFor(id)

	c.mu.Lock()
	c.triggerDelay = time.Duration(info.TriggerDelaySeconds * float64(time.Second))
	c.mu.Unlock()

	c.det.SetDetectType(info.DetectType)

	running, err := c.b.RunningCameras(ctx, c.line)
	if err != nil {
		c.log.WithError(err).Warn("listing running cameras")
		return
	}
	toOpen, toClose := c.catalog.ToOpenAndClose(id, running)

	if len(toOpen) > 0 {
		if err := c.bus.Publish(ctx, toOpen, []bus.Command{bus.OpenCmd()}); err != nil {
			c.log.WithError(err).WithField("ips", toOpen).Warn("publish open command")
		}
	}
	if len(toClose) > 0 {
		if err := c.bus.Publish(ctx, toClose, []bus.Command{bus.CloseCmd()}); err != nil {
			c.log.WithError(err).WithField("ips", toClose).Warn("publish close command")
		}
	}
}

// --- running status -------------------------------------------------------

func (c *Controller) subscribeRunningStatus(ctx context.Context) error {
	f := c.b.FollowRunningStatus(c.line, 1000, false)
	for {
		ev, ok, err := f.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("following running status stream")
			continue
		}
		if !ok || ev.ID == "" {
			continue
		}
		running := ev.Fields["running_status"] == "1"
		if running {
			if err := c.b.SetLampEnable(ctx, c.line, 0); err != nil {
				c.log.WithError(err).Warn("set lamp enable")
			}
			continue
		}
		if err := c.b.ArmLampAutoOff(ctx, c.line, LampAutoOffDelay); err != nil {
			c.log.WithError(err).Warn("arm lamp auto-off")
		}
	}
}

// --- shuttle detect -------------------------------------------------------

func (c *Controller) shuttleDetect(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		_, running, err := c.b.LatestRunningStatus(ctx, c.line)
		if err != nil && err != broker.ErrStreamEmpty {
			c.log.WithError(err).Warn("reading running status")
		}
		if err == broker.ErrStreamEmpty || !running {
			if sleepOrDone(ctx, IdlePollInterval) {
				return nil
			}
			continue
		}

		n, err := c.b.RunningCameraCount(ctx, c.line)
		if err != nil {
			c.log.WithError(err).Warn("counting running cameras")
			if sleepOrDone(ctx, IdlePollInterval) {
				return nil
			}
			continue
		}
		obsv.RunningCameraCount.WithLabelValues(string(c.line)).Set(float64(n))
		if n == 0 {
			if sleepOrDone(ctx, IdlePollInterval) {
				return nil
			}
			continue
		}

		sensors, err := c.sensors.ReadShuttleSensors(ctx)
		if err != nil {
			c.log.WithError(err).Warn("reading shuttle sensors")
			continue
		}

		fired, event := c.det.Check(sensors.S1, sensors.S2)
		if !fired {
			continue
		}
		c.onPartEvent(ctx, event)
	}
}

func (c *Controller) onPartEvent(ctx context.Context, event pressmodel.PartEvent) {
	count, err := c.counter.ReadPartCounter(ctx)
	if err != nil {
		c.log.WithError(err).Warn("reading part counter on part event")
		return
	}
	count = count.AtShuttle()
	obsv.PartsDetected.WithLabelValues(string(c.line)).Inc()
	c.log.WithFields(logrus.Fields{
		"has_part_t":  event.HasPartT,
		"interval_ms": event.IntervalMs,
		"part_count":  count,
	}).Info("part detected")

	c.mu.Lock()
	delay := c.triggerDelay
	c.mu.Unlock()

	go c.dispatchTrigger(context.WithoutCancel(ctx), event, count, delay)
}

// dispatchTrigger waits delay (measured from part-event detection, per the
// ordering guarantee that trigger delay is anchored to has_part_t, not to
// dispatch time) then broadcasts the software trigger to every running
// camera and only then publishes the adjusted part counter, so the counter
// stream never precedes the trigger that produces its frames.
func (c *Controller) dispatchTrigger(ctx context.Context, event pressmodel.PartEvent, count pressmodel.PartCounter, delay time.Duration) {
	elapsed := time.Since(time.UnixMilli(event.HasPartT))
	remaining := delay - elapsed
	if remaining > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
		}
	}

	running, err := c.b.RunningCameras(ctx, c.line)
	if err != nil {
		c.log.WithError(err).Warn("listing running cameras for trigger dispatch")
		return
	}
	if len(running) > 0 {
		cmd := bus.SetCmd("TriggerSoftware", event.HasPartT)
		if err := c.bus.Publish(ctx, running, []bus.Command{cmd}); err != nil {
			c.log.WithError(err).Warn("publish trigger command")
		} else {
			obsv.TriggersDispatched.WithLabelValues(string(c.line)).Inc()
		}
	}

	if err := c.b.PublishPartCounter(ctx, c.line, count); err != nil {
		c.log.WithError(err).Warn("publish part counter")
	}
}

// --- light control --------------------------------------------------------

func (c *Controller) lightControl(ctx context.Context) error {
	t := time.NewTicker(LightControlInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			enabled, err := c.b.LampEnabled(ctx, c.line)
			if err != nil {
				c.log.WithError(err).Warn("reading lamp enable flag")
				continue
			}
			if c.haveLastLampWritten && enabled == c.lastLampWritten {
				continue
			}
			if err := c.lamp.SetLightEnable(enabled); err != nil {
				c.log.WithError(err).Warn("writing lamp register")
				continue
			}
			c.lastLampWritten, c.haveLastLampWritten = enabled, true
		}
	}
}

func parseProgramIDField(raw string) (pressmodel.ProgramID, error) {
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, err
	}
	return pressmodel.ProgramID(v), nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}
