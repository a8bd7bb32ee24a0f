// Package partdetect implements edge-triggered part detection over the
// shuttle's two photoelectric sensors, filtered by a dead-time window so a
// single physical part cannot fire twice.
package partdetect

import (
	"sync"
	"time"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

// DeadTime is the minimum interval between two fired detections.
const DeadTime = 1000 * time.Millisecond

// Detector tracks sensor edge state for one shuttle station. It is safe for
// concurrent use.
type Detector struct {
	mu         sync.Mutex
	detectType pressmodel.DetectType

	preS1, preS2 bool
	prevFiredAt  time.Time
}

// New returns a Detector configured with detectType. The dead-time clock
// starts at construction, so a detector never fires within DeadTime of
// being created.
func New(detectType pressmodel.DetectType) *Detector {
	return &Detector{detectType: detectType, prevFiredAt: time.Now()}
}

// SetDetectType changes which sensor combination triggers a detection,
// e.g. on a program change. It does not reset edge or dead-time state.
func (d *Detector) SetDetectType(detectType pressmodel.DetectType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detectType = detectType
}

// Check evaluates one sensor reading and reports whether a part was
// detected (a rising edge that cleared the dead-time filter). When it fires,
// event carries the detection timestamp and the interval since the previous
// detection; otherwise event is the zero value.
func (d *Detector) Check(s1, s2 bool) (fired bool, event pressmodel.PartEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	nowMs := now.UnixMilli()

	if now.Sub(d.prevFiredAt) <= DeadTime {
		return false, pressmodel.PartEvent{}
	}

	var hasPart bool
	switch d.detectType {
	case pressmodel.DetectOnlyS1:
		hasPart = s1 && !d.preS1
	case pressmodel.DetectOnlyS2:
		hasPart = s2 && !d.preS2
	default:
		hasPart = (s1 && s2) && (!d.preS1 || !d.preS2)
	}

	d.preS1, d.preS2 = s1, s2
	if !hasPart {
		return false, pressmodel.PartEvent{}
	}

	interval := now.Sub(d.prevFiredAt).Milliseconds()
	d.prevFiredAt = now
	return true, pressmodel.PartEvent{HasPartT: nowMs, IntervalMs: interval}
}
