// Package pressmodel holds the shared data model for the stamping line:
// press line identifiers, program ids, running status, and the part
// counter bias applied between the press's own count and the shuttle
// imaging station.
package pressmodel

import "fmt"

// ShuttleCounterBias is added to the PLC's raw part counter before it is
// republished at the shuttle station: the shuttle images parts one
// station downstream of where the press counts them.
const ShuttleCounterBias uint32 = 1

// RunningStatus is the tri-state result of debouncing the press's
// running-light samples.
type RunningStatus int

const (
	// Unknown is returned while too few samples have been observed to reach
	// a verdict. It is never published downstream.
	Unknown RunningStatus = iota
	Running
	Stopped
	Standby
)

func (s RunningStatus) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	case Standby:
		return "STANDBY"
	default:
		return "UNKNOWN"
	}
}

// IsRunning projects the tri-state status to the boolean the press reader
// and shuttle controller act on. STANDBY collapses to false: for lamp and
// trigger purposes a press in standby is not running, even though
// RunningStatus itself keeps STANDBY distinct.
func (s RunningStatus) IsRunning() bool {
	return s == Running
}

// DetectType selects which shuttle sensor edge the part detector fires on,
// keyed by the parts catalog entry for the currently loaded program.
type DetectType int

const (
	DetectBoth DetectType = iota
	DetectOnlyS1
	DetectOnlyS2
)

// DetectTypeFromInt maps the YAML catalog's integer encoding
// (0=BOTH, 1=ONLY_S1, 2=ONLY_S2) to a DetectType, defaulting unknown or
// illegal values to BOTH.
func DetectTypeFromInt(v int) DetectType {
	switch v {
	case int(DetectOnlyS1):
		return DetectOnlyS1
	case int(DetectOnlyS2):
		return DetectOnlyS2
	default:
		return DetectBoth
	}
}

func (d DetectType) String() string {
	switch d {
	case DetectOnlyS1:
		return "ONLY_S1"
	case DetectOnlyS2:
		return "ONLY_S2"
	default:
		return "BOTH"
	}
}

// ShuttleSensorReading is a single poll of the shuttle's two photoelectric
// sensors, captured at millisecond resolution.
type ShuttleSensorReading struct {
	S1   bool
	S2   bool
	AtMs int64
}

// PartEvent is an edge-triggered "a part is present" detection.
type PartEvent struct {
	// HasPartT is the millisecond timestamp of the rising edge.
	HasPartT int64
	// IntervalMs is the time since the previous fired event on this line,
	// used only for logging/telemetry.
	IntervalMs int64
}

// PartCounter is the press's raw, monotonic part count as read from the
// PLC. AtShuttle applies the location bias documented by ShuttleCounterBias.
type PartCounter uint32

func (c PartCounter) AtShuttle() PartCounter {
	return c + PartCounter(ShuttleCounterBias)
}

// Line identifies a press line, e.g. "5-100". It partitions every broker
// namespace and every per-line goroutine group.
type Line string

func (l Line) String() string {
	return string(l)
}

// ProgramID identifies the currently loaded stamping program.
type ProgramID uint16

func (p ProgramID) String() string {
	return fmt.Sprintf("%d", uint16(p))
}
