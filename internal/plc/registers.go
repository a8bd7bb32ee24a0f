package plc

import (
	"context"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

// The only register addresses this system reads. They are not
// configurable because they describe a specific PLC program's memory
// layout, not a deployment parameter.
const (
	runningLightByte = 255
	runningLightBit  = 7

	programIDDB     = 61
	programIDOffset = 2

	partCounterDB     = 160
	partCounterOffset = 54

	shuttleSensorByte = 538
	shuttleSensorBit1 = 1
	shuttleSensorBit2 = 2
)

// Registers binds a generic Adapter to the fixed press register layout,
// giving the narrow, no-argument read methods that internal/pressreader
// and internal/shuttle depend on.
type Registers struct {
	adapter *Adapter
}

// NewRegisters wraps adapter with the fixed press register addresses.
func NewRegisters(adapter *Adapter) *Registers {
	return &Registers{adapter: adapter}
}

func (r *Registers) ReadRunningLight(ctx context.Context) (bool, error) {
	return r.adapter.ReadRunningLight(ctx, runningLightByte, runningLightBit)
}

func (r *Registers) ReadProgramID(ctx context.Context) (pressmodel.ProgramID, error) {
	id, err := r.adapter.ReadProgramID(ctx, programIDDB, programIDOffset)
	return pressmodel.ProgramID(id), err
}

func (r *Registers) ReadPartCounter(ctx context.Context) (pressmodel.PartCounter, error) {
	count, err := r.adapter.ReadPartCounter(ctx, partCounterDB, partCounterOffset)
	return pressmodel.PartCounter(count), err
}

func (r *Registers) ReadShuttleSensors(ctx context.Context) (ShuttleSensors, error) {
	return r.adapter.ReadShuttleSensors(ctx, shuttleSensorByte, shuttleSensorBit1, shuttleSensorBit2)
}
