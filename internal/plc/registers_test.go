package plc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistersReadProgramIDUsesFixedAddress(t *testing.T) {
	fc := &fakeClient{db: map[int][]byte{61: {0, 0, 0, 77}}}
	r := NewRegisters(newTestAdapter(fc))
	id, err := r.ReadProgramID(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 77, id)
}

func TestRegistersReadShuttleSensorsUsesFixedAddress(t *testing.T) {
	fc := &fakeClient{pe: make([]byte, 539)}
	fc.pe[538] = 0b0000_0110 // bit1 and bit2 set
	r := NewRegisters(newTestAdapter(fc))
	s, err := r.ReadShuttleSensors(context.Background())
	require.NoError(t, err)
	require.True(t, s.S1)
	require.True(t, s.S2)
}

func TestRegistersReadRunningLightUsesFixedAddress(t *testing.T) {
	fc := &fakeClient{pa: make([]byte, 256)}
	fc.pa[255] = 0b1000_0000
	r := NewRegisters(newTestAdapter(fc))
	light, err := r.ReadRunningLight(context.Background())
	require.NoError(t, err)
	require.True(t, light)
}
