package debounce_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/debounce"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

func TestDetectInsufficientSamples(t *testing.T) {
	d := debounce.New()
	d.Push(true)
	d.Push(true)
	_, err := d.Detect()
	require.ErrorIs(t, err, debounce.ErrInsufficientSamples)
}

func TestDetectAllTrueIsRunning(t *testing.T) {
	d := debounce.New()
	status, err := d.DetectLoop([]bool{true, true, true})
	require.NoError(t, err)
	require.Equal(t, pressmodel.Running, status)
}

func TestDetectAllFalseIsStopped(t *testing.T) {
	d := debounce.New()
	status, err := d.DetectLoop([]bool{false, false, false})
	require.NoError(t, err)
	require.Equal(t, pressmodel.Stopped, status)
}

func TestDetectMixedIsStandby(t *testing.T) {
	d := debounce.New()
	status, err := d.DetectLoop([]bool{true, false, true})
	require.NoError(t, err)
	require.Equal(t, pressmodel.Standby, status)
}

func TestDetectOnlyUsesMostRecentSamples(t *testing.T) {
	d := debounce.New()
	for _, v := range []bool{true, false, false, false} {
		d.Push(v)
	}
	status, err := d.Detect()
	require.NoError(t, err)
	require.Equal(t, pressmodel.Stopped, status)
}

func TestIsRunningCollapsesStandbyToFalse(t *testing.T) {
	require.True(t, pressmodel.Running.IsRunning())
	require.False(t, pressmodel.Standby.IsRunning())
	require.False(t, pressmodel.Stopped.IsRunning())
}
