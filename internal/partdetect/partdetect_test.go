package partdetect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

func newClearedDetector(t pressmodel.DetectType) *Detector {
	d := New(t)
	d.prevFiredAt = time.Now().Add(-2 * DeadTime)
	return d
}

func TestBothSensorsFireOnceAcrossSequence(t *testing.T) {
	d := newClearedDetector(pressmodel.DetectBoth)

	seq := []struct{ s1, s2 bool }{
		{false, false},
		{true, false},
		{true, true},
		{true, true},
		{false, false},
	}

	fires := 0
	for _, s := range seq {
		fired, _ := d.Check(s.s1, s.s2)
		if fired {
			fires++
		}
	}
	require.Equal(t, 1, fires)
}

func TestDeadTimeSuppressesImmediateRefire(t *testing.T) {
	d := newClearedDetector(pressmodel.DetectBoth)

	fired, _ := d.Check(true, true)
	require.True(t, fired)

	fired, _ = d.Check(false, false)
	require.False(t, fired)
	fired, _ = d.Check(true, true)
	require.False(t, fired, "dead-time window should suppress an immediate re-fire")
}

func TestOnlyS1DetectType(t *testing.T) {
	d := newClearedDetector(pressmodel.DetectOnlyS1)
	fired, _ := d.Check(false, false)
	require.False(t, fired)
	fired, _ = d.Check(true, false)
	require.True(t, fired)
}

func TestOnlyS2DetectType(t *testing.T) {
	d := newClearedDetector(pressmodel.DetectOnlyS2)
	fired, _ := d.Check(false, false)
	require.False(t, fired)
	fired, _ = d.Check(false, true)
	require.True(t, fired)
}

func TestSetDetectTypeChangesLogicWithoutResettingEdges(t *testing.T) {
	d := newClearedDetector(pressmodel.DetectBoth)
	_, _ = d.Check(true, false)
	d.SetDetectType(pressmodel.DetectOnlyS1)
	fired, _ := d.Check(true, false)
	require.False(t, fired, "s1 already true, no rising edge")
}
