package catalogcfg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/catalogcfg"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

const sampleYAML = `
registered_cameras:
  - 10.0.0.1
  - 10.0.0.2
  - 10.0.0.3
parts:
  3:
    trigger_delay: 0.8
    shuttle_sensor_type: 1
    cameras:
      - 10.0.0.1
      - 10.0.0.2
  4:
    cameras:
      - 10.0.0.3
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "parts_info.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadAndPartInfoFor(t *testing.T) {
	cat, err := catalogcfg.Load(writeSample(t))
	require.NoError(t, err)

	info := cat.PartInfoFor(3)
	require.Equal(t, 0.8, info.TriggerDelaySeconds)
	require.Equal(t, pressmodel.DetectOnlyS1, info.DetectType)
	require.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, info.Cameras)

	defaultInfo := cat.PartInfoFor(4)
	require.Equal(t, catalogcfg.DefaultTriggerDelaySeconds, defaultInfo.TriggerDelaySeconds)
	require.Equal(t, pressmodel.DetectBoth, defaultInfo.DetectType)
}

func TestPartInfoForUnknownProgramUsesDefaults(t *testing.T) {
	cat, err := catalogcfg.Load(writeSample(t))
	require.NoError(t, err)

	info := cat.PartInfoFor(999)
	require.Equal(t, catalogcfg.DefaultTriggerDelaySeconds, info.TriggerDelaySeconds)
	require.Equal(t, pressmodel.DetectBoth, info.DetectType)
	require.Empty(t, info.Cameras)
}

func TestToOpenAndCloseRespectsRegisteredAllowlist(t *testing.T) {
	cat, err := catalogcfg.Load(writeSample(t))
	require.NoError(t, err)

	// running 10.0.0.3 (not required by program 3), need 10.0.0.1 and 10.0.0.2
	toOpen, toClose := cat.ToOpenAndClose(3, []string{"10.0.0.3"})
	require.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, toOpen)
	require.ElementsMatch(t, []string{"10.0.0.3"}, toClose)
}

func TestToOpenAndCloseIgnoresUnregisteredIPs(t *testing.T) {
	cat, err := catalogcfg.Load(writeSample(t))
	require.NoError(t, err)

	toOpen, toClose := cat.ToOpenAndClose(4, []string{"10.0.0.9"})
	require.ElementsMatch(t, []string{"10.0.0.3"}, toOpen)
	require.Empty(t, toClose, "10.0.0.9 is not a registered camera and must not be commanded")
}
