package modbus_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/modbus"
)

const sampleAddressYAML = `
address:
  - light_enable
  - trigger_software
  - reserved
`

func writeSampleAddress(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "modbus_address.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleAddressYAML), 0o644))
	return path
}

func TestAddressTableLookup(t *testing.T) {
	tbl, err := modbus.LoadAddressTable(writeSampleAddress(t))
	require.NoError(t, err)

	addr, err := tbl.Address("light_enable")
	require.NoError(t, err)
	require.EqualValues(t, 0, addr)

	addr, err = tbl.Address("trigger_software")
	require.NoError(t, err)
	require.EqualValues(t, 1, addr)

	name, ok := tbl.NameAt(2)
	require.True(t, ok)
	require.Equal(t, "reserved", name)

	require.Equal(t, 3, tbl.Len())
}

func TestAddressTableUnknownName(t *testing.T) {
	tbl, err := modbus.LoadAddressTable(writeSampleAddress(t))
	require.NoError(t, err)

	_, err = tbl.Address("does_not_exist")
	require.Error(t, err)
}
