package modbus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rawAddressFile struct {
	Address []string `yaml:"address"`
}

// AddressTable maps named holding registers to their numeric address,
// loaded from a YAML file listing register names in address order.
type AddressTable struct {
	names  []string
	byName map[string]uint16
}

// LoadAddressTable reads a YAML address table of the form:
//
//	address:
//	  - light_enable
//	  - trigger_software
//
// Register i's address is its position in the list.
func LoadAddressTable(path string) (*AddressTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modbus: reading address table %q: %w", path, err)
	}
	var raw rawAddressFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("modbus: parsing address table %q: %w", path, err)
	}
	t := &AddressTable{
		names:  raw.Address,
		byName: make(map[string]uint16, len(raw.Address)),
	}
	for i, name := range raw.Address {
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("modbus: address table %q has duplicate name %q", path, name)
		}
		t.byName[name] = uint16(i)
	}
	return t, nil
}

// Address returns the register address for name.
func (t *AddressTable) Address(name string) (uint16, error) {
	addr, ok := t.byName[name]
	if !ok {
		return 0, fmt.Errorf("modbus: address %q is not defined in the address table", name)
	}
	return addr, nil
}

// NameAt returns the register name at addr, for read-result labeling.
func (t *AddressTable) NameAt(addr uint16) (string, bool) {
	if int(addr) >= len(t.names) {
		return "", false
	}
	return t.names[addr], true
}

// Len reports how many named registers the table holds.
func (t *AddressTable) Len() int {
	return len(t.names)
}
