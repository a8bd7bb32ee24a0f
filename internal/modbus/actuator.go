package modbus

import (
	"fmt"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"
)

// IlluminationActuator writes named holding registers on a Modbus TCP
// illumination controller. A new TCP handler is opened per operation
// rather than holding a long-lived connection open, so a dropped link
// heals on the next write.
type IlluminationActuator struct {
	host    string
	port    int
	slaveID byte
	timeout time.Duration
	table   *AddressTable
	log     logrus.FieldLogger
}

// NewIlluminationActuator returns an actuator that writes to host:port as
// Modbus unit slaveID, resolving register names through table.
func NewIlluminationActuator(host string, port int, slaveID byte, table *AddressTable, log logrus.FieldLogger) *IlluminationActuator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &IlluminationActuator{
		host:    host,
		port:    port,
		slaveID: slaveID,
		timeout: 5 * time.Second,
		table:   table,
		log:     log,
	}
}

func (a *IlluminationActuator) newClient() (gomodbus.Client, *gomodbus.TCPClientHandler) {
	handler := gomodbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", a.host, a.port))
	handler.SlaveId = a.slaveID
	handler.Timeout = a.timeout
	return gomodbus.NewClient(handler), handler
}

// Write writes named->value holding register pairs in one connection,
// collecting every per-register error before returning.
func (a *IlluminationActuator) Write(registers map[string]uint16) error {
	if len(registers) == 0 {
		return nil
	}
	client, handler := a.newClient()
	if err := handler.Connect(); err != nil {
		return fmt.Errorf("modbus: connect %s:%d: %w", a.host, a.port, err)
	}
	defer handler.Close()

	var errs []string
	for name, value := range registers {
		addr, err := a.table.Address(name)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if _, err := client.WriteSingleRegister(addr, value); err != nil {
			errs = append(errs, fmt.Sprintf("addr %d (%s): %v", addr, name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("modbus: write holding registers for slave %d: %v", a.slaveID, errs)
	}
	a.log.WithField("registers", registers).Info("wrote modbus holding registers")
	return nil
}

// SetLightEnable writes the light_enable register, the only register the
// shuttle controller's light-control loop drives.
func (a *IlluminationActuator) SetLightEnable(enabled bool) error {
	var v uint16
	if enabled {
		v = 1
	}
	return a.Write(map[string]uint16{"light_enable": v})
}

// ReadAll reads every named register in the address table.
func (a *IlluminationActuator) ReadAll() (map[string]uint16, error) {
	client, handler := a.newClient()
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("modbus: connect %s:%d: %w", a.host, a.port, err)
	}
	defer handler.Close()

	n := a.table.Len()
	raw, err := client.ReadHoldingRegisters(0, uint16(n))
	if err != nil {
		return nil, fmt.Errorf("modbus: read holding registers [0,%d): %w", n, err)
	}
	out := make(map[string]uint16, n)
	for i := 0; i < n; i++ {
		name, ok := a.table.NameAt(uint16(i))
		if !ok {
			continue
		}
		if (i*2)+1 >= len(raw) {
			break
		}
		out[name] = uint16(raw[i*2])<<8 | uint16(raw[i*2+1])
	}
	return out, nil
}
