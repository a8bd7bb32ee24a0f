// Package plc adapts Siemens S7 PLC register reads (running light,
// program id, part counter, shuttle sensors) to the shared worker pool so
// blocking S7 I/O never occupies a goroutine meant for scheduling or
// broker I/O.
package plc

import (
	"context"
	"fmt"

	"github.com/robinson/gos7"
	"github.com/sirupsen/logrus"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/workerpool"
)

// Area names the S7 memory area a register lives in.
type Area string

const (
	AreaDB Area = "DB"
	AreaPE Area = "PE" // inputs
	AreaPA Area = "PA" // outputs
)

// Client is the subset of gos7's client the adapter needs, narrowed for
// fakeability in tests.
type Client interface {
	AGReadDB(dbNumber, start, size int, buffer []byte) error
	AGReadEB(start, size int, buffer []byte) error
	AGReadAB(start, size int, buffer []byte) error
	Connect() error
	Close() error
}

// gos7Client wraps gos7.Client (a *TCPClientHandler-backed implementation)
// behind the narrower Client interface above.
type gos7Client struct {
	handler *gos7.TCPClientHandler
	client  gos7.Client
}

func dialGos7(ip string, rack, slot int) *gos7Client {
	handler := gos7.NewTCPClientHandler(ip, rack, slot)
	return &gos7Client{handler: handler, client: gos7.NewClient(handler)}
}

func (c *gos7Client) Connect() error { return c.handler.Connect() }
func (c *gos7Client) Close() error   { c.handler.Close(); return nil }

func (c *gos7Client) AGReadDB(dbNumber, start, size int, buffer []byte) error {
	return c.client.AGReadDB(dbNumber, start, size, buffer)
}
func (c *gos7Client) AGReadEB(start, size int, buffer []byte) error {
	return c.client.AGReadEB(start, size, buffer)
}
func (c *gos7Client) AGReadAB(start, size int, buffer []byte) error {
	return c.client.AGReadAB(start, size, buffer)
}

// Adapter addresses one PLC, parameterized by rack/slot (derived from the
// PLC model) and its IP; each read opens and closes its own connection.
// One Adapter is created per configured press line.
type Adapter struct {
	ip      string
	rack    int
	slot    int
	pool    *workerpool.Pool
	log     logrus.FieldLogger
	newConn func() Client
}

// New returns an Adapter for a PLC at ip with the given rack/slot
// (S7-300 families commonly use rack=0, slot=2). I/O is offloaded onto
// pool.
func New(ip string, rack, slot int, pool *workerpool.Pool, log logrus.FieldLogger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{
		ip: ip, rack: rack, slot: slot, pool: pool, log: log,
		newConn: func() Client { return dialGos7(ip, rack, slot) },
	}
}

// ErrUnavailable wraps any transport-level failure talking to the PLC.
type ErrUnavailable struct {
	IP  string
	Err error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("plc: %s unavailable: %v", e.IP, e.Err)
}

func (e *ErrUnavailable) Unwrap() error { return e.Err }

func (a *Adapter) withConn(fn func(Client) error) error {
	c := a.newConn()
	if err := c.Connect(); err != nil {
		return &ErrUnavailable{IP: a.ip, Err: err}
	}
	defer c.Close()
	if err := fn(c); err != nil {
		return &ErrUnavailable{IP: a.ip, Err: err}
	}
	return nil
}

// ReadRunningLight reads a single BOOL at area PA, byte offset, bit
// offset -- the Press1stReader register layout.
func (a *Adapter) ReadRunningLight(ctx context.Context, byteOffset, bitOffset int) (bool, error) {
	return workerpool.Submit(ctx, a.pool, func() (bool, error) {
		var buf [1]byte
		var light bool
		err := a.withConn(func(c Client) error {
			if err := c.AGReadAB(byteOffset, 1, buf[:]); err != nil {
				return err
			}
			var h gos7.Helper
			light = h.GetBoolAt(buf[0], uint(bitOffset))
			return nil
		})
		return light, err
	})
}

// ReadProgramID reads a single WORD at the given DB/offset -- the
// PressHeadReader register layout.
func (a *Adapter) ReadProgramID(ctx context.Context, dbNumber, start int) (uint16, error) {
	return workerpool.Submit(ctx, a.pool, func() (uint16, error) {
		var buf [2]byte
		var id uint16
		err := a.withConn(func(c Client) error {
			if err := c.AGReadDB(dbNumber, start, 2, buf[:]); err != nil {
				return err
			}
			var h gos7.Helper
			h.GetValueAt(buf[:], 0, &id)
			return nil
		})
		return id, err
	})
}

// ReadPartCounter reads a single DWORD at the given DB/offset -- the
// PressTailReader register layout.
func (a *Adapter) ReadPartCounter(ctx context.Context, dbNumber, start int) (uint32, error) {
	return workerpool.Submit(ctx, a.pool, func() (uint32, error) {
		var buf [4]byte
		var count uint32
		err := a.withConn(func(c Client) error {
			if err := c.AGReadDB(dbNumber, start, 4, buf[:]); err != nil {
				return err
			}
			var h gos7.Helper
			h.GetValueAt(buf[:], 0, &count)
			return nil
		})
		return count, err
	})
}

// ShuttleSensors is a single poll of the two photoelectric sensors at area
// PE, read as adjacent bits of one byte.
type ShuttleSensors struct {
	S1, S2 bool
}

// ReadShuttleSensors reads two adjacent BOOL bits at area PE, byte
// byteOffset, bit offsets bit1/bit2 -- the PressTailReader register
// layout.
func (a *Adapter) ReadShuttleSensors(ctx context.Context, byteOffset, bit1, bit2 int) (ShuttleSensors, error) {
	return workerpool.Submit(ctx, a.pool, func() (ShuttleSensors, error) {
		var buf [1]byte
		var s ShuttleSensors
		err := a.withConn(func(c Client) error {
			if err := c.AGReadEB(byteOffset, 1, buf[:]); err != nil {
				return err
			}
			var h gos7.Helper
			s.S1 = h.GetBoolAt(buf[0], uint(bit1))
			s.S2 = h.GetBoolAt(buf[0], uint(bit2))
			return nil
		})
		return s, err
	})
}
