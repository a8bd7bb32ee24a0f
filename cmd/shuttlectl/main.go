// Command shuttlectl runs the shuttle controller: per program id it
// opens/closes the relevant cameras, detects parts crossing the shuttle
// sensors, fans out software triggers, advances the part counter, and
// drives the illumination lamp.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/bus"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/catalogcfg"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/config"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/modbus"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/partdetect"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/plc"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/shuttle"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/workerpool"
)

type options struct {
	Press   config.Press      `group:"press" namespace:"press" env-namespace:"PRESS"`
	Broker  config.Broker     `group:"broker" namespace:"broker" env-namespace:"BROKER"`
	Bus     config.Bus        `group:"bus" namespace:"bus" env-namespace:"BUS"`
	Catalog config.Catalog    `group:"catalog" namespace:"catalog" env-namespace:"CATALOG"`
	PLC     config.PLC        `group:"plc" namespace:"plc" env-namespace:"PLC"`
	Modbus  config.Modbus     `group:"modbus" namespace:"modbus" env-namespace:"MODBUS"`
	Pool    config.WorkerPool `group:"worker-pool" namespace:"worker-pool" env-namespace:"WORKER_POOL"`
	Log     config.Log        `group:"log" namespace:"log" env-namespace:"LOG"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(opts.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
	line := pressmodel.Line(opts.Press.Line)

	cat, err := catalogcfg.Load(opts.Catalog.Path)
	if err != nil {
		log.WithError(err).Fatal("loading parts catalog")
	}
	addrTable, err := modbus.LoadAddressTable(opts.Modbus.AddressPath)
	if err != nil {
		log.WithError(err).Fatal("loading modbus address table")
	}

	rdb := redis.NewClient(&redis.Options{Addr: opts.Broker.Addr, Password: opts.Broker.Password, DB: opts.Broker.DB})
	b := broker.New(rdb, log)
	defer b.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := b.Ping(ctx); err != nil {
		log.WithError(err).Fatal("connecting to broker")
	}

	commandBus := bus.NewCommandBus(opts.Bus.URL, "shuttle", log)
	if err := commandBus.Connect(); err != nil {
		log.WithError(err).Fatal("connecting to command bus")
	}
	defer commandBus.Close()

	pool := workerpool.New(opts.Pool.Size)
	adapter := plc.New(opts.PLC.Addr, opts.PLC.Rack, opts.PLC.Slot, pool, log)
	regs := plc.NewRegisters(adapter)
	lamp := modbus.NewIlluminationActuator(opts.Modbus.Host, opts.Modbus.Port, byte(opts.Modbus.SlaveID), addrTable, log)

	det := partdetect.New(cat.PartInfoFor(0).DetectType)
	controller := shuttle.New(line, cat, b, commandBus, regs, regs, lamp, det, log)

	if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("shuttle controller exited")
	}
}
