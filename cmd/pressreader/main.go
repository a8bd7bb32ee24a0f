// Command pressreader runs the press reader for one or more configured
// press lines: it samples the PLC's running-light and program-id
// registers on independent schedules and republishes them into the
// broker's program-id and running-status streams. Lines share one process
// and one PLC worker pool, each line running its own goroutine group.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/config"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/plc"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressreader"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/workerpool"
)

type options struct {
	Lines  []string          `long:"line" env:"LINES" env-delim:"," required:"true" description:"Press line identifier(s) to run, e.g. 5-100"`
	Broker config.Broker     `group:"broker" namespace:"broker" env-namespace:"BROKER"`
	PLC    config.PLC        `group:"plc" namespace:"plc" env-namespace:"PLC"`
	Pool   config.WorkerPool `group:"worker-pool" namespace:"worker-pool" env-namespace:"WORKER_POOL"`
	Log    config.Log        `group:"log" namespace:"log" env-namespace:"LOG"`
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

	rdb := redis.NewClient(&redis.Options{Addr: opts.Broker.Addr, Password: opts.Broker.Password, DB: opts.Broker.DB})
	b := broker.New(rdb, log)
	defer b.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := b.Ping(ctx); err != nil {
		log.WithError(err).Fatal("connecting to broker")
	}

	pool := workerpool.New(opts.Pool.Size)

	g, ctx := errgroup.WithContext(ctx)
	for _, lineID := range opts.Lines {
		line := pressmodel.Line(lineID)
		adapter := plc.New(opts.PLC.Addr, opts.PLC.Rack, opts.PLC.Slot, pool, log.WithField("line", line))
		regs := plc.NewRegisters(adapter)
		reader := pressreader.New(line, b, regs, regs, log.WithField("line", line))
		g.Go(func() error { return reader.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
