// Command collector runs the image collector: per newly published part
// counter, it waits for every running camera's frame, writes it to disk
// and the relational catalog, and fires a multicast completion ping.
package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/broker"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/catalog"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/collector"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/config"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/frame"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/imagefs"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/multicast"
	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

type options struct {
	Press     config.Press     `group:"press" namespace:"press" env-namespace:"PRESS"`
	Broker    config.Broker    `group:"broker" namespace:"broker" env-namespace:"BROKER"`
	CatalogDB config.CatalogDB `group:"catalog-db" namespace:"catalog-db" env-namespace:"CATALOG_DB"`
	Images    config.Images    `group:"images" namespace:"images" env-namespace:"IMAGES"`
	Multicast config.Multicast `group:"multicast" namespace:"multicast" env-namespace:"MULTICAST"`
	Log       config.Log       `group:"log" namespace:"log" env-namespace:"LOG"`
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

	rdb := redis.NewClient(&redis.Options{Addr: opts.Broker.Addr, Password: opts.Broker.Password, DB: opts.Broker.DB})
	b := broker.New(rdb, log)
	defer b.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := b.Ping(ctx); err != nil {
		log.WithError(err).Fatal("connecting to broker")
	}

	sink, err := catalog.Open(opts.CatalogDB.DSN, log)
	if err != nil {
		log.WithError(err).Fatal("opening catalog database")
	}
	defer sink.Close()

	ping, err := multicast.NewPinger(opts.Multicast.Group, opts.Multicast.Port, opts.Multicast.Interface, opts.Multicast.TTL)
	if err != nil {
		log.WithError(err).Fatal("opening multicast pinger")
	}
	defer ping.Close()

	writer := imagefs.New(opts.Images.Root, opts.Images.Prefix, opts.Images.Format, opts.Images.Overwrite, encodePNG)
	c := collector.New(line, b, sink, writer, ping, opts.Images.Timeout, log)

	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("image collector exited")
	}
}

// encodePNG renders a decoded uint8 frame as a grayscale or RGB PNG
// depending on its shape's channel count: a lossless container write of
// the already-captured pixel buffer, no processing.
func encodePNG(f frame.Frame) ([]byte, error) {
	if len(f.Meta.Shape) < 2 {
		return nil, fmt.Errorf("cmd/collector: frame shape %v has no height/width", f.Meta.Shape)
	}
	height, width := f.Meta.Shape[0], f.Meta.Shape[1]
	channels := 1
	if len(f.Meta.Shape) >= 3 {
		channels = f.Meta.Shape[2]
	}

	var img image.Image
	switch channels {
	case 1:
		gray := image.NewGray(image.Rect(0, 0, width, height))
		copy(gray.Pix, f.Pixels)
		img = gray
	case 3:
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		for i := 0; i < width*height; i++ {
			rgba.Set(i%width, i/width, color.RGBA{
				R: f.Pixels[i*3],
				G: f.Pixels[i*3+1],
				B: f.Pixels[i*3+2],
				A: 255,
			})
		}
		img = rgba
	default:
		return nil, fmt.Errorf("cmd/collector: unsupported channel count %d", channels)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("cmd/collector: encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
