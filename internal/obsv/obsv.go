// Package obsv holds the Prometheus metrics shared by the coordination
// components.
package obsv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PartsDetected counts shuttle part-detection edges, per line.
	PartsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shuttlectl_parts_detected_total",
		Help: "count of part-detection edges observed by the shuttle controller",
	}, []string{"line"})

	// TriggersDispatched counts software-trigger fan-outs, per line.
	TriggersDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shuttlectl_triggers_dispatched_total",
		Help: "count of software-trigger command batches published to the camera fleet",
	}, []string{"line"})

	// FramesWritten counts frames the camera agent deposited into the
	// broker, per line and camera IP.
	FramesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cameraagent_frames_written_total",
		Help: "count of frames a camera agent wrote to the broker",
	}, []string{"line", "camera_ip"})

	// FramesPersisted counts frames the image collector wrote to disk and
	// the catalog, per line.
	FramesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_frames_persisted_total",
		Help: "count of frames the image collector wrote to disk and the catalog",
	}, []string{"line"})

	// CollectorTimeouts counts collector.ErrConsistencyTimeout events, per
	// line.
	CollectorTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_consistency_timeouts_total",
		Help: "count of part events abandoned after the photographed-set wait timed out",
	}, []string{"line"})

	// RunningCameraCount gauges the current size of the running-camera
	// set, per line, as last observed by the shuttle controller.
	RunningCameraCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shuttlectl_running_camera_count",
		Help: "number of cameras currently in the running-camera set",
	}, []string{"line"})
)
