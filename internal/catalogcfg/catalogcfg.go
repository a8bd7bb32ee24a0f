// Package catalogcfg loads the YAML parts catalog that maps a stamping
// program id to its required cameras, software-trigger delay, and shuttle
// sensor combination.
package catalogcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

// DefaultTriggerDelaySeconds is used for any program id missing from the
// catalog, or missing a trigger_delay entry.
const DefaultTriggerDelaySeconds = 0.5

// PartInfo is one program id's entry in the catalog.
type PartInfo struct {
	TriggerDelaySeconds float64              `yaml:"trigger_delay"`
	ShuttleSensorType   int                  `yaml:"shuttle_sensor_type"`
	Cameras             []string             `yaml:"cameras"`
	DetectType          pressmodel.DetectType `yaml:"-"`
}

type rawCatalog struct {
	RegisteredCameras []string               `yaml:"registered_cameras"`
	Parts             map[uint16]rawPartInfo `yaml:"parts"`
}

type rawPartInfo struct {
	TriggerDelaySeconds *float64 `yaml:"trigger_delay"`
	ShuttleSensorType   int      `yaml:"shuttle_sensor_type"`
	Cameras             []string `yaml:"cameras"`
}

// Catalog is the parsed parts_info.yaml: the set of cameras allowed to be
// addressed by any program, and each program's per-id configuration.
type Catalog struct {
	RegisteredCameras map[string]struct{}
	Parts             map[pressmodel.ProgramID]PartInfo
}

// Load reads and parses a parts catalog YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalogcfg: reading %q: %w", path, err)
	}
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalogcfg: parsing %q: %w", path, err)
	}

	c := &Catalog{
		RegisteredCameras: make(map[string]struct{}, len(raw.RegisteredCameras)),
		Parts:             make(map[pressmodel.ProgramID]PartInfo, len(raw.Parts)),
	}
	for _, ip := range raw.RegisteredCameras {
		c.RegisteredCameras[ip] = struct{}{}
	}
	for id, p := range raw.Parts {
		delay := DefaultTriggerDelaySeconds
		if p.TriggerDelaySeconds != nil {
			delay = *p.TriggerDelaySeconds
		}
		c.Parts[pressmodel.ProgramID(id)] = PartInfo{
			TriggerDelaySeconds: delay,
			ShuttleSensorType:   p.ShuttleSensorType,
			Cameras:             p.Cameras,
			DetectType:          pressmodel.DetectTypeFromInt(p.ShuttleSensorType),
		}
	}
	return c, nil
}

// PartInfoFor returns the catalog entry for id, or the documented defaults
// (trigger_delay=0.5s, BOTH sensor type, no required cameras) when id is
// absent from the catalog.
func (c *Catalog) PartInfoFor(id pressmodel.ProgramID) PartInfo {
	if p, ok := c.Parts[id]; ok {
		return p
	}
	return PartInfo{
		TriggerDelaySeconds: DefaultTriggerDelaySeconds,
		DetectType:          pressmodel.DetectBoth,
	}
}

// IsRegistered reports whether ip is a known camera address.
func (c *Catalog) IsRegistered(ip string) bool {
	_, ok := c.RegisteredCameras[ip]
	return ok
}

// ToOpenAndClose computes which registered cameras must be opened and
// which must be closed to move from runningIPs to the set required by
// program id, intersected against the registered-camera allowlist so
// unknown IPs are never commanded.
func (c *Catalog) ToOpenAndClose(id pressmodel.ProgramID, runningIPs []string) (toOpen, toClose []string) {
	info := c.PartInfoFor(id)
	required := make(map[string]struct{}, len(info.Cameras))
	for _, ip := range info.Cameras {
		required[ip] = struct{}{}
	}
	running := make(map[string]struct{}, len(runningIPs))
	for _, ip := range runningIPs {
		running[ip] = struct{}{}
	}

	for ip := range running {
		if _, need := required[ip]; !need {
			if c.IsRegistered(ip) {
				toClose = append(toClose, ip)
			}
		}
	}
	for ip := range required {
		if _, isRunning := running[ip]; !isRunning {
			if c.IsRegistered(ip) {
				toOpen = append(toOpen, ip)
			}
		}
	}
	return toOpen, toClose
}
