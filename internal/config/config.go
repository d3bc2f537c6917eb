// Package config loads device-manager/broker/SMIO settings from an
// INI file using gopkg.in/ini.v1, the same library and load-from-path
// pattern pkg/od/parser.go uses for EDS files.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// DeviceManager holds the settings the device-manager process needs
// to discover endpoints and supervise its children.
type DeviceManager struct {
	BrokerAddr           string
	BrokerPath           string
	SMIOPath             string
	ScanRoot             string
	ScanPattern          string
	RespawnKilledWorkers bool
	LogFile              string
}

// Load reads a DeviceManager configuration from an INI file at path,
// under a single [devicemanager] section.
func Load(path string) (*DeviceManager, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	section := file.Section("devicemanager")

	cfg := &DeviceManager{
		BrokerAddr:  section.Key("broker_addr").MustString("127.0.0.1:9090"),
		BrokerPath:  section.Key("broker_path").MustString("bpm-broker"),
		SMIOPath:    section.Key("smio_path").MustString("bpm-smio"),
		ScanRoot:    section.Key("scan_root").MustString("/dev"),
		ScanPattern: section.Key("scan_pattern").MustString("fpga*"),
		LogFile:     section.Key("log_file").MustString(""),
	}
	cfg.RespawnKilledWorkers, err = section.Key("respawn_killed_workers").Bool()
	if err != nil {
		cfg.RespawnKilledWorkers = true
	}
	return cfg, nil
}

// PollInterval and Deadline are shared by client tooling (cmd/bpmctl)
// for the acquisition helper's bounded backoff and overall deadline,
// per spec §5 "all client-visible waits accept a millisecond
// deadline".
type ClientTiming struct {
	PollInterval time.Duration
	Deadline     time.Duration
}

// DefaultClientTiming is the out-of-the-box polling cadence for the
// acquisition client helper.
var DefaultClientTiming = ClientTiming{
	PollInterval: 10 * time.Millisecond,
	Deadline:     5 * time.Second,
}
