package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/pebblectl/internal/transport"
)

// settings is the fully resolved connection configuration: built-in
// defaults, overlaid by the config file, overlaid by flags.
type settings struct {
	PebbleID   string
	Device     string
	BaudRate   int
	UseBLE     bool
	BLEName    string
	BLEAddress string
	Timeout    time.Duration
}

type fileConfig struct {
	PebbleID   string `toml:"pebble_id"`
	Device     string `toml:"device"`
	BaudRate   int    `toml:"baud_rate"`
	Transport  string `toml:"transport"`
	BLEName    string `toml:"ble_name"`
	BLEAddress string `toml:"ble_address"`
	Timeout    string `toml:"timeout"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pebblectl", "config.toml")
}

func resolveSettings(cli *CLI) (settings, error) {
	s := settings{BaudRate: transport.DefaultBaudRate}

	path := cli.Config
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path != "" {
		err := loadFileConfig(path, &s)
		switch {
		case err == nil:
		case !explicit && errors.Is(err, fs.ErrNotExist):
			// No config file is fine unless one was named.
		default:
			return settings{}, err
		}
	}

	if cli.PebbleID != "" {
		s.PebbleID = cli.PebbleID
	}
	if cli.Device != "" {
		s.Device = cli.Device
	}
	if cli.Baud > 0 {
		s.BaudRate = cli.Baud
	}
	if cli.BLE {
		s.UseBLE = true
	}
	if cli.BLEName != "" {
		s.BLEName = cli.BLEName
		s.UseBLE = true
	}
	if cli.BLEAddress != "" {
		s.BLEAddress = cli.BLEAddress
		s.UseBLE = true
	}
	if cli.Timeout > 0 {
		s.Timeout = cli.Timeout
	}
	return s, nil
}

func loadFileConfig(path string, s *settings) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("pebble_id") {
		s.PebbleID = strings.TrimSpace(raw.PebbleID)
	}
	if meta.IsDefined("device") {
		s.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("baud_rate") && raw.BaudRate > 0 {
		s.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("transport") {
		switch mode := strings.ToLower(strings.TrimSpace(raw.Transport)); mode {
		case "serial":
			s.UseBLE = false
		case "ble", "bluetooth":
			s.UseBLE = true
		default:
			return fmt.Errorf("load config: unknown transport %q", mode)
		}
	}
	if meta.IsDefined("ble_name") {
		s.BLEName = strings.TrimSpace(raw.BLEName)
	}
	if meta.IsDefined("ble_address") {
		s.BLEAddress = strings.TrimSpace(raw.BLEAddress)
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		s.Timeout = d
	}
	return nil
}
