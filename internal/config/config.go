// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ffutop/x200-tester/internal/regmap"
)

// Link types
const (
	LinkRTU        = "rtu"
	LinkRTUOverTCP = "rtu-over-tcp"
)

// Config defines the global configuration structure
type Config struct {
	Log               LogConfig         `mapstructure:"log"`
	Link              LinkConfig        `mapstructure:"link"`
	Transport         TransportConfig   `mapstructure:"transport"`
	SlaveID           int               `mapstructure:"slave_id"`
	RegisterMap       RegisterMapConfig `mapstructure:"register_map"`
	FrequencyDecimals int               `mapstructure:"frequency_decimals"`
	Sequence          []StepConfig      `mapstructure:"sequence"`
	Report            ReportConfig      `mapstructure:"report"`
	Simulator         SimulatorConfig   `mapstructure:"simulator"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	File   string `mapstructure:"file"`   // Log file path
	Format string `mapstructure:"format"` // text, json, console
}

// LinkConfig selects the channel the drive is reached through.
type LinkConfig struct {
	Type   string       `mapstructure:"type"`   // "rtu", "rtu-over-tcp"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "rtu"
	Tcp    TcpConfig    `mapstructure:"tcp"`    // Used if Type is "rtu-over-tcp"
}

// TcpConfig defines the serial device server an RTU-over-TCP link dials.
type TcpConfig struct {
	Address     string        `mapstructure:"address"` // e.g. "192.168.1.100:4001"
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// TransportConfig defines the request/response timing discipline.
type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // max silence between two response bytes
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // max time to put a request on the wire; rtu-over-tcp only, serial writes are unbounded
	Retry        bool          `mapstructure:"retry"`         // retry once on no/truncated response
}

// RegisterMapConfig holds coil and register numbers as printed in the drive
// manual (1-based).
type RegisterMapConfig struct {
	Run       int           `mapstructure:"run"`
	Forward   int           `mapstructure:"forward"`
	Trip      int           `mapstructure:"trip"`
	Reset     int           `mapstructure:"reset"`
	Status    []LabelConfig `mapstructure:"status"`
	Frequency int           `mapstructure:"frequency"`
}

// LabelConfig names one coil of the status bundle.
type LabelConfig struct {
	Label  string `mapstructure:"label"`
	Number int    `mapstructure:"number"`
}

// StepConfig is one step of the test choreography.
type StepConfig struct {
	Name      string        `mapstructure:"name"`
	Action    string        `mapstructure:"action"` // reset, set-run, set-reverse, set-frequency, trip
	Enable    bool          `mapstructure:"enable"` // used by set-run and set-reverse
	Frequency int           `mapstructure:"frequency"` // raw register value, 0..65535
	Settle    time.Duration `mapstructure:"settle"`
}

// ReportConfig defines where the run transcript is written.
type ReportConfig struct {
	File string `mapstructure:"file"` // YAML transcript, empty disables it
}

// SimulatorConfig enables the in-process drive simulator.
type SimulatorConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Listen      string            `mapstructure:"listen"` // RTU over TCP address served when link.type is "rtu-over-tcp"
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines simulator state storage
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// Numbers converts the configured map into the numbers regmap builds from.
func (c RegisterMapConfig) Numbers() regmap.Numbers {
	n := regmap.Numbers{
		Run:       c.Run,
		Forward:   c.Forward,
		Trip:      c.Trip,
		Reset:     c.Reset,
		Frequency: c.Frequency,
	}
	for _, s := range c.Status {
		n.Status = append(n.Status, regmap.StatusNumber{Label: s.Label, Number: s.Number})
	}
	return n
}

// DefaultStatusLabels returns the X200 status bundle.
func DefaultStatusLabels() []LabelConfig {
	var labels []LabelConfig
	for _, s := range regmap.DefaultNumbers().Status {
		labels = append(labels, LabelConfig{Label: s.Label, Number: s.Number})
	}
	return labels
}

// Flags returns the command line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("x200-tester", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("device", "p", "", "Serial port device name.")
	fs.IntP("baud_rate", "s", 0, "Serial port speed.")
	fs.IntP("slave_id", "a", 0, "Slave address of the drive.")
	fs.DurationP("timeout", "W", 0, "Max silence between response bytes.")
	fs.StringP("log_level", "v", "", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log_file", "L", "", "Log file name ('-' for logging to STDOUT only).")
	fs.StringP("report", "r", "", "Write a YAML transcript of the run to this file.")
	fs.Bool("simulate", false, "Run against the built-in drive simulator.")
	fs.Bool("dump", false, "Read status and frequency once and exit.")
	return fs
}

var flagKeys = map[string]string{
	"device":    "link.serial.device",
	"baud_rate": "link.serial.baud_rate",
	"slave_id":  "slave_id",
	"timeout":   "transport.read_timeout",
	"log_level": "log.level",
	"log_file":  "log.file",
	"report":    "report.file",
	"simulate":  "simulator.enabled",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("link.type", LinkRTU)
	v.SetDefault("link.serial.device", "/dev/ttyS0")
	v.SetDefault("link.serial.baud_rate", 9600)
	v.SetDefault("link.serial.data_bits", 8)
	v.SetDefault("link.serial.parity", "N")
	v.SetDefault("link.serial.stop_bits", 1)
	v.SetDefault("link.tcp.dial_timeout", 5*time.Second)
	v.SetDefault("transport.read_timeout", 600*time.Millisecond)
	v.SetDefault("transport.write_timeout", 2*time.Second)
	v.SetDefault("transport.retry", true)
	v.SetDefault("slave_id", 1)
	regs := regmap.DefaultNumbers()
	v.SetDefault("register_map.run", regs.Run)
	v.SetDefault("register_map.forward", regs.Forward)
	v.SetDefault("register_map.trip", regs.Trip)
	v.SetDefault("register_map.reset", regs.Reset)
	v.SetDefault("register_map.frequency", regs.Frequency)
	v.SetDefault("frequency_decimals", 0)
	v.SetDefault("simulator.listen", "127.0.0.1:0")
	v.SetDefault("simulator.persistence.type", "memory")
}

// Load loads configuration from the file named by the "config" flag (or the
// default search path) and overlays the command line flags that were set.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := ""
	if flags != nil {
		configFile, _ = flags.GetString("config")
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/x200tester/")
		v.AddConfigPath("$HOME/.x200tester")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// flags and defaults are enough to run without a file
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixup(&config)
	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixup(c *Config) {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.Link.Type = strings.ToLower(c.Link.Type)
	fixupSerial(&c.Link.Serial)
	if c.Transport.ReadTimeout <= 0 {
		c.Transport.ReadTimeout = 600 * time.Millisecond
	}
	if c.Transport.WriteTimeout <= 0 {
		c.Transport.WriteTimeout = 2 * time.Second
	}
	if len(c.RegisterMap.Status) == 0 {
		c.RegisterMap.Status = DefaultStatusLabels()
	}
	for i := range c.Sequence {
		c.Sequence[i].Action = strings.ToLower(strings.TrimSpace(c.Sequence[i].Action))
	}
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
}
