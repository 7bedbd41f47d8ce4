// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/x200-tester/internal/regmap"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := Flags()
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "log:\n  level: INFO\n")
	cfg, err := load(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, LinkRTU, cfg.Link.Type)
	assert.Equal(t, "/dev/ttyS0", cfg.Link.Serial.Device)
	assert.Equal(t, 9600, cfg.Link.Serial.BaudRate)
	assert.Equal(t, 8, cfg.Link.Serial.DataBits)
	assert.Equal(t, "N", cfg.Link.Serial.Parity)
	assert.Equal(t, 1, cfg.Link.Serial.StopBits)
	assert.Equal(t, 600*time.Millisecond, cfg.Transport.ReadTimeout)
	assert.Equal(t, 2*time.Second, cfg.Transport.WriteTimeout)
	assert.True(t, cfg.Transport.Retry)
	assert.Equal(t, 1, cfg.SlaveID)
	assert.Equal(t, RegisterMapConfig{
		Run: 1, Forward: 2, Trip: 3, Reset: 4, Frequency: 2,
		Status: DefaultStatusLabels(),
	}, cfg.RegisterMap)
	assert.Empty(t, cfg.Sequence)
	assert.False(t, cfg.Simulator.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  format: console
link:
  type: rtu-over-tcp
  tcp:
    address: 192.168.1.100:4001
transport:
  read_timeout: 1s
  retry: false
slave_id: 5
frequency_decimals: 1
register_map:
  frequency: 3
  status:
    - label: running
      number: 14
    - label: alarm
      number: 20
sequence:
  - name: spin up
    action: Set-Frequency
    frequency: 25
    settle: 2s
  - action: set-run
    enable: true
simulator:
  enabled: true
  persistence:
    type: mmap
    path: /tmp/x200.bin
`)
	cfg, err := load(t, "-c", path)
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, LinkRTUOverTCP, cfg.Link.Type)
	assert.Equal(t, "192.168.1.100:4001", cfg.Link.Tcp.Address)
	assert.Equal(t, 5*time.Second, cfg.Link.Tcp.DialTimeout)
	assert.Equal(t, time.Second, cfg.Transport.ReadTimeout)
	assert.False(t, cfg.Transport.Retry)
	assert.Equal(t, 5, cfg.SlaveID)
	assert.Equal(t, 1, cfg.FrequencyDecimals)
	assert.Equal(t, 3, cfg.RegisterMap.Frequency)
	assert.Equal(t, 1, cfg.RegisterMap.Run)
	assert.Len(t, cfg.RegisterMap.Status, 2)

	require.Len(t, cfg.Sequence, 2)
	assert.Equal(t, StepConfig{Name: "spin up", Action: ActionSetFrequency, Frequency: 25, Settle: 2 * time.Second}, cfg.Sequence[0])
	assert.Equal(t, StepConfig{Action: ActionSetRun, Enable: true}, cfg.Sequence[1])

	assert.True(t, cfg.Simulator.Enabled)
	assert.Equal(t, "127.0.0.1:0", cfg.Simulator.Listen)
	assert.Equal(t, PersistenceConfig{Type: "mmap", Path: "/tmp/x200.bin"}, cfg.Simulator.Persistence)
}

func TestLoad_FlagsOverride(t *testing.T) {
	path := writeConfig(t, "slave_id: 5\nlink:\n  serial:\n    device: /dev/ttyUSB0\n")
	cfg, err := load(t, "-c", path, "-a", "9", "-p", "/dev/ttyUSB1", "-s", "19200", "-W", "250ms", "--simulate", "-r", "out.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.SlaveID)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Link.Serial.Device)
	assert.Equal(t, 19200, cfg.Link.Serial.BaudRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.ReadTimeout)
	assert.True(t, cfg.Simulator.Enabled)
	assert.Equal(t, "out.yaml", cfg.Report.File)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(t, "-c", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"LogLevel", "log:\n  level: loud\n"},
		{"LogFormat", "log:\n  format: xml\n"},
		{"LinkType", "link:\n  type: ascii\n"},
		{"TCPAddress", "link:\n  type: rtu-over-tcp\n"},
		{"Parity", "link:\n  serial:\n    parity: M\n"},
		{"SlaveZero", "slave_id: 0\n"},
		{"SlaveBroadcastRange", "slave_id: 248\n"},
		{"SlaveAboveByte", "slave_id: 257\n"},
		{"FrequencyAboveRegister", "sequence:\n  - action: set-frequency\n    frequency: 65566\n"},
		{"FrequencyNegative", "sequence:\n  - action: set-frequency\n    frequency: -1\n"},
		{"Decimals", "frequency_decimals: 4\n"},
		{"Action", "sequence:\n  - action: jump\n"},
		{"Settle", "sequence:\n  - action: trip\n    settle: -1s\n"},
		{"Persistence", "simulator:\n  persistence:\n    type: sql\n"},
		{"PersistencePath", "simulator:\n  persistence:\n    type: file\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, "-c", writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidate_SimulatorNeedsNoDevice(t *testing.T) {
	cfg := &Config{
		Link:      LinkConfig{Type: LinkRTUOverTCP, Serial: SerialConfig{Parity: "N"}},
		SlaveID:   1,
		Simulator: SimulatorConfig{Enabled: true},
	}
	assert.NoError(t, Validate(cfg))

	cfg.Simulator.Enabled = false
	assert.Error(t, Validate(cfg))
}

func TestRegisterMapConfig_Numbers(t *testing.T) {
	cfg := RegisterMapConfig{
		Run: 5, Forward: 6, Trip: 7, Reset: 8, Frequency: 9,
		Status: []LabelConfig{{Label: "running", Number: 30}},
	}
	n := cfg.Numbers()
	assert.Equal(t, regmap.Numbers{
		Run: 5, Forward: 6, Trip: 7, Reset: 8, Frequency: 9,
		Status: []regmap.StatusNumber{{Label: "running", Number: 30}},
	}, n)

	m, err := regmap.New(n)
	require.NoError(t, err)
	assert.Equal(t, regmap.Coil(4), m.Run)
	assert.Equal(t, regmap.Coil(29), m.Status.Base())
}
