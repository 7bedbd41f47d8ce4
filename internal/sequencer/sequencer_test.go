// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sequencer

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/x200-tester/internal/config"
	"github.com/ffutop/x200-tester/internal/regmap"
	"github.com/ffutop/x200-tester/internal/simulator"
	"github.com/ffutop/x200-tester/internal/simulator/persistence"
	"github.com/ffutop/x200-tester/internal/vfd"
	"github.com/ffutop/x200-tester/modbus"
	"github.com/ffutop/x200-tester/transport/rtu"
)

// fakeDrive records commands and fails on demand.
type fakeDrive struct {
	calls      []string
	failOn     string
	failReads  bool
	frequency  uint16
	commandErr error
}

func (f *fakeDrive) command(call string) error {
	f.calls = append(f.calls, call)
	if call == f.failOn {
		return f.commandErr
	}
	return nil
}

func (f *fakeDrive) ReadStatus(ctx context.Context) (vfd.Status, error) {
	if f.failReads {
		return vfd.Status{}, modbus.ErrNoResponse
	}
	return vfd.Status{}, nil
}

func (f *fakeDrive) ReadFrequency(ctx context.Context) (uint16, error) {
	if f.failReads {
		return 0, modbus.ErrNoResponse
	}
	return f.frequency, nil
}

func (f *fakeDrive) WriteFrequency(ctx context.Context, value uint16) error {
	f.frequency = value
	return f.command(fmt.Sprintf("frequency %d", value))
}

func (f *fakeDrive) SetRun(ctx context.Context, run bool) error {
	return f.command(fmt.Sprintf("run %v", run))
}

func (f *fakeDrive) SetReverse(ctx context.Context, reverse bool) error {
	return f.command(fmt.Sprintf("reverse %v", reverse))
}

func (f *fakeDrive) Trip(ctx context.Context) error  { return f.command("trip") }
func (f *fakeDrive) Reset(ctx context.Context) error { return f.command("reset") }

// instant drops settle times.
func instant(steps []Step) []Step {
	out := append([]Step(nil), steps...)
	for i := range out {
		out[i].Settle = 0
	}
	return out
}

type collector struct {
	results []Result
}

func (c *collector) Report(r Result) { c.results = append(c.results, r) }

func TestDefaultSteps(t *testing.T) {
	steps := DefaultSteps()
	require.Len(t, steps, 9)

	var settles []time.Duration
	for _, s := range steps {
		settles = append(settles, s.Settle)
	}
	assert.Equal(t, []time.Duration{
		time.Second, time.Second,
		8 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second,
		5 * time.Second, 0,
	}, settles)
	assert.Equal(t, ActionReset, steps[0].Action)
	assert.Equal(t, ActionTrip, steps[8].Action)
	assert.Equal(t, steps[5], Step{Name: "15Hz", Action: ActionSetFrequency, Frequency: 15, Settle: 8 * time.Second})
	assert.Equal(t, steps[5].Frequency, steps[6].Frequency)
}

func TestRunner_Run(t *testing.T) {
	drive := &fakeDrive{}
	c := &collector{}
	r := New(drive, instant(DefaultSteps()), c, 0)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{
		"reset", "run true",
		"frequency 30", "frequency 50", "frequency 100", "frequency 15", "frequency 15",
		"run false", "trip",
	}, drive.calls)

	require.Len(t, c.results, 9)
	for i, res := range c.results {
		assert.Equal(t, i, res.Index)
		assert.NoError(t, res.Err)
		assert.NoError(t, res.Observation.StatusErr)
		assert.False(t, res.Finished.Before(res.Started))
	}
	assert.Equal(t, uint16(100), c.results[4].Observation.Frequency)
}

func TestRunner_CommandFailureAborts(t *testing.T) {
	drive := &fakeDrive{failOn: "frequency 50", commandErr: modbus.ErrUnexpectedEcho}
	c := &collector{}
	r := New(drive, instant(DefaultSteps()), c, 0)

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, modbus.ErrUnexpectedEcho)
	assert.Contains(t, err.Error(), "step 4 (50Hz)")
	assert.Equal(t, []string{"reset", "run true", "frequency 30", "frequency 50"}, drive.calls)

	require.Len(t, c.results, 4)
	assert.ErrorIs(t, c.results[3].Err, modbus.ErrUnexpectedEcho)
	assert.True(t, c.results[3].Observation.At.IsZero())
}

func TestRunner_ReadFailureContinues(t *testing.T) {
	drive := &fakeDrive{failReads: true}
	c := &collector{}
	r := New(drive, instant(DefaultSteps()), c, 0)

	require.NoError(t, r.Run(context.Background()))
	assert.Len(t, drive.calls, 9)
	require.Len(t, c.results, 9)
	for _, res := range c.results {
		assert.ErrorIs(t, res.Observation.StatusErr, modbus.ErrNoResponse)
		assert.ErrorIs(t, res.Observation.FrequencyErr, modbus.ErrNoResponse)
	}
}

func TestRunner_CancelDuringSettle(t *testing.T) {
	drive := &fakeDrive{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	steps := []Step{
		{Name: "start", Action: ActionSetRun, Enable: true, Settle: time.Hour},
		{Name: "stop", Action: ActionSetRun, Enable: false},
	}
	r := New(drive, steps, ReporterFunc(func(Result) { cancel() }), 0)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not honour cancellation")
	}
	assert.Equal(t, []string{"run true"}, drive.calls)
}

func TestRunner_CanceledBeforeStart(t *testing.T) {
	drive := &fakeDrive{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(drive, DefaultSteps(), nil, 0).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, drive.calls)
}

func TestRunner_UnknownAction(t *testing.T) {
	drive := &fakeDrive{}
	err := New(drive, []Step{{Name: "x", Action: "spin"}}, nil, 0).Run(context.Background())
	assert.Error(t, err)
}

func TestRunner_ReverseAndTrip(t *testing.T) {
	drive := &fakeDrive{}
	steps := []Step{
		{Action: ActionSetReverse, Enable: true},
		{Action: ActionSetReverse, Enable: false},
		{Action: ActionTrip},
	}
	require.NoError(t, New(drive, steps, nil, 0).Run(context.Background()))
	assert.Equal(t, []string{"reverse true", "reverse false", "trip"}, drive.calls)
}

func TestScale(t *testing.T) {
	steps, err := Scale(DefaultSteps(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(300), steps[2].Frequency)
	assert.Equal(t, uint16(1000), steps[4].Frequency)
	assert.Equal(t, uint16(30), DefaultSteps()[2].Frequency, "input untouched")

	_, err = Scale(DefaultSteps(), 3)
	assert.ErrorIs(t, err, modbus.ErrInvalidArgument)
	_, err = Scale(DefaultSteps(), -1)
	assert.ErrorIs(t, err, modbus.ErrInvalidArgument)
}

func TestFromConfig(t *testing.T) {
	steps, err := FromConfig(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultSteps(), steps)

	steps, err = FromConfig([]config.StepConfig{
		{Action: config.ActionSetFrequency, Frequency: 25, Settle: time.Second},
		{Name: "off", Action: config.ActionSetRun},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, []Step{
		{Name: "step 1", Action: ActionSetFrequency, Frequency: 250, Settle: time.Second},
		{Name: "off", Action: ActionSetRun},
	}, steps)

	_, err = FromConfig([]config.StepConfig{{Action: config.ActionSetFrequency, Frequency: 65566}}, 0)
	assert.ErrorIs(t, err, modbus.ErrInvalidArgument)
}

func TestObservation_Hertz(t *testing.T) {
	assert.Equal(t, 30.0, Observation{Frequency: 300, Decimals: 1}.Hertz())
	assert.Equal(t, 50.0, Observation{Frequency: 50}.Hertz())
}

func TestRunner_Simulated(t *testing.T) {
	sim, err := simulator.New(1, regmap.Default(), persistence.NewMemoryStorage())
	require.NoError(t, err)
	defer sim.Close()

	master, slave := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Serve(ctx, slave) }()
	defer func() {
		cancel()
		master.Close()
		slave.Close()
		<-done
	}()

	mb := rtu.NewTransport(master, rtu.Options{ReadTimeout: 200 * time.Millisecond, Retry: true})
	drive := vfd.New(mb, 1, regmap.Default(), nil)
	c := &collector{}
	r := New(drive, instant(DefaultSteps()), c, 0)
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, c.results, 9)
	for _, res := range c.results {
		require.NoError(t, res.Observation.StatusErr, res.Step.Name)
		require.NoError(t, res.Observation.FrequencyErr, res.Step.Name)
	}
	start := c.results[1].Observation
	assert.True(t, start.Status.Running())
	assert.Equal(t, uint16(100), c.results[4].Observation.Frequency)
	assert.True(t, c.results[4].Observation.Status.AtSpeed())
	assert.False(t, c.results[7].Observation.Status.Running())

	last := c.results[8].Observation.Status
	assert.True(t, last.Alarm())
	assert.False(t, last.Ready())
}
