// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package sequencer drives the bench test: a list of steps run in order,
// each followed by a status readback and a settle time.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ffutop/x200-tester/internal/vfd"
)

// Drive is what the sequencer needs from the drive controller.
type Drive interface {
	ReadStatus(ctx context.Context) (vfd.Status, error)
	ReadFrequency(ctx context.Context) (uint16, error)
	WriteFrequency(ctx context.Context, value uint16) error
	SetRun(ctx context.Context, run bool) error
	SetReverse(ctx context.Context, reverse bool) error
	Trip(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Observation is a status and frequency readback.
type Observation struct {
	At           time.Time
	Status       vfd.Status
	StatusErr    error
	Frequency    uint16
	FrequencyErr error
	Decimals     int
}

// Hertz returns the frequency in hertz.
func (o Observation) Hertz() float64 {
	return float64(o.Frequency) / math.Pow10(o.Decimals)
}

// Result is the outcome of one step.
type Result struct {
	Index    int
	Step     Step
	Started  time.Time
	Finished time.Time
	Err      error
	// Observation is empty when the command failed.
	Observation Observation
}

// Reporter receives every step result in order.
type Reporter interface {
	Report(Result)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Result)

func (f ReporterFunc) Report(r Result) { f(r) }

// Runner executes steps against a drive.
type Runner struct {
	drive    Drive
	steps    []Step
	reporter Reporter
	decimals int
}

// New returns a Runner. decimals is the scaling of the frequency register
// used when reporting.
func New(drive Drive, steps []Step, reporter Reporter, decimals int) *Runner {
	return &Runner{
		drive:    drive,
		steps:    steps,
		reporter: reporter,
		decimals: decimals,
	}
}

// Run executes every step in order. A failed command stops the run and
// its error is returned; nothing already done is undone. A failed
// readback is reported and the run goes on. Cancelling ctx ends the run
// between steps or during a settle wait.
func (r *Runner) Run(ctx context.Context) error {
	for i, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := Result{Index: i, Step: step, Started: time.Now()}
		slog.Info("step", "n", i+1, "name", step.Name, "action", step.String())
		res.Err = r.execute(ctx, step)
		res.Finished = time.Now()
		if res.Err != nil {
			r.report(res)
			return fmt.Errorf("step %d (%s): %w", i+1, step.Name, res.Err)
		}

		res.Observation = r.Observe(ctx)
		r.report(res)

		if err := sleep(ctx, step.Settle); err != nil {
			return err
		}
	}
	return nil
}

// Observe reads status and frequency. Failures are recorded, not returned.
func (r *Runner) Observe(ctx context.Context) Observation {
	o := Observation{At: time.Now(), Decimals: r.decimals}
	o.Status, o.StatusErr = r.drive.ReadStatus(ctx)
	if o.StatusErr != nil {
		slog.Warn("status read failed", "err", o.StatusErr)
	}
	o.Frequency, o.FrequencyErr = r.drive.ReadFrequency(ctx)
	if o.FrequencyErr != nil {
		slog.Warn("frequency read failed", "err", o.FrequencyErr)
	}
	return o
}

func (r *Runner) execute(ctx context.Context, step Step) error {
	switch step.Action {
	case ActionReset:
		return r.drive.Reset(ctx)
	case ActionSetRun:
		return r.drive.SetRun(ctx, step.Enable)
	case ActionSetReverse:
		return r.drive.SetReverse(ctx, step.Enable)
	case ActionSetFrequency:
		return r.drive.WriteFrequency(ctx, step.Frequency)
	case ActionTrip:
		return r.drive.Trip(ctx)
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

func (r *Runner) report(res Result) {
	if r.reporter != nil {
		r.reporter.Report(res)
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
