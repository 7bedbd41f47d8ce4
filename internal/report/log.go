// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package report turns step results into log lines and a YAML transcript.
package report

import (
	"log/slog"

	"github.com/ffutop/x200-tester/internal/sequencer"
)

// Log writes one line per step to the default logger.
type Log struct{}

func (Log) Report(res sequencer.Result) {
	attrs := []any{"n", res.Index + 1, "name", res.Step.Name, "took", res.Finished.Sub(res.Started)}
	if res.Err != nil {
		slog.Error("step failed", append(attrs, "err", res.Err)...)
		return
	}
	LogObservation("step done", res.Observation, attrs...)
}

// LogObservation logs a readback under msg.
func LogObservation(msg string, o sequencer.Observation, attrs ...any) {
	if o.StatusErr != nil {
		attrs = append(attrs, "status_err", o.StatusErr)
	} else {
		attrs = append(attrs, "status", o.Status.String())
	}
	if o.FrequencyErr != nil {
		attrs = append(attrs, "frequency_err", o.FrequencyErr)
	} else {
		attrs = append(attrs, "frequency", o.Frequency, "hz", o.Hertz())
	}
	slog.Info(msg, attrs...)
}

// Multi fans a result out to several reporters.
type Multi []sequencer.Reporter

func (m Multi) Report(res sequencer.Result) {
	for _, r := range m {
		r.Report(res)
	}
}
