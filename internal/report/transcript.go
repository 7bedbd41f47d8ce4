// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package report

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ffutop/x200-tester/internal/sequencer"
	"github.com/ffutop/x200-tester/transport"
)

// Entry is one step in the transcript.
type Entry struct {
	Step           int             `yaml:"step"`
	Name           string          `yaml:"name"`
	Command        string          `yaml:"command"`
	Started        time.Time       `yaml:"started"`
	Finished       time.Time       `yaml:"finished"`
	Error          string          `yaml:"error,omitempty"`
	Status         map[string]bool `yaml:"status,omitempty"`
	StatusError    string          `yaml:"status_error,omitempty"`
	Frequency      *uint16         `yaml:"frequency,omitempty"`
	Hertz          *float64        `yaml:"hertz,omitempty"`
	FrequencyError string          `yaml:"frequency_error,omitempty"`
}

// Document is the whole transcript file.
type Document struct {
	Slave    byte             `yaml:"slave"`
	Started  time.Time        `yaml:"started"`
	Finished time.Time        `yaml:"finished"`
	Result   string           `yaml:"result"`
	Steps    []Entry          `yaml:"steps"`
	Counters map[string]int64 `yaml:"counters,omitempty"`
}

// Transcript collects step results for a YAML report.
type Transcript struct {
	mu  sync.Mutex
	doc Document
}

// NewTranscript starts a transcript for slave.
func NewTranscript(slave byte) *Transcript {
	return &Transcript{doc: Document{Slave: slave, Started: time.Now()}}
}

func (t *Transcript) Report(res sequencer.Result) {
	e := Entry{
		Step:     res.Index + 1,
		Name:     res.Step.Name,
		Command:  res.Step.String(),
		Started:  res.Started,
		Finished: res.Finished,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	} else {
		o := res.Observation
		if o.StatusErr != nil {
			e.StatusError = o.StatusErr.Error()
		} else {
			e.Status = o.Status.Map()
		}
		if o.FrequencyErr != nil {
			e.FrequencyError = o.FrequencyErr.Error()
		} else {
			freq, hz := o.Frequency, o.Hertz()
			e.Frequency, e.Hertz = &freq, &hz
		}
	}

	t.mu.Lock()
	t.doc.Steps = append(t.doc.Steps, e)
	t.mu.Unlock()
}

// Finish records the run outcome and the transport counters.
func (t *Transcript) Finish(runErr error, stats *transport.Stats) Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.Finished = time.Now()
	t.doc.Result = "ok"
	if runErr != nil {
		t.doc.Result = runErr.Error()
	}
	if stats != nil {
		t.doc.Counters = stats.Snapshot()
	}
	doc := t.doc
	doc.Steps = append([]Entry(nil), t.doc.Steps...)
	return doc
}

// WriteFile writes doc as YAML to path.
func WriteFile(path string, doc Document) error {
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
