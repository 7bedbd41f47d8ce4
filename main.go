// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	console "github.com/phsym/console-slog"
	"github.com/spf13/pflag"

	"github.com/ffutop/x200-tester/internal/config"
	"github.com/ffutop/x200-tester/internal/regmap"
	"github.com/ffutop/x200-tester/internal/report"
	"github.com/ffutop/x200-tester/internal/sequencer"
	"github.com/ffutop/x200-tester/internal/vfd"
	"github.com/ffutop/x200-tester/transport"
	"github.com/ffutop/x200-tester/transport/rtu"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	regs, err := regmap.New(cfg.RegisterMap.Numbers())
	if err != nil {
		slog.Error("Invalid register map", "err", err)
		return 1
	}
	steps, err := sequencer.FromConfig(cfg.Sequence, cfg.FrequencyDecimals)
	if err != nil {
		slog.Error("Invalid sequence", "err", err)
		return 1
	}

	link, err := openLink(ctx, cfg, regs)
	if err != nil {
		slog.Error("Failed to open link", "err", err)
		return 1
	}
	defer link.Close()

	stats := transport.NewStats()
	mb := rtu.NewTransport(link.ch, rtu.Options{
		ReadTimeout:  cfg.Transport.ReadTimeout,
		WriteTimeout: cfg.Transport.WriteTimeout,
		Retry:        cfg.Transport.Retry,
		BaudRate:     link.baudRate,
		Stats:        stats,
	})
	drive := vfd.New(mb, byte(cfg.SlaveID), regs, stats)

	var reporters report.Multi = []sequencer.Reporter{report.Log{}}
	var transcript *report.Transcript
	if cfg.Report.File != "" {
		transcript = report.NewTranscript(byte(cfg.SlaveID))
		reporters = append(reporters, transcript)
	}
	runner := sequencer.New(drive, steps, reporters, cfg.FrequencyDecimals)

	if dump, _ := flags.GetBool("dump"); dump {
		o := runner.Observe(ctx)
		report.LogObservation("drive", o, "slave", cfg.SlaveID)
		if o.StatusErr != nil || o.FrequencyErr != nil {
			return 1
		}
		return 0
	}

	slog.Info("Starting drive test", "slave", cfg.SlaveID, "link", cfg.Link.Type, "steps", len(steps), "simulated", cfg.Simulator.Enabled)
	runErr := runner.Run(ctx)

	slog.Info("Transport counters", counterAttrs(stats)...)
	if transcript != nil {
		if err := report.WriteFile(cfg.Report.File, transcript.Finish(runErr, stats)); err != nil {
			slog.Error("Failed to write report", "err", err)
		} else {
			slog.Info("Report written", "file", cfg.Report.File)
		}
	}

	switch {
	case runErr == nil:
		slog.Info("Drive test passed.")
		return 0
	case errors.Is(runErr, context.Canceled):
		slog.Warn("Drive test interrupted.")
		return 130
	default:
		slog.Error("Drive test failed", "err", runErr)
		return 1
	}
}

func counterAttrs(stats *transport.Stats) []any {
	var attrs []any
	for _, k := range stats.Keys() {
		attrs = append(attrs, k, stats.Get(k))
	}
	return attrs
}

// setupLogger installs the default logger and returns a func closing the
// log file, if any.
func setupLogger(cfg config.LogConfig) func() {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stdout
	closer := func() {}
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
		} else {
			out = f
			closer = func() { f.Close() }
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case "console":
		handler = console.NewHandler(out, &console.HandlerOptions{Level: level})
	default:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
	return closer
}
