// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/x200-tester/internal/config"
	"github.com/ffutop/x200-tester/internal/regmap"
	"github.com/ffutop/x200-tester/internal/simulator/model"
)

// Storage keeps the simulated drive's state across runs. The caller holds
// the model lock around every call taking a model.
type Storage interface {
	// Load restores the stored state into a zeroed model.
	Load(m *model.DataModel) error

	// Save stores the complete state of m.
	Save(m *model.DataModel) error

	// OnWrite stores the cells of m changed by a write to the given range.
	OnWrite(m *model.DataModel, table model.TableType, address, quantity uint16)

	// Close releases the backing store.
	Close() error
}

// Open selects the storage named by cfg, laid out for regs.
func Open(cfg config.PersistenceConfig, regs *regmap.Map) (Storage, error) {
	switch cfg.Type {
	case "file":
		slog.Info("Initializing simulator with file persistence", "path", cfg.Path)
		return NewFileStorage(cfg.Path, NewLayout(regs)), nil
	case "mmap":
		slog.Info("Initializing simulator with MMAP persistence", "path", cfg.Path)
		return NewMmapStorage(cfg.Path, NewLayout(regs)), nil
	case "", "memory":
		slog.Info("Initializing simulator with memory storage (non-persistent)")
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown simulator persistence %q", cfg.Type)
	}
}
