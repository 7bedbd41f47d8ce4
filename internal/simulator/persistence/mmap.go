// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/ffutop/x200-tester/internal/simulator/model"
)

// MmapStorage keeps the drive state record in a memory-mapped file. Writes
// copy the changed cells into the mapping and flush it.
type MmapStorage struct {
	path   string
	layout *Layout
	file   *os.File
	record mmap.MMap
}

// NewMmapStorage creates a new MmapStorage.
func NewMmapStorage(path string, layout *Layout) *MmapStorage {
	return &MmapStorage{
		path:   path,
		layout: layout,
	}
}

// Load maps the file, creating it if necessary, and restores the stored
// state into m.
func (ms *MmapStorage) Load(m *model.DataModel) error {
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open mmap file: %w", err)
	}
	reset, err := ms.layout.resize(f)
	if err != nil {
		f.Close()
		return err
	}

	record, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap failed: %w", err)
	}
	ms.file = f
	ms.record = record

	if reset {
		slog.Info("Initializing simulator mmap state", "path", ms.path, "size", len(record))
	} else if err := ms.layout.decode(record, m); err != nil {
		slog.Warn("Discarding simulator mmap state", "path", ms.path, "err", err)
	} else {
		return nil
	}
	return ms.Save(m)
}

// Save writes the whole record and flushes the mapping.
func (ms *MmapStorage) Save(m *model.DataModel) error {
	if ms.record == nil {
		return nil
	}
	ms.layout.encodeAll(m, ms.record)
	return ms.record.Flush()
}

// OnWrite copies the stored cells of the written range into the mapping.
func (ms *MmapStorage) OnWrite(m *model.DataModel, table model.TableType, address, quantity uint16) {
	if ms.record == nil {
		return
	}
	if lo, hi := ms.layout.Encode(m, ms.record, table, address, quantity); lo == hi {
		return
	}
	if err := ms.record.Flush(); err != nil {
		slog.Error("Failed to flush mmap", "table", table, "address", address, "err", err)
	}
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.record != nil {
		if e := ms.record.Unmap(); e != nil {
			err = e
		}
		ms.record = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
