// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ffutop/x200-tester/internal/simulator/model"
)

// FileStorage keeps the drive state record in a plain file. Each write
// rewrites only the bytes of the cells it changed.
type FileStorage struct {
	path   string
	layout *Layout
	file   *os.File
	record []byte
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string, layout *Layout) *FileStorage {
	return &FileStorage{
		path:   path,
		layout: layout,
	}
}

// Load restores the stored state into m, creating the file if necessary.
func (fs *FileStorage) Load(m *model.DataModel) error {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}
	reset, err := fs.layout.resize(f)
	if err != nil {
		f.Close()
		return err
	}

	record := make([]byte, fs.layout.Size())
	if !reset {
		if _, err := f.ReadAt(record, 0); err != nil {
			f.Close()
			return fmt.Errorf("failed to read state file: %w", err)
		}
	}
	fs.file = f
	fs.record = record

	if reset {
		slog.Info("Initializing simulator state file", "path", fs.path, "size", len(record))
	} else if err := fs.layout.decode(record, m); err != nil {
		slog.Warn("Discarding simulator state file", "path", fs.path, "err", err)
	} else {
		return nil
	}
	return fs.Save(m)
}

// Save writes the whole record.
func (fs *FileStorage) Save(m *model.DataModel) error {
	if fs.file == nil {
		return nil
	}
	fs.layout.encodeAll(m, fs.record)
	return fs.sync(0, len(fs.record))
}

// OnWrite writes the stored cells of the written range.
func (fs *FileStorage) OnWrite(m *model.DataModel, table model.TableType, address, quantity uint16) {
	if fs.file == nil {
		return
	}
	lo, hi := fs.layout.Encode(m, fs.record, table, address, quantity)
	if lo == hi {
		return
	}
	if err := fs.sync(lo, hi); err != nil {
		slog.Error("Failed to sync state file", "table", table, "address", address, "err", err)
	}
}

func (fs *FileStorage) sync(lo, hi int) error {
	if _, err := fs.file.WriteAt(fs.record[lo:hi], int64(lo)); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync state file to disk: %w", err)
	}
	return nil
}

// Close closes the file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
