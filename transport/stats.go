// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Outcome counter keys.
const (
	CntRequests       = "requests"
	CntRetries        = "retries"
	CntOK             = "ok"
	CntNoResponse     = "no_response"
	CntTruncated      = "truncated"
	CntChannelError   = "channel_error"
	CntCRCMismatch    = "crc_mismatch"
	CntUnexpectedEcho = "unexpected_echo"
	CntException      = "exception"
	CntProtocol       = "protocol"
)

// Stats counts exchange outcomes. The zero value is not usable; use NewStats.
// A nil *Stats ignores every call.
type Stats struct {
	counters *xsync.MapOf[string, *xsync.Counter]
}

func NewStats() *Stats {
	return &Stats{counters: xsync.NewMapOf[string, *xsync.Counter]()}
}

// Inc increments the counter named key.
func (s *Stats) Inc(key string) {
	if s == nil {
		return
	}
	c, _ := s.counters.LoadOrCompute(key, func() *xsync.Counter {
		return xsync.NewCounter()
	})
	c.Inc()
}

// Get returns the value of the counter named key.
func (s *Stats) Get(key string) int64 {
	if s == nil {
		return 0
	}
	if c, ok := s.counters.Load(key); ok {
		return c.Value()
	}
	return 0
}

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	if s == nil {
		return out
	}
	s.counters.Range(func(key string, c *xsync.Counter) bool {
		out[key] = c.Value()
		return true
	})
	return out
}

// Keys returns the counter names in lexical order.
func (s *Stats) Keys() []string {
	snap := s.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
