//go:build linux || darwin

package core

import (
	"encoding/json"
	"fmt"

	"github.com/searchktools/fast-transport/core/pools"
)

// EngineStats is a snapshot of engine and pool counters
type EngineStats struct {
	Connections int                 `json:"connections"`
	Arena       pools.ArenaStats    `json:"arena"`
	ReadChunks  pools.BytePoolStats `json:"read_chunks"`
	Workers     WorkerStats         `json:"workers"`
	GC          pools.GCStats       `json:"gc"`
}

// WorkerStats describes the handler worker pool
type WorkerStats struct {
	Enabled bool `json:"enabled"`
	Cap     int  `json:"cap"`
	Running int  `json:"running"`
	Free    int  `json:"free"`
}

// Stats returns engine statistics
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{
		Connections: e.Connections(),
		Arena:       e.arena.Stats(),
		ReadChunks:  e.bytePool.Stats(),
		GC:          pools.ReadGCStats(),
	}

	if e.workers != nil {
		stats.Workers = WorkerStats{
			Enabled: true,
			Cap:     e.workers.Cap(),
			Running: e.workers.Running(),
			Free:    e.workers.Free(),
		}
	}

	return stats
}

// StatsJSON returns engine statistics as a JSON string
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns engine statistics as human-readable text
func (e *Engine) StatsText() string {
	s := e.Stats()
	return fmt.Sprintf(`Engine Statistics
=================

Connections: %d

Buffer Arena (%d bytes/buffer):
  Allocated:       %d
  Idle:            %d
  Outstanding:     %d
  Acquired:        %d
  Released:        %d
  Double releases: %d

Read Chunks:
  Gets:     %d
  Puts:     %d
  Hit Rate: %.2f%%

Handler Workers:
  Enabled: %t
  Running: %d / %d

GC:
  Cycles:     %d
  Last pause: %s
  Heap:       %d bytes
`,
		s.Connections,
		s.Arena.Size,
		s.Arena.Allocated, s.Arena.Idle, s.Arena.Outstanding,
		s.Arena.Acquired, s.Arena.Released, s.Arena.DoubleReleases,
		s.ReadChunks.Gets, s.ReadChunks.Puts, s.ReadChunks.HitRate*100,
		s.Workers.Enabled, s.Workers.Running, s.Workers.Cap,
		s.GC.NumGC, s.GC.LastPause, s.GC.HeapAlloc,
	)
}
