// Package blockdev bridges the engine's block-addressed device callbacks
// onto a byte-addressed partition. It is the one place the engine's error
// vocabulary is enriched: a partition fault surfaces as a distinguishable
// synthetic read, program or erase error instead of a generic I/O code.
package blockdev

import (
	"github.com/flashfs/flashfs/internal/engine"
	"github.com/flashfs/flashfs/internal/metrics"
	"github.com/flashfs/flashfs/internal/storage"
)

// Bridge implements engine.BlockDevice over a Partition. A profiler, if
// installed, observes every operation with zero effect on the result.
// Bridge is not safe for concurrent use; the adapter serializes access.
type Bridge struct {
	part      storage.Partition
	blockSize int64
	profiler  metrics.Profiler
}

// New wires a partition to the engine's block addressing. blockSize must
// match the geometry handed to the engine.
func New(part storage.Partition, blockSize uint32) *Bridge {
	return &Bridge{part: part, blockSize: int64(blockSize)}
}

// SetProfiler installs or removes (nil) the activity profiler.
func (b *Bridge) SetProfiler(p metrics.Profiler) {
	b.profiler = p
}

func (b *Bridge) addr(block, off uint32) int64 {
	return int64(block)*b.blockSize + int64(off)
}

func (b *Bridge) Read(block, off uint32, buf []byte) error {
	addr := b.addr(block, off)
	if err := b.part.Read(addr, buf); err != nil {
		return engine.ErrIORead
	}
	if b.profiler != nil {
		b.profiler.Read(addr, len(buf))
	}
	return nil
}

func (b *Bridge) Prog(block, off uint32, data []byte) error {
	addr := b.addr(block, off)
	if b.profiler != nil {
		b.profiler.Write(addr, len(data))
	}
	if err := b.part.Write(addr, data); err != nil {
		return engine.ErrIOWrite
	}
	return nil
}

func (b *Bridge) Erase(block uint32) error {
	addr := int64(block) * b.blockSize
	if b.profiler != nil {
		b.profiler.Erase(addr, int(b.blockSize))
	}
	if err := b.part.EraseRange(addr, b.blockSize); err != nil {
		return engine.ErrIOErase
	}
	return nil
}

func (b *Bridge) Sync() error {
	if err := b.part.Sync(); err != nil {
		return engine.ErrIOWrite
	}
	return nil
}
