// Package blockcache wraps a partition with a read-through LRU cache of
// whole erase blocks. Flash reads are cheap but host-file-backed images
// pay a syscall per access; caching at erase-block granularity keeps
// invalidation trivial because programs and erases are block-aligned
// further up the stack.
package blockcache

import (
	"container/list"
	"sync"

	"github.com/flashfs/flashfs/internal/storage"
)

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits      uint64
	Misses    uint64
	HitRate   float64
	Blocks    int
	MaxBlocks int
}

type cachedBlock struct {
	block   int64
	data    []byte
	element *list.Element
}

// CachedPartition is a storage.Partition that serves reads from an LRU
// of erase blocks. Writes and erases go straight through and invalidate
// the touched blocks, so the cache never holds stale data.
type CachedPartition struct {
	part      storage.Partition
	blockSize int64
	maxBlocks int

	mu        sync.Mutex
	blocks    map[int64]*cachedBlock
	evictList *list.List
	hits      uint64
	misses    uint64
}

// New wraps part with a cache of at most maxBlocks erase blocks. A
// maxBlocks of zero or less disables caching and returns a pass-through
// wrapper.
func New(part storage.Partition, blockSize int64, maxBlocks int) *CachedPartition {
	return &CachedPartition{
		part:      part,
		blockSize: blockSize,
		maxBlocks: maxBlocks,
		blocks:    make(map[int64]*cachedBlock),
		evictList: list.New(),
	}
}

// Read fills buf from addr, pulling whole blocks into the cache as it
// crosses them.
func (c *CachedPartition) Read(addr int64, buf []byte) error {
	if c.maxBlocks <= 0 {
		return c.part.Read(addr, buf)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	read := int64(0)
	for read < int64(len(buf)) {
		pos := addr + read
		block := pos / c.blockSize
		off := pos % c.blockSize

		data, err := c.blockLocked(block)
		if err != nil {
			return err
		}

		n := copy(buf[read:], data[off:])
		read += int64(n)
	}
	return nil
}

// blockLocked returns the cached content of one erase block, reading it
// from the partition on a miss.
func (c *CachedPartition) blockLocked(block int64) ([]byte, error) {
	if item, ok := c.blocks[block]; ok {
		c.evictList.MoveToFront(item.element)
		c.hits++
		return item.data, nil
	}
	c.misses++

	data := make([]byte, c.blockSize)
	if err := c.part.Read(block*c.blockSize, data); err != nil {
		return nil, err
	}

	item := &cachedBlock{block: block, data: data}
	item.element = c.evictList.PushFront(item)
	c.blocks[block] = item

	for len(c.blocks) > c.maxBlocks {
		oldest := c.evictList.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*cachedBlock)
		c.evictList.Remove(oldest)
		delete(c.blocks, evicted.block)
	}
	return data, nil
}

// Write programs data at addr and drops every cached block the range
// touches.
func (c *CachedPartition) Write(addr int64, data []byte) error {
	c.invalidate(addr, int64(len(data)))
	return c.part.Write(addr, data)
}

// EraseRange erases the range and drops every cached block it covers.
func (c *CachedPartition) EraseRange(addr int64, size int64) error {
	c.invalidate(addr, size)
	return c.part.EraseRange(addr, size)
}

func (c *CachedPartition) invalidate(addr, size int64) {
	if c.maxBlocks <= 0 || size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	first := addr / c.blockSize
	last := (addr + size - 1) / c.blockSize
	for block := first; block <= last; block++ {
		if item, ok := c.blocks[block]; ok {
			c.evictList.Remove(item.element)
			delete(c.blocks, block)
		}
	}
}

func (c *CachedPartition) Sync() error { return c.part.Sync() }

func (c *CachedPartition) Size() int64 { return c.part.Size() }

func (c *CachedPartition) Type() string { return c.part.Type() }

// Stats reports hit and miss counts since construction.
func (c *CachedPartition) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Blocks:    len(c.blocks),
		MaxBlocks: c.maxBlocks,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
