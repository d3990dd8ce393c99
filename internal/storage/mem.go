package storage

import "fmt"

// MemPartition is a memory-backed partition for tests and throwaway
// volumes. Fault injection hooks allow simulating medium failures on a
// per-operation basis.
type MemPartition struct {
	data []byte

	// FailRead, FailWrite and FailErase, when set, are consulted
	// before each operation; returning true makes the operation fail.
	FailRead  func(addr int64, size int) bool
	FailWrite func(addr int64, size int) bool
	FailErase func(addr int64, size int64) bool
}

// NewMem returns an erased in-memory partition of the given size.
func NewMem(size int64) *MemPartition {
	data := make([]byte, size)
	for i := range data {
		data[i] = erasedByte
	}
	return &MemPartition{data: data}
}

func (p *MemPartition) Read(addr int64, buf []byte) error {
	if err := p.check(addr, int64(len(buf))); err != nil {
		return err
	}
	if p.FailRead != nil && p.FailRead(addr, len(buf)) {
		return fmt.Errorf("injected read fault at %d", addr)
	}
	copy(buf, p.data[addr:])
	return nil
}

func (p *MemPartition) Write(addr int64, data []byte) error {
	if err := p.check(addr, int64(len(data))); err != nil {
		return err
	}
	if p.FailWrite != nil && p.FailWrite(addr, len(data)) {
		return fmt.Errorf("injected write fault at %d", addr)
	}
	copy(p.data[addr:], data)
	return nil
}

func (p *MemPartition) EraseRange(addr int64, size int64) error {
	if err := p.check(addr, size); err != nil {
		return err
	}
	if p.FailErase != nil && p.FailErase(addr, size) {
		return fmt.Errorf("injected erase fault at %d", addr)
	}
	for i := addr; i < addr+size; i++ {
		p.data[i] = erasedByte
	}
	return nil
}

func (p *MemPartition) Sync() error {
	return nil
}

func (p *MemPartition) Size() int64 {
	return int64(len(p.data))
}

func (p *MemPartition) Type() string {
	return TypeLittleFS
}

// Bytes exposes the raw backing store for test inspection.
func (p *MemPartition) Bytes() []byte {
	return p.data
}

func (p *MemPartition) check(addr, size int64) error {
	if addr < 0 || size < 0 || addr+size > int64(len(p.data)) {
		return fmt.Errorf("partition access [%d,%d) outside [0,%d)", addr, addr+size, len(p.data))
	}
	return nil
}
