package storage

import (
	"fmt"
	"os"
)

// FilePartition backs a partition with a fixed-size host file, the usual
// arrangement for development images and host-side tooling.
type FilePartition struct {
	f    *os.File
	size int64
}

// OpenFile creates or opens a partition image at path. A new or empty
// file is extended to size bytes and fully erased; an existing image must
// match the requested size exactly.
func OpenFile(path string, size int64) (*FilePartition, error) {
	if size <= 0 {
		return nil, fmt.Errorf("partition size must be positive, got %d", size)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening partition image %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stating partition image: %w", err)
	}

	p := &FilePartition{f: f, size: size}
	switch st.Size() {
	case 0:
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("sizing partition image to %d bytes: %w", size, err)
		}
		if err := p.EraseRange(0, size); err != nil {
			f.Close()
			return nil, err
		}
	case size:
		// Existing image, use as-is.
	default:
		f.Close()
		return nil, fmt.Errorf("partition image %s is %d bytes but %d was requested; delete the file to resize",
			path, st.Size(), size)
	}

	return p, nil
}

func (p *FilePartition) Read(addr int64, buf []byte) error {
	if err := p.check(addr, int64(len(buf))); err != nil {
		return err
	}
	if _, err := p.f.ReadAt(buf, addr); err != nil {
		return fmt.Errorf("partition read at %d: %w", addr, err)
	}
	return nil
}

func (p *FilePartition) Write(addr int64, data []byte) error {
	if err := p.check(addr, int64(len(data))); err != nil {
		return err
	}
	if _, err := p.f.WriteAt(data, addr); err != nil {
		return fmt.Errorf("partition write at %d: %w", addr, err)
	}
	return nil
}

func (p *FilePartition) EraseRange(addr int64, size int64) error {
	if err := p.check(addr, size); err != nil {
		return err
	}
	blank := make([]byte, 64*1024)
	for i := range blank {
		blank[i] = erasedByte
	}
	for size > 0 {
		n := int64(len(blank))
		if n > size {
			n = size
		}
		if _, err := p.f.WriteAt(blank[:n], addr); err != nil {
			return fmt.Errorf("partition erase at %d: %w", addr, err)
		}
		addr += n
		size -= n
	}
	return nil
}

func (p *FilePartition) Sync() error {
	return p.f.Sync()
}

func (p *FilePartition) Size() int64 {
	return p.size
}

func (p *FilePartition) Type() string {
	return TypeLittleFS
}

// Close releases the backing file. The partition must not be used after.
func (p *FilePartition) Close() error {
	return p.f.Close()
}

func (p *FilePartition) check(addr, size int64) error {
	if addr < 0 || size < 0 || addr+size > p.size {
		return fmt.Errorf("partition access [%d,%d) outside [0,%d)", addr, addr+size, p.size)
	}
	return nil
}
