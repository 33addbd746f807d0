package kernel

import (
	"encoding/binary"
	"fmt"

	"github.com/kmemtool/kmem/pkg/logflags"
)

// MaxChunkSize is the largest payload a single vm_read_overwrite or
// vm_write call accepts (MIG limitation).
const MaxChunkSize = 0xFFF

// Chunk is one transport call of a transfer.
type Chunk struct {
	Addr uint64
	Len  int
}

// Chunks splits [addr, addr+length) into contiguous chunks of at most
// limit bytes in ascending order. Only the last chunk may be shorter.
// transfer builds its chunks with the same nextChunk, so when every chunk
// moves in full a transfer issues exactly this plan.
func Chunks(addr uint64, length, limit int) []Chunk {
	if length <= 0 {
		return nil
	}
	if limit <= 0 {
		limit = MaxChunkSize
	}
	chunks := make([]Chunk, 0, (length+limit-1)/limit)
	for done := 0; done < length; done += limit {
		chunks = append(chunks, nextChunk(addr, done, length, limit))
	}
	return chunks
}

func nextChunk(addr uint64, done, length, limit int) Chunk {
	n := length - done
	if n > limit {
		n = limit
	}
	return Chunk{Addr: addr + uint64(done), Len: n}
}

// transfer runs fn over the chunks of [addr, addr+length). A chunk that
// moves fewer bytes than asked is followed by a chunk starting right after
// the last byte moved; a chunk that moves nothing or fails ends the
// transfer.
func (k *Kernel) transfer(op string, addr uint64, length int, fn func(c Chunk, off int) (int, error)) (int, error) {
	logger := logflags.TransportLogger()
	done := 0
	for done < length {
		c := nextChunk(addr, done, length, k.chunkSize)
		n, err := fn(c, done)
		if err != nil {
			logger.Debugf("%s error at %#016x: %v", op, c.Addr, err)
			return done, &TransferError{Op: op, Addr: addr, Len: length, N: done, Err: err}
		}
		if n <= 0 {
			logger.Debugf("%s moved no data at %#016x", op, c.Addr)
			break
		}
		if n > c.Len {
			n = c.Len
		}
		done += n
	}
	return done, nil
}

// Read reads len(buf) bytes of kernel memory at addr. It stops at the
// first chunk that fails or reads nothing and returns the bytes read so
// far; a short count with a nil error is a clean short read. A failing
// vm_read returns a *TransferError. If the kernel task port is not
// available Read returns SizeUnknown and ErrCapabilityDenied.
func (k *Kernel) Read(addr uint64, buf []byte) (int, error) {
	task, err := k.tasks.Acquire()
	if err != nil {
		return SizeUnknown, err
	}
	logflags.TransportLogger().Debugf("Reading kernel bytes %#016x-%#016x", addr, addr+uint64(len(buf)))
	return k.transfer("vm_read", addr, len(buf), func(c Chunk, off int) (int, error) {
		return k.backend.ReadChunk(task, c.Addr, buf[off:off+c.Len])
	})
}

// Write writes data to kernel memory at addr, with the same partial
// transfer contract as Read. A failed chunk is never retried.
func (k *Kernel) Write(addr uint64, data []byte) (int, error) {
	task, err := k.tasks.Acquire()
	if err != nil {
		return SizeUnknown, err
	}
	logflags.TransportLogger().Debugf("Writing to kernel at %#016x-%#016x", addr, addr+uint64(len(data)))
	return k.transfer("vm_write", addr, len(data), func(c Chunk, off int) (int, error) {
		return k.backend.WriteChunk(task, c.Addr, data[off:off+c.Len])
	})
}

// ReadFull is like Read but turns a short read into ErrShortTransfer.
func (k *Kernel) ReadFull(addr uint64, buf []byte) error {
	n, err := k.Read(addr, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: read %#x of %#x bytes at %#x", ErrShortTransfer, n, len(buf), addr)
	}
	return nil
}

// WriteFull is like Write but turns a short write into ErrShortTransfer.
func (k *Kernel) WriteFull(addr uint64, data []byte) error {
	n, err := k.Write(addr, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: wrote %#x of %#x bytes at %#x", ErrShortTransfer, n, len(data), addr)
	}
	return nil
}

// ReadUint64 reads a little endian 64-bit value at addr.
func (k *Kernel) ReadUint64(addr uint64) (uint64, error) {
	var b [8]byte
	if err := k.ReadFull(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// WriteUint64 writes a little endian 64-bit value at addr.
func (k *Kernel) WriteUint64(addr, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return k.WriteFull(addr, b[:])
}
