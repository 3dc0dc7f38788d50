//go:build linux

package perfgroup

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// perfEventMmapPage mirrors the kernel's struct perf_event_mmap_page
// header that precedes the ring buffer's data pages. Only the fields the
// drain task needs are kept.
type perfEventMmapPage struct {
	Version     uint32
	CompatVersion uint32
	Lock        uint32
	Index       uint32
	Offset      int64
	TimeEnabled uint64
	TimeRunning uint64
	Capabilities uint64
	_pad        [976]byte // remaining header fields this reader doesn't use; DataHead sits at offset 1024
	DataHead    uint64   // written by kernel; acquire-load before reading data
	DataTail    uint64   // written by us; release-store after consuming data
	DataOffset  uint64
	DataSize    uint64
}

// RingBuffer wraps the mmap'd perf_event sampling ring buffer for one
// group leader fd. A single consumer (the assigned drain task) reads
// from it; the kernel is the sole producer (spec.md §5).
type RingBuffer struct {
	mem      []byte
	header   *perfEventMmapPage
	data     []byte
	pageSize int
	fd       int
}

func mmapRing(leaderFd, bufferPages int) (*RingBuffer, error) {
	pageSize := os.Getpagesize()
	size := (1 + bufferPages) * pageSize // +1 for the header page

	mem, err := unix.Mmap(leaderFd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	header := (*perfEventMmapPage)(unsafe.Pointer(&mem[0]))
	return &RingBuffer{
		mem:      mem,
		header:   header,
		data:     mem[pageSize:],
		pageSize: pageSize,
		fd:       leaderFd,
	}, nil
}

// Close unmaps the ring buffer. Safe to call once; the underlying fd is
// owned by the Group, not the RingBuffer.
func (r *RingBuffer) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

// dataHead performs an acquire-style load of the kernel-written head
// pointer: the kernel updates DataHead with a release semantics write,
// so pairing this with an atomic load prevents the drain task from
// observing record bytes before the head pointer that delimits them.
func (r *RingBuffer) dataHead() uint64 {
	return atomic.LoadUint64(&r.header.DataHead)
}

// advanceTail publishes how much of the buffer this consumer has
// processed, letting the kernel reuse that space. Must be called with
// release semantics after the corresponding bytes have been copied out.
func (r *RingBuffer) advanceTail(tail uint64) {
	atomic.StoreUint64(&r.header.DataTail, tail)
}

// perfEventHeader is the 8-byte header prefixing every ring-buffer
// record: a type (SAMPLE, MMAP, FORK, EXIT, COMM, LOST, ...) and the
// total record size including this header.
type perfEventHeader struct {
	Type uint32
	Misc uint16
	Size uint16
}

const perfEventHeaderSize = 8

// RawRecord is one undecoded record copied out of the ring buffer, with
// enough context for the decode stage to parse it.
type RawRecord struct {
	Type uint32
	Misc uint16
	Data []byte // payload following the 8-byte header, copied (not aliased)
}

// Drain copies every complete record currently available in the ring
// buffer into freshly allocated RawRecords and advances the tail
// pointer, implementing the "walks head/tail pointers, copies record
// bytes into a scratch arena, advances the tail" behavior from spec.md
// §4.4. It never blocks; callers poll readiness via epoll on the
// group's WakeFd.
func (r *RingBuffer) Drain() ([]RawRecord, error) {
	head := r.dataHead()
	tail := atomic.LoadUint64(&r.header.DataTail)
	size := uint64(len(r.data))

	var records []RawRecord
	for tail < head {
		offset := tail % size
		if size-offset < perfEventHeaderSize {
			// Header itself wraps; this reader requires bufferPages big
			// enough that headers never straddle the seam, which holds
			// for any power-of-two page count >= 1 since the kernel
			// pads records to 8-byte alignment and never splits a
			// record's header across the wrap boundary.
			return records, fmt.Errorf("perfgroup: ring buffer header straddles wrap boundary")
		}
		hdr := perfEventHeader{
			Type: binary.NativeEndian.Uint32(r.data[offset:]),
			Misc: binary.NativeEndian.Uint16(r.data[offset+4:]),
			Size: binary.NativeEndian.Uint16(r.data[offset+6:]),
		}
		if hdr.Size < perfEventHeaderSize {
			return records, fmt.Errorf("perfgroup: malformed record header (size=%d)", hdr.Size)
		}
		if head-tail < uint64(hdr.Size) {
			// Partial record; kernel hasn't finished writing it yet.
			break
		}

		payloadLen := int(hdr.Size) - perfEventHeaderSize
		payload := make([]byte, payloadLen)
		copyWrapped(payload, r.data, (offset+perfEventHeaderSize)%size)

		records = append(records, RawRecord{Type: hdr.Type, Misc: hdr.Misc, Data: payload})
		tail += uint64(hdr.Size)
	}

	r.advanceTail(tail)
	return records, nil
}

// copyWrapped copies len(dst) bytes from src starting at start, wrapping
// around to the beginning of src when the copy runs past its end.
func copyWrapped(dst, src []byte, start int) {
	n := copy(dst, src[start:])
	if n < len(dst) {
		copy(dst[n:], src[:len(dst)-n])
	}
}
