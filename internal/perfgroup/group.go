//go:build linux

package perfgroup

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nanoprof/miniperf/internal/events"
	"github.com/nanoprof/miniperf/internal/merr"
	"github.com/nanoprof/miniperf/internal/wire"
)

// Descriptor is one counter to open within a Group, carrying the
// resolved (type, code) from the registry plus the scheduling and
// sampling attributes spec.md §3 assigns to a "Counter descriptor".
type Descriptor struct {
	events.Descriptor

	// Sampling requests this descriptor be opened in sampling mode
	// (arms a ring buffer) rather than pure counting mode. Only the
	// group leader may sample; spec.md §4.8 scenarios open exactly one
	// sampling descriptor per group.
	Sampling bool

	// SamplePeriod is the number of raw events between samples, used
	// only when Sampling is true.
	SamplePeriod uint64
}

// Group is one set of kernel counters scheduled together, with the
// first descriptor as group leader.
type Group struct {
	target      Target
	descriptors []Descriptor
	files       []*os.File
	nEvents     int
	readBuf     []byte

	ring *RingBuffer // non-nil only if descriptors[0].Sampling
	enabled bool
}

// Open opens one kernel counter per descriptor against target, with
// descriptors[0] as the group leader; the rest inherit its fd so the
// kernel schedules them together (spec.md §4.2). The group starts
// disabled; call Enable to arm it.
//
// Failure semantics (spec.md §4.2): an unsupported raw code yields
// merr.UnsupportedCounter; EACCES yields merr.PermissionDenied; a
// leader failure fails the whole group. This function does not retry
// with a smaller set — callers that want that behavior should drop the
// offending descriptor (e.g. via events.ResolveAll) and call Open again.
func Open(target Target, descriptors []Descriptor, bufferPages int) (*Group, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("perfgroup: Open requires at least one descriptor")
	}

	g := &Group{target: target, descriptors: descriptors, nEvents: len(descriptors)}

	leaderAttr, err := buildAttr(descriptors[0], true, bufferPages > 0)
	if err != nil {
		return nil, err
	}

	leaderFd, err := unix.PerfEventOpen(leaderAttr, target.PID, target.CPU, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, classifyOpenError(err)
	}
	g.files = append(g.files, os.NewFile(uintptr(leaderFd), "<perf-event-leader>"))

	success := false
	defer func() {
		if !success {
			g.Close()
		}
	}()

	opened := []Descriptor{descriptors[0]}
	for _, d := range descriptors[1:] {
		attr, err := buildAttr(d, false, false)
		if err != nil {
			return nil, err
		}
		fd, err := unix.PerfEventOpen(attr, target.PID, target.CPU, leaderFd, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			// A non-leader failure does not abort the group: the
			// descriptor is left out of it, ReadScaled has no entry for
			// it, and no error is returned for it.
			continue
		}
		g.files = append(g.files, os.NewFile(uintptr(fd), "<perf-event>"))
		opened = append(opened, d)
	}
	// descriptors and nEvents must reflect the siblings that actually
	// opened, since the PERF_FORMAT_GROUP read buffer layout depends on it.
	g.descriptors = opened
	g.nEvents = len(g.files)
	g.readBuf = make([]byte, 3*8+g.nEvents*8)

	if bufferPages > 0 {
		ring, err := mmapRing(leaderFd, bufferPages)
		if err != nil {
			return nil, fmt.Errorf("perfgroup: mmap sampling ring buffer: %w", err)
		}
		g.ring = ring
	}

	success = true
	return g, nil
}

func classifyOpenError(err error) error {
	if errors.Is(err, unix.ENOENT) {
		return merr.Wrap(merr.UnsupportedCounter, err)
	}
	if errors.Is(err, unix.EACCES) {
		const path = "/proc/sys/kernel/perf_event_paranoid"
		hint := err
		if data, rerr := os.ReadFile(path); rerr == nil {
			data = bytes.TrimSpace(data)
			if val, perr := strconv.Atoi(string(data)); perr == nil && val > 0 {
				hint = fmt.Errorf("%w (perf_event_paranoid=%d, consider: echo 0 | sudo tee %s)", err, val, path)
			}
		}
		return merr.Wrap(merr.PermissionDenied, hint)
	}
	return err
}

func buildAttr(d Descriptor, isLeader, sampling bool) (*unix.PerfEventAttr, error) {
	var attr unix.PerfEventAttr
	attr.Size = uint32(unsafe.Sizeof(attr))
	attr.Type = d.Type
	attr.Config = d.Config
	attr.Bits = unix.PerfBitDisabled

	if isLeader {
		attr.Read_format = unix.PERF_FORMAT_TOTAL_TIME_ENABLED |
			unix.PERF_FORMAT_TOTAL_TIME_RUNNING |
			unix.PERF_FORMAT_GROUP
	}

	if sampling && d.Sampling {
		if d.SamplePeriod == 0 {
			return nil, fmt.Errorf("perfgroup: sampling descriptor %s requires SamplePeriod > 0", d.Canonical)
		}
		attr.Sample_type = unix.PERF_SAMPLE_IP | unix.PERF_SAMPLE_TID |
			unix.PERF_SAMPLE_TIME | unix.PERF_SAMPLE_CALLCHAIN | unix.PERF_SAMPLE_CPU
		attr.Sample = d.SamplePeriod
		attr.Bits |= unix.PerfBitMmap | unix.PerfBitComm | unix.PerfBitTask | unix.PerfBitSampleIdAll
	}

	return &attr, nil
}

// Enable arms the whole group atomically (PERF_EVENT_IOC_ENABLE on the
// leader fd with PERF_IOC_FLAG_GROUP schedules every sibling with it).
func (g *Group) Enable() error {
	if g.enabled || len(g.files) == 0 {
		return nil
	}
	if err := unix.IoctlSetInt(int(g.files[0].Fd()), unix.PERF_EVENT_IOC_ENABLE, 1 /* PERF_IOC_FLAG_GROUP */); err != nil {
		return fmt.Errorf("perfgroup: enable: %w", err)
	}
	g.enabled = true
	return nil
}

// Disable disarms the whole group atomically.
func (g *Group) Disable() error {
	if !g.enabled || len(g.files) == 0 {
		return nil
	}
	if err := unix.IoctlSetInt(int(g.files[0].Fd()), unix.PERF_EVENT_IOC_DISABLE, 1 /* PERF_IOC_FLAG_GROUP */); err != nil {
		return fmt.Errorf("perfgroup: disable: %w", err)
	}
	g.enabled = false
	return nil
}

// Close releases every counter fd and, if mapped, the sampling ring
// buffer. Safe to call more than once.
func (g *Group) Close() error {
	if g.ring != nil {
		g.ring.Close()
		g.ring = nil
	}
	for _, f := range g.files {
		f.Close()
	}
	g.files = nil
	return nil
}

// Scaled is one counter's value from read_scaled(): the raw reading
// already corrected per spec.md §3's scaling rule, alongside the raw
// time_enabled/time_running pair a caller may need for its own
// diagnostics.
type Scaled struct {
	Descriptor  Descriptor
	Value       uint64
	TimeEnabled uint64
	TimeRunning uint64
	Dropped     bool // true when TimeRunning == 0: Value is not meaningful
}

// ReadScaled reads every counter in the group and applies the
// time-enabled/time-running scaling rule (spec.md §3, §4.2).
func (g *Group) ReadScaled() ([]Scaled, error) {
	if len(g.files) == 0 {
		return nil, fmt.Errorf("perfgroup: group is closed")
	}

	buf := g.readBuf
	if _, err := g.files[0].Read(buf); err != nil {
		return nil, fmt.Errorf("perfgroup: read: %w", err)
	}

	nr := binary.NativeEndian.Uint64(buf[0:])
	if int(nr) != g.nEvents {
		return nil, fmt.Errorf("perfgroup: read returned %d events, expected %d", nr, g.nEvents)
	}
	timeEnabled := binary.NativeEndian.Uint64(buf[8:])
	timeRunning := binary.NativeEndian.Uint64(buf[16:])

	out := make([]Scaled, g.nEvents)
	for i := 0; i < g.nEvents; i++ {
		raw := binary.NativeEndian.Uint64(buf[24+i*8:])
		value, ok := wire.ScaleCounter(raw, timeEnabled, timeRunning)
		out[i] = Scaled{
			Descriptor:  g.descriptors[i],
			Value:       value,
			TimeEnabled: timeEnabled,
			TimeRunning: timeRunning,
			Dropped:     !ok,
		}
	}
	return out, nil
}

// MmapSampling returns the ring-buffer handle for the group's leader,
// or nil if the group was not opened with bufferPages > 0.
func (g *Group) MmapSampling() *RingBuffer {
	return g.ring
}

// WakeFd returns the file descriptor the sampling pipeline's drain task
// should register with epoll to learn when new records are available.
func (g *Group) WakeFd() int {
	return int(g.files[0].Fd())
}
