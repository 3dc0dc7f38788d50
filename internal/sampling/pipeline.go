//go:build linux

package sampling

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nanoprof/miniperf/internal/logx"
	"github.com/nanoprof/miniperf/internal/perfgroup"
	"github.com/nanoprof/miniperf/internal/wire"
)

// decodeChannelCapacity is sized so a 100ms stall at an expected sample
// rate of a few kHz does not drop samples before the kernel ring buffer
// itself would (spec.md §4.4).
const decodeChannelCapacity = 4096

// ringSource is one ring buffer a drain task polls, tagged with the
// metadata (cpu, group id) the decoder attaches to every record drawn
// from it.
type ringSource struct {
	ring    *perfgroup.RingBuffer
	wakeFd  int
	cpu     int
	groupID int
}

// Pipeline wires together the drain and decode stages described in
// spec.md §4.4; writing the decoded events out is left to whoever reads
// the channel Run returns. One Pipeline serves one recording session.
type Pipeline struct {
	log     *logx.Logger
	alloc   *wire.Allocator
	sources []ringSource
	evType  wire.EventType

	decodeCh chan rawWithMeta
	eventCh  chan wire.Event
}

type rawWithMeta struct {
	raw     perfgroup.RawRecord
	cpu     int
	groupID int
}

// New creates a Pipeline over the given groups, each associated with the
// cpu it was opened against. evType tags every decoded PMU sample with
// the EventType (spec.md §6.1) the sampling leader's canonical counter
// name maps to — the caller resolves this once from the leader it
// opened the group against, since every sample this pipeline decodes
// came from that one leader.
func New(log *logx.Logger, alloc *wire.Allocator, groups []*perfgroup.Group, cpus []int, evType wire.EventType) (*Pipeline, error) {
	if len(groups) != len(cpus) {
		return nil, fmt.Errorf("sampling: len(groups) != len(cpus)")
	}
	p := &Pipeline{
		log:      log,
		alloc:    alloc,
		evType:   evType,
		decodeCh: make(chan rawWithMeta, decodeChannelCapacity),
		eventCh:  make(chan wire.Event, decodeChannelCapacity),
	}
	for i, g := range groups {
		ring := g.MmapSampling()
		if ring == nil {
			continue
		}
		p.sources = append(p.sources, ringSource{ring: ring, wakeFd: g.WakeFd(), cpu: cpus[i], groupID: i})
	}
	return p, nil
}

// Run starts the drain and decode stages and returns at once with the
// channel decoded events arrive on. Once ctx is cancelled the drain
// stage drains every ring buffer one last time and the decode stage
// flushes its reorder buffer, then the returned channel is closed
// (spec.md §4.4 cancellation semantics). The caller is responsible for
// writing and fsyncing whatever it reads from the channel before
// reporting completion.
func (p *Pipeline) Run(ctx context.Context) (<-chan wire.Event, *LostCount, error) {
	lost := &LostCount{}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, nil, fmt.Errorf("sampling: epoll_create1: %w", err)
	}

	for _, src := range p.sources {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(src.wakeFd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, src.wakeFd, &ev); err != nil {
			unix.Close(epfd)
			return nil, nil, fmt.Errorf("sampling: epoll_ctl(%d): %w", src.wakeFd, err)
		}
	}

	go p.drainLoop(ctx, epfd)
	go p.decodeLoop(ctx, lost)

	return p.eventCh, lost, nil
}

// drainLoop is the drain-task stage: it epoll-waits on every ring
// buffer's wake fd and, on readiness, drains that buffer's complete
// records onto the decode channel.
func (p *Pipeline) drainLoop(ctx context.Context, epfd int) {
	defer unix.Close(epfd)
	events := make([]unix.EpollEvent, len(p.sources))
	byFd := make(map[int32]ringSource, len(p.sources))
	for _, s := range p.sources {
		byFd[int32(s.wakeFd)] = s
	}

	for {
		select {
		case <-ctx.Done():
			p.drainAll(byFd)
			close(p.decodeCh)
			return
		default:
		}

		n, err := unix.EpollWait(epfd, events, 100 /* ms */)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			p.log.Error("sampling: epoll_wait failed", "err", err)
			continue
		}
		for i := 0; i < n; i++ {
			src, ok := byFd[events[i].Fd]
			if !ok {
				continue
			}
			p.drainOne(src)
		}
	}
}

func (p *Pipeline) drainAll(byFd map[int32]ringSource) {
	for _, src := range byFd {
		p.drainOne(src)
	}
}

func (p *Pipeline) drainOne(src ringSource) {
	records, err := src.ring.Drain()
	if err != nil {
		p.log.Error("sampling: ring drain failed", "cpu", src.cpu, "group", src.groupID, "err", err)
		return
	}
	for _, r := range records {
		// Backpressure: a full decode channel pauses the drain task,
		// letting the kernel ring buffer absorb the stall (spec.md
		// §4.4). If the kernel buffer itself overflows in the
		// meantime, the kernel's own LOST record propagates through
		// the next successful drain.
		p.decodeCh <- rawWithMeta{raw: r, cpu: src.cpu, groupID: src.groupID}
	}
}

// decodeLoop is the decode-task stage: one per session, turning raw
// records into canonical Events and re-ordering across drain tasks
// within the bounded window.
func (p *Pipeline) decodeLoop(ctx context.Context, lost *LostCount) {
	defer close(p.eventCh)
	var reord Reorderer
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case raw, ok := <-p.decodeCh:
			if !ok {
				for _, rec := range reord.Flush() {
					p.eventCh <- rec.Event
				}
				return
			}
			dec, has, err := Decode(raw.raw, raw.cpu, raw.groupID, p.alloc, lost, p.evType)
			if err != nil {
				p.log.Warn("sampling: decode error, skipping record", "err", err)
				continue
			}
			if has {
				reord.Push(dec)
			}
			for _, rec := range reord.Drain() {
				p.eventCh <- rec.Event
			}
		case <-ticker.C:
			for _, rec := range reord.Drain() {
				p.eventCh <- rec.Event
			}
		}
	}
}
