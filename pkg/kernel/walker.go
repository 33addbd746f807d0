package kernel

import (
	"errors"
	"fmt"

	"github.com/kmemtool/kmem/pkg/logflags"
)

// EntryKind tells regions and gaps apart in a walk.
type EntryKind int

const (
	EntryRegion EntryKind = iota
	EntryGap
)

// Entry is one item produced by a walk: either a region or the unmapped
// gap in front of the next region at the same level.
type Entry struct {
	Kind  EntryKind
	Level uint32

	Region Region

	GapAddr uint64
	GapSize uint64
}

// EndReason records why a walk stopped.
type EndReason int

const (
	// EndOfRegions means the region query reported the end of the
	// address space.
	EndOfRegions EndReason = iota
	// QueryFailed means the region query failed without saying why.
	// mach_vm_region_recurse reports the end of the address space
	// this way too, so it is not necessarily an error.
	QueryFailed
	// BoundReached means the next region started at or after the
	// requested maximum address.
	BoundReached
	// Stopped means the callback returned an error.
	Stopped
)

func (r EndReason) String() string {
	switch r {
	case EndOfRegions:
		return "end of regions"
	case QueryFailed:
		return "query failed"
	case BoundReached:
		return "bound reached"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("EndReason(%d)", int(r))
}

// WalkOptions selects the range and output of a walk.
type WalkOptions struct {
	// Depth is the submap level the walk starts at.
	Depth uint32
	// Min and Max bound the walk. A zero Max means the whole 64-bit
	// address space.
	Min, Max uint64
	// Gaps requests gap entries between regions.
	Gaps bool
}

// WalkStats summarizes a finished walk.
type WalkStats struct {
	Regions int
	Gaps    int
	End     EndReason
	// Err is the region query error that ended the outermost level,
	// if any.
	Err error
}

// Walker enumerates the regions of the kernel task, descending into
// submaps. A Walker is reusable; every call to Walk starts over.
type Walker struct {
	tasks *TaskCache
	query RegionQuerier
}

// walkFrame is one level of the submap tree being walked.
type walkFrame struct {
	cursor   uint64
	level    uint32
	max      uint64
	lastAddr uint64
	// clamped is set once a region has been cut at max.
	clamped bool
}

// Walk calls fn for every region in [opts.Min, opts.Max) in pre-order: a
// submap is immediately followed by everything inside it, then by its
// siblings. The walk stops when the region query fails, when a region
// starts at or past the bound of its level, or when fn returns an error,
// which Walk then returns.
func (w *Walker) Walk(opts WalkOptions, fn func(Entry) error) (WalkStats, error) {
	var stats WalkStats
	task, err := w.tasks.Acquire()
	if err != nil {
		return stats, err
	}
	logger := logflags.WalkerLogger()

	max := opts.Max
	if max == 0 {
		max = ^uint64(0)
	}
	stack := []*walkFrame{{cursor: opts.Min, level: opts.Depth, max: max, lastAddr: opts.Min}}

	// pop ends the innermost level; the reason is kept only for the
	// outermost one.
	pop := func(reason EndReason, err error) {
		if len(stack) == 1 {
			stats.End = reason
			stats.Err = err
		}
		stack = stack[:len(stack)-1]
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if f.clamped {
			pop(BoundReached, nil)
			continue
		}

		info, err := w.query.NextRegion(task, f.cursor, f.level)
		if err != nil {
			logger.Debugf("region query at %#016x depth %d: %v", f.cursor, f.level, err)
			if errors.Is(err, ErrNoMoreRegions) {
				pop(EndOfRegions, nil)
			} else {
				pop(QueryFailed, err)
			}
			continue
		}
		if info.Size == 0 || info.Addr+(info.Size-1) < f.cursor {
			pop(QueryFailed, fmt.Errorf("region query at %#x made no progress", f.cursor))
			continue
		}
		logger.Debugf("region %#016x-%#016x depth %d submap %v", info.Addr, info.Addr+info.Size, info.Depth, info.IsSubmap)

		start := info.Addr
		atBound := start >= f.max
		if atBound {
			start = f.max
		}
		size := info.Size
		if end := start + size; !atBound && (end < start || end > f.max) {
			size = f.max - start
			f.clamped = true
		}

		if opts.Gaps {
			if f.lastAddr != 0 && start > f.lastAddr {
				stats.Gaps++
				gap := Entry{Kind: EntryGap, Level: f.level, GapAddr: f.lastAddr, GapSize: start - f.lastAddr}
				if err := fn(gap); err != nil {
					stats.End = Stopped
					return stats, err
				}
			}
			f.lastAddr = start + size
		}

		if atBound {
			pop(BoundReached, nil)
			continue
		}

		r := Region{RegionInfo: info, Level: f.level}
		r.Addr, r.Size = start, size
		stats.Regions++
		if err := fn(Entry{Kind: EntryRegion, Level: f.level, Region: r}); err != nil {
			stats.End = Stopped
			return stats, err
		}

		f.cursor = start + size
		if info.IsSubmap {
			stack = append(stack, &walkFrame{cursor: start, level: f.level + 1, max: start + size, lastAddr: start})
		}
	}
	return stats, nil
}

// Collect walks like Walk and returns every entry.
func (w *Walker) Collect(opts WalkOptions) ([]Entry, WalkStats, error) {
	var entries []Entry
	stats, err := w.Walk(opts, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	return entries, stats, err
}
