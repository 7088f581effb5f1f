// Copyright 2024 The Memtrack Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memtrack maintains the single source of truth for which backing
// resource is authoritative for each mapped range of the emulated address
// space. It enforces the overlap, split and partial-unmap rules of Linux's
// mmap/munmap/mprotect/madvise and dispatches side-effecting calls to the
// affected memmap.BackingResources exactly once per logical change. It
// performs no I/O itself.
//
// The tracker contains no locking. Every method requires that the caller
// already holds the surrounding VFS layer's exclusive lock; no method
// suspends, blocks or yields, and calls into BackingResources happen
// synchronously while that lock is held.
package memtrack

import (
	"fmt"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/sandboxvfs/memtrack/pkg/memmap"
	"github.com/sandboxvfs/memtrack/pkg/usermem"
)

// checkInvariants enables a structural self-check of the region map after
// every mutation. The check walks the whole map, so it is cheap only while
// region counts stay small; flip to false if that ever stops being true.
const checkInvariants = true

var log = logrus.WithField("component", "memtrack")

// abortf reports an unrecoverable tracker failure: a caller contract
// violation, a corrupted region map, or a backing resource that failed to
// release memory after the tracker's own bookkeeping was already updated.
// There is no safe continuation from any of these, so abortf is the single
// point at which the tracker gives up.
func abortf(format string, args ...any) {
	log.Errorf(format, args...)
	panic(fmt.Sprintf("memtrack: "+format, args...))
}

// region is one tracked address range. Regions in a tracker never overlap;
// a split leaves two regions sharing the same *regionValue.
type region struct {
	ar  usermem.AddrRange
	val *regionValue
}

// regionValue is the bookkeeping shared by all regions produced by splitting
// one original mapping.
type regionValue struct {
	// refs is the number of outstanding mappings of this value's range.
	// It exceeds 1 only for stable-address resources, which hand back the
	// same address for repeated maps of the same range; each such map is a
	// reference, not an overlap. refs is mutated only by AddRegion and
	// RemoveRegion.
	refs uint64

	// off is the byte offset of the original mapping's start into res.
	// It is not adjusted when the region is split; diagnostics only.
	off int64

	// prot is the protection most recently applied to the mapping.
	// Diagnostics only.
	prot usermem.AccessType

	// res backs the mapped bytes. nil means the region is a reserved
	// placeholder with no tracked resource.
	res memmap.BackingResource
}

// Options configures a RegionTracker.
type Options struct {
	// LeakUnmapFailuresBelow, if non-zero, tolerates BackingResource.Unmap
	// failures for removed ranges lying entirely below this address: the
	// failure is logged and counted as an intentional leak instead of
	// aborting. Some sandboxed targets refuse to unmap low-address text
	// ranges; everything else treats unmap failure as fatal.
	LeakUnmapFailuresBelow usermem.Addr
}

// RegionTracker tracks which BackingResource backs each mapped range of the
// address space.
//
// Lock order: all methods require the caller's exclusive lock (see the
// package comment).
type RegionTracker struct {
	opts Options

	// regions is ordered by range start. Ranges never overlap.
	regions *btree.BTreeG[*region]

	// writeMapped records every resource identity ever mapped or
	// re-protected with write access. Append-only; it outlives the
	// regions it was derived from so callers can detect unsafe mixes of
	// read/mmap/write against a stale mapping.
	writeMapped map[memmap.ResourceID]struct{}

	// leakedBytes counts bytes intentionally leaked under
	// Options.LeakUnmapFailuresBelow.
	leakedBytes uint64
}

// New returns an empty RegionTracker.
func New(opts Options) *RegionTracker {
	return &RegionTracker{
		opts: opts,
		regions: btree.NewG(16, func(a, b *region) bool {
			return a.ar.Start < b.ar.Start
		}),
		writeMapped: make(map[memmap.ResourceID]struct{}),
	}
}

// checkRange validates the caller's alignment contract for [addr,
// addr+length) and returns the range. Violations are programming errors in
// the caller, not recoverable conditions.
func checkRange(addr usermem.Addr, length uint64) usermem.AddrRange {
	if !addr.IsAligned() || length%usermem.MapAlignment != 0 {
		abortf("misaligned region %#x+%#x", addr, length)
	}
	ar, ok := addr.ToRange(length)
	if !ok {
		abortf("region %#x+%#x wraps the address space", addr, length)
	}
	return ar
}

func startPivot(addr usermem.Addr) *region {
	return &region{ar: usermem.AddrRange{Start: addr}}
}

// lastOverlapping returns the tracked region with the greatest start that
// overlaps ar, or nil. Since tracked regions are disjoint, ar overlaps some
// tracked region iff lastOverlapping(ar) != nil.
func (rt *RegionTracker) lastOverlapping(ar usermem.AddrRange) *region {
	var found *region
	rt.regions.DescendLessOrEqual(startPivot(ar.End), func(r *region) bool {
		if r.ar.Start >= ar.End {
			// The pivot itself; keep descending.
			return true
		}
		if r.ar.End > ar.Start {
			found = r
		}
		return false
	})
	return found
}

// intersecting returns the tracked regions overlapping ar in ascending
// order.
func (rt *RegionTracker) intersecting(ar usermem.AddrRange) []*region {
	var rs []*region
	rt.regions.DescendLessOrEqual(startPivot(ar.Start), func(r *region) bool {
		if r.ar.End > ar.Start {
			rs = append(rs, r)
		}
		return false
	})
	rt.regions.AscendGreaterOrEqual(startPivot(ar.Start + 1), func(r *region) bool {
		if r.ar.Start >= ar.End {
			return false
		}
		rs = append(rs, r)
		return true
	})
	return rs
}

// AddRegion registers [addr, addr+length) as backed by res at byte offset
// off. A nil res registers a reserved placeholder range with no tracked
// resource. It returns false, leaving the tracker unchanged, if length is
// zero or the range overlaps a tracked region; the one exception is a
// repeated map of an identical range against the same stable-address
// resource, which increments the existing region's reference count instead.
//
// off is diagnostic only. flags is interpreted only for memmap.MapFixed,
// which disqualifies the stable-address reference path.
func (rt *RegionTracker) AddRegion(addr usermem.Addr, length uint64, off int64, prot usermem.AccessType, flags memmap.MapFlags, res memmap.BackingResource) bool {
	if length == 0 {
		return false
	}
	ar := checkRange(addr, length)

	if res != nil {
		if existing, ok := rt.regions.Get(startPivot(ar.Start)); ok && existing.ar == ar {
			return rt.addStableRef(existing, prot, flags, res)
		}
	}

	if rt.lastOverlapping(ar) != nil {
		return false
	}
	rt.regions.ReplaceOrInsert(&region{
		ar:  ar,
		val: &regionValue{refs: 1, off: off, prot: prot, res: res},
	})
	if checkInvariants {
		rt.checkStructure()
	}
	if prot.Write && res != nil {
		rt.writeMapped[res.ID()] = struct{}{}
	}
	return true
}

// addStableRef handles a repeated map of exactly existing.ar. It succeeds
// only for the degenerate stable-address case, where the second map aliases
// the first and must be balanced by a second unmap.
func (rt *RegionTracker) addStableRef(existing *region, prot usermem.AccessType, flags memmap.MapFlags, res memmap.BackingResource) bool {
	old := existing.val.res
	switch {
	case flags&memmap.MapFixed != 0:
		return false
	case old == nil:
		return false
	case old.ID() != res.ID():
		return false
	case old.Kind() != res.Kind():
		return false
	case old.Pathname() != res.Pathname():
		return false
	case !old.StableAddress() || !res.StableAddress():
		return false
	}
	existing.val.refs++
	if prot.Write {
		rt.writeMapped[res.ID()] = struct{}{}
	}
	return true
}

// RemoveRegion removes [addr, addr+length) from the tracker. Tracked regions
// partially covered by the range are split, with the surviving remainders
// keeping their original bookkeeping. For each removed sub-range backed by a
// resource, the resource's Unmap is called if invokeUnmap is true; otherwise
// the resource is notified via ImplicitlySuperseded, for use when a fixed
// mapping silently replaces the range in place.
//
// It returns ErrNoTrackedRegion if no tracked region intersects the range,
// and ErrPartialUnmapOfSharedRegion if the range covers part, but not all,
// of a region whose reference count exceeds 1. A removal exactly covering
// such a region decrements the count; the resource's Unmap runs only when
// the last reference goes away. As with Linux's munmap, regions already
// processed before a mid-walk failure stay removed.
func (rt *RegionTracker) RemoveRegion(addr usermem.Addr, length uint64, invokeUnmap bool) error {
	if length == 0 {
		return ErrZeroLength
	}
	ar := checkRange(addr, length)

	regions := rt.intersecting(ar)
	if len(regions) == 0 {
		return ErrNoTrackedRegion
	}
	for _, r := range regions {
		removed := r.ar.Intersect(ar)
		if r.val.refs > 1 {
			if removed != r.ar {
				return ErrPartialUnmapOfSharedRegion
			}
			r.val.refs--
			continue
		}

		rt.regions.Delete(r)
		if left := (usermem.AddrRange{Start: r.ar.Start, End: removed.Start}); left.Length() != 0 {
			rt.regions.ReplaceOrInsert(&region{ar: left, val: r.val})
		}
		if right := (usermem.AddrRange{Start: removed.End, End: r.ar.End}); right.Length() != 0 {
			rt.regions.ReplaceOrInsert(&region{ar: right, val: r.val})
		}

		if r.val.res == nil {
			continue
		}
		if invokeUnmap {
			rt.unmapOrLeak(r.val.res, removed)
		} else {
			r.val.res.ImplicitlySuperseded(removed)
		}
	}
	if checkInvariants {
		rt.checkStructure()
	}
	return nil
}

// unmapOrLeak releases removed from res. By the time it runs the tracker's
// bookkeeping no longer knows the range, so a failure has no rollback path:
// either the configured low-address carve-out applies and the range is
// leaked on purpose, or the process aborts.
func (rt *RegionTracker) unmapOrLeak(res memmap.BackingResource, removed usermem.AddrRange) {
	err := res.Unmap(removed)
	if err == nil {
		return
	}
	if limit := rt.opts.LeakUnmapFailuresBelow; limit != 0 && removed.End <= limit {
		rt.leakedBytes += removed.Length()
		log.WithError(err).Warnf("leaking unmappable region %v backed by %s %q", removed, res.Kind(), res.Pathname())
		return
	}
	abortf("unmap of %v backed by %s failed with no recovery path: %v", removed, res.Kind(), err)
}

// EverWriteMapped returns true if a resource with the given identity was
// ever mapped or re-protected with write access, even if it is no longer
// mapped.
func (rt *RegionTracker) EverWriteMapped(id memmap.ResourceID) bool {
	_, ok := rt.writeMapped[id]
	return ok
}

// CurrentlyMapped returns true if any tracked region is backed by a resource
// with the given identity.
func (rt *RegionTracker) CurrentlyMapped(id memmap.ResourceID) bool {
	mapped := false
	rt.regions.Ascend(func(r *region) bool {
		if r.val.res != nil && r.val.res.ID() == id {
			mapped = true
			return false
		}
		return true
	})
	return mapped
}

// checkStructure validates that the region map is well-formed: ranges
// aligned, non-empty, strictly ascending and disjoint, reference counts
// positive. A failure means the tracker's own bookkeeping is corrupt.
func (rt *RegionTracker) checkStructure() {
	var prev *region
	rt.regions.Ascend(func(r *region) bool {
		switch {
		case !r.ar.WellFormed() || r.ar.Length() == 0:
			abortf("tracked region %v is malformed", r.ar)
		case !r.ar.IsAligned():
			abortf("tracked region %v is misaligned", r.ar)
		case r.val == nil || r.val.refs == 0:
			abortf("tracked region %v has no live value", r.ar)
		case prev != nil && prev.ar.End > r.ar.Start:
			abortf("tracked regions %v and %v overlap", prev.ar, r.ar)
		}
		prev = r
		return true
	})
}
