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

package memtrack

import (
	"github.com/sandboxvfs/memtrack/pkg/memmap"
	"github.com/sandboxvfs/memtrack/pkg/usermem"
)

// visitorFunc is applied to each tracked region intersecting a query range,
// in ascending order, with the sub-range actually being visited already
// clipped to the query. Returning false stops the walk.
type visitorFunc func(r *region, clipped usermem.AddrRange) bool

// visitIntersecting runs f over the tracked regions intersecting ar and
// reports whether any region was visited at all.
func (rt *RegionTracker) visitIntersecting(ar usermem.AddrRange, f visitorFunc) bool {
	regions := rt.intersecting(ar)
	for _, r := range regions {
		if !f(r, r.ar.Intersect(ar)) {
			break
		}
	}
	return len(regions) > 0
}

// SetAdvice forwards the madvise-style advice adv to every resource backing
// a tracked region intersecting [addr, addr+length). Zero length succeeds
// trivially, matching madvise(2). It returns ErrNoTrackedRegion if no
// tracked region intersects the range, and otherwise the first failing
// resource's error.
//
// A mid-walk failure does not undo the advice already applied to earlier
// regions; Linux's madvise is equally non-atomic across mappings.
func (rt *RegionTracker) SetAdvice(addr usermem.Addr, length uint64, adv memmap.Advice) error {
	if length == 0 {
		return nil
	}
	ar := checkRange(addr, length)

	var callErr error
	visited := rt.visitIntersecting(ar, func(r *region, clipped usermem.AddrRange) bool {
		if r.val.res == nil {
			// Reserved placeholder; advice has nowhere to go.
			return true
		}
		if err := r.val.res.Advise(clipped, adv); err != nil {
			callErr = err
			return false
		}
		return true
	})
	if !visited {
		return ErrNoTrackedRegion
	}
	return callErr
}

// ChangeProtection applies prot to every resource backing a tracked region
// intersecting [addr, addr+length). Zero length succeeds trivially. It
// returns ErrNoTrackedRegion if no tracked region intersects the range.
//
// Protection changes are assumed infallible for the resources this system
// supports; a resource failure aborts. As with mprotect(2), regions visited
// before a failure keep the new protection.
func (rt *RegionTracker) ChangeProtection(addr usermem.Addr, length uint64, prot usermem.AccessType) error {
	if length == 0 {
		return nil
	}
	ar := checkRange(addr, length)

	visited := rt.visitIntersecting(ar, func(r *region, clipped usermem.AddrRange) bool {
		if r.val.res != nil {
			if err := r.val.res.ChangeProtection(clipped, prot); err != nil {
				abortf("changing protection of %v backed by %s to %v failed: %v", clipped, r.val.res.Kind(), prot, err)
			}
			if prot.Write {
				rt.writeMapped[r.val.res.ID()] = struct{}{}
			}
		}
		r.val.prot = prot
		return true
	})
	if !visited {
		return ErrNoTrackedRegion
	}
	return nil
}
