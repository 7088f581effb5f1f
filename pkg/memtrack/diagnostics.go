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
	"fmt"
	"sort"
	"strings"
)

// placeholderKind is the backend tag used for reserved regions with no
// tracked resource.
const placeholderKind = "reserved"

func (r *region) kind() string {
	if r.val.res == nil {
		return placeholderKind
	}
	return r.val.res.Kind()
}

func (r *region) name() string {
	if r.val.res == nil {
		return ""
	}
	if p := r.val.res.Pathname(); p != "" {
		return p
	}
	return r.val.res.AuxInfo()
}

// DiagnosticDump returns a deterministic human-readable dump of the tracked
// regions, one line per region in ascending address order, followed by the
// tracked bytes per backend kind.
func (rt *RegionTracker) DiagnosticDump() string {
	var b strings.Builder
	totals := make(map[string]uint64)
	rt.regions.Ascend(func(r *region) bool {
		var size uint64
		if r.val.res != nil {
			size = r.val.res.ReportedSize()
		}
		fmt.Fprintf(&b, "%08x-%08x len=%-10d off=%-10d %-10s size=%-10d refs=%-2d %s\n",
			uint64(r.ar.Start), uint64(r.ar.End), r.ar.Length(), r.val.off, r.kind(), size, r.val.refs, r.name())
		totals[r.kind()] += r.ar.Length()
		return true
	})

	kinds := make([]string, 0, len(totals))
	for kind := range totals {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	b.WriteString("virtual memory usage by backend:\n")
	for _, kind := range kinds {
		fmt.Fprintf(&b, "  %s: %d bytes\n", kind, totals[kind])
	}
	return b.String()
}

// MapsEntries renders the tracked regions in the shape of /proc/[pid]/maps,
// one line per region. The device column is always 00:00 and the inode
// column carries the backing resource's identity.
func (rt *RegionTracker) MapsEntries() string {
	var b strings.Builder
	rt.regions.Ascend(func(r *region) bool {
		lineStart := b.Len()
		var id uint64
		if r.val.res != nil {
			id = uint64(r.val.res.ID())
		}
		fmt.Fprintf(&b, "%08x-%08x %ss %08x 00:00 %d ",
			uint64(r.ar.Start), uint64(r.ar.End), r.val.prot, uint64(r.val.off), id)

		name := r.name()
		if name == "" {
			name = "[" + placeholderKind + "]"
		}
		// Per Linux, pad until the 74th character.
		if pad := 73 - (b.Len() - lineStart); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(name)
		b.WriteString("\n")
		return true
	})
	return b.String()
}

// Span returns the total number of tracked bytes.
func (rt *RegionTracker) Span() uint64 {
	var span uint64
	rt.regions.Ascend(func(r *region) bool {
		span += r.ar.Length()
		return true
	})
	return span
}

// RegionCount returns the number of tracked regions.
func (rt *RegionTracker) RegionCount() int {
	return rt.regions.Len()
}

// LeakedBytes returns the total bytes intentionally leaked under
// Options.LeakUnmapFailuresBelow.
func (rt *RegionTracker) LeakedBytes() uint64 {
	return rt.leakedBytes
}
