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

// Package usermem provides address arithmetic for the emulated flat
// application address space.
package usermem

// MapAlignment is the granularity of tracked mappings. Every tracked range
// must start at a MapAlignment-aligned address and have a length that is a
// multiple of MapAlignment.
const MapAlignment = 2

// Addr is a byte address in the emulated address space.
type Addr uint64

// RoundDown returns the address rounded down to the nearest MapAlignment
// boundary.
func (v Addr) RoundDown() Addr {
	return v &^ (MapAlignment - 1)
}

// RoundUp returns the address rounded up to the nearest MapAlignment
// boundary. ok is true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = (v + MapAlignment - 1).RoundDown()
	ok = addr >= v
	return
}

// IsAligned returns true if v is MapAlignment-aligned.
func (v Addr) IsAligned() bool {
	return v&(MapAlignment-1) == 0
}

// AddLength returns v + length. ok is true iff the addition did not wrap
// around.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// ToRange returns [v, v+length). ok is true iff the end of the range did not
// wrap around.
func (v Addr) ToRange(length uint64) (AddrRange, bool) {
	end, ok := v.AddLength(length)
	return AddrRange{v, end}, ok
}
