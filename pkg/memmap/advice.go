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

package memmap

import "golang.org/x/sys/unix"

// Advice is a memory usage hint forwarded to a BackingResource, carrying
// Linux madvise(2) numbering.
type Advice int32

// Advice values understood by the emulation.
const (
	AdviseNormal     = Advice(unix.MADV_NORMAL)
	AdviseRandom     = Advice(unix.MADV_RANDOM)
	AdviseSequential = Advice(unix.MADV_SEQUENTIAL)
	AdviseWillNeed   = Advice(unix.MADV_WILLNEED)
	AdviseDontNeed   = Advice(unix.MADV_DONTNEED)
)

// MapFlags are mmap(2)-style mapping flags. The region tracker only
// interprets MapFixed; all other bits are the resource resolution layer's
// concern and pass through untouched.
type MapFlags uint32

// MapFixed indicates that the mapping must be placed at exactly the
// requested address, replacing any existing mapping there.
const MapFixed MapFlags = 1 << 0
