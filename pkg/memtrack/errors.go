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

import "golang.org/x/sys/unix"

// Error is a recoverable tracker failure with an associated errno. Callers
// typically translate the errno directly into the emulated syscall's return
// value.
type Error struct {
	errno   unix.Errno
	message string
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno returns the errno associated with this error.
func (e *Error) Errno() unix.Errno { return e.errno }

var (
	// ErrNoTrackedRegion indicates that no tracked region intersects the
	// queried range. This is expected for ranges the tracker never owned,
	// such as the program's static text and data segments; callers usually
	// let the lower-level syscall emulation decide instead of surfacing it.
	ErrNoTrackedRegion = &Error{unix.ENOMEM, "no tracked region in range"}

	// ErrPartialUnmapOfSharedRegion indicates an attempt to unmap less
	// than the whole of a ref-counted stable-address region.
	ErrPartialUnmapOfSharedRegion = &Error{unix.ENOTSUP, "partial unmap of a ref-counted region"}

	// ErrZeroLength indicates a zero-length removal range.
	ErrZeroLength = &Error{unix.EINVAL, "zero-length range"}
)
