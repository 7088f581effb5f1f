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

// Package memmap defines the contract between the region tracker and the
// file-like streams that back emulated memory mappings.
package memmap

import (
	"github.com/sandboxvfs/memtrack/pkg/usermem"
)

// ResourceID identifies a BackingResource. It is stable for the resource's
// lifetime and is never reused while any bookkeeping derived from the
// resource (such as the tracker's write-mapped set) is still live.
type ResourceID uint64

// BackingResource represents a mappable file-like stream. The stream owns
// the real mapped bytes; the region tracker only decides which resource is
// authoritative for an address range and forwards side-effecting calls to
// it.
//
// All methods taking a usermem.AddrRange have the following preconditions:
// * ar.Length() != 0.
// * ar must be usermem.MapAlignment-aligned.
//
// Implementations must not block on the tracker's external lock; they are
// called synchronously while it is held.
type BackingResource interface {
	// Unmap releases the resource's backing for ar. The tracker calls this
	// exactly once per logical removal of ar, after its own bookkeeping has
	// already been updated; a failure is therefore unrecoverable (see
	// memtrack.Options for the one policy exception).
	Unmap(ar usermem.AddrRange) error

	// ChangeProtection applies at to the resource's backing for ar.
	ChangeProtection(ar usermem.AddrRange, at usermem.AccessType) error

	// Advise applies the given usage advice to the resource's backing for
	// ar.
	Advise(ar usermem.AddrRange, adv Advice) error

	// ImplicitlySuperseded notifies the resource that ar is being silently
	// replaced in place by a fixed mapping rather than explicitly unmapped.
	// Fire-and-forget; the resource must not release the range's address
	// space.
	ImplicitlySuperseded(ar usermem.AddrRange)

	// ID returns the resource's identity.
	ID() ResourceID

	// Kind returns a short tag naming the resource's backend ("file",
	// "shm", "dev", ...), used to group diagnostics.
	Kind() string

	// Pathname returns the path the resource was opened from, or "" if it
	// has none. Diagnostics only.
	Pathname() string

	// AuxInfo returns free-form auxiliary information about the resource.
	// Diagnostics only.
	AuxInfo() string

	// ReportedSize returns the resource's size in bytes. Diagnostics only.
	ReportedSize() uint64

	// StableAddress returns true iff repeated mmap calls against this
	// resource return the same address, so that a second map of an
	// identical range is a second reference rather than an overlap. Must
	// be false for ordinary POSIX-compliant streams.
	StableAddress() bool
}
