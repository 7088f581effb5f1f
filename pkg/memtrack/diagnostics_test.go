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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sandboxvfs/memtrack/pkg/usermem"
)

func TestDiagnosticDump(t *testing.T) {
	rt := New(Options{})
	file := newFileResource(1, "/tmp/x")
	shm := newShmResource(2)
	rt.AddRegion(0x1000, 0x1000, 0, usermem.Read, 0, file)
	rt.AddRegion(0x3000, 0x1000, 0x2000, usermem.ReadWrite, 0, file)
	rt.AddRegion(0x5000, 8, 0, usermem.Read, 0, shm)
	rt.AddRegion(0x5000, 8, 0, usermem.Read, 0, shm)
	rt.AddRegion(0x6000, 0x1000, 0, usermem.NoAccess, 0, nil)

	want := "00001000-00002000 len=4096       off=0          file       size=65536      refs=1  /tmp/x\n" +
		"00003000-00004000 len=4096       off=8192       file       size=65536      refs=1  /tmp/x\n" +
		"00005000-00005008 len=8          off=0          shm        size=65536      refs=2  test resource\n" +
		"00006000-00007000 len=4096       off=0          reserved   size=0          refs=1  \n" +
		"virtual memory usage by backend:\n" +
		"  file: 8192 bytes\n" +
		"  reserved: 4096 bytes\n" +
		"  shm: 8 bytes\n"
	if diff := cmp.Diff(want, rt.DiagnosticDump()); diff != "" {
		t.Errorf("DiagnosticDump mismatch (-want +got):\n%s", diff)
	}
}

func TestMapsEntries(t *testing.T) {
	rt := New(Options{})
	file := newFileResource(7, "/tmp/x")
	rt.AddRegion(0x1000, 0x1000, 0, usermem.ReadExecute, 0, file)
	rt.AddRegion(0x3000, 0x1000, 0, usermem.NoAccess, 0, nil)

	lines := strings.Split(strings.TrimSuffix(rt.MapsEntries(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("MapsEntries got %d lines want 2:\n%s", len(lines), rt.MapsEntries())
	}
	if !strings.HasPrefix(lines[0], "00001000-00002000 r-xs 00000000 00:00 7 ") {
		t.Errorf("first entry got %q want prefix %q", lines[0], "00001000-00002000 r-xs 00000000 00:00 7 ")
	}
	if !strings.HasSuffix(lines[0], " /tmp/x") {
		t.Errorf("first entry got %q want suffix %q", lines[0], " /tmp/x")
	}
	if !strings.HasSuffix(lines[1], " [reserved]") {
		t.Errorf("second entry got %q want suffix %q", lines[1], " [reserved]")
	}
}

func TestMapsEntriesReflectProtectionChanges(t *testing.T) {
	rt := New(Options{})
	file := newFileResource(1, "/tmp/x")
	rt.AddRegion(0x1000, 0x1000, 0, usermem.ReadWrite, 0, file)
	if err := rt.ChangeProtection(0x1000, 0x1000, usermem.Read); err != nil {
		t.Fatalf("ChangeProtection got err %v want nil", err)
	}
	if got := rt.MapsEntries(); !strings.Contains(got, " r--s ") {
		t.Errorf("MapsEntries got %q want protection r--s", got)
	}
}
