// Copyright 2020 MPI-SWS and Valentin Wuestholz

// This file is part of Husk.
//
// Husk is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Husk is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Husk.  If not, see <https://www.gnu.org/licenses/>.

package vm

import "fmt"

// Memory is the byte-addressed scratch space used by the prologue.
// It grows in 32-byte chunks and starts zeroed. No tags flow through it.
type Memory struct {
	store []byte
	// marks records offsets that were the start of an earlier write, so
	// loads can report whether they hit a known boundary.
	marks map[uint64]bool
}

func NewMemory() *Memory {
	return &Memory{marks: map[uint64]bool{}}
}

func (m *Memory) Len() int {
	return len(m.store)
}

// resize grows the backing store to cover size bytes, 32-byte aligned.
func (m *Memory) resize(size uint64) {
	if uint64(len(m.store)) < size {
		aligned := (size + 31) / 32 * 32
		m.store = append(m.store, make([]byte, aligned-uint64(len(m.store)))...)
	}
}

// Store writes a 32-byte word at offset.
func (m *Memory) Store(offset uint64, word []byte) {
	m.resize(offset + 32)
	copy(m.store[offset:offset+32], NewConcrete(word))
	m.marks[offset] = true
}

// Set writes an arbitrary-length value at offset (CALLDATACOPY).
func (m *Memory) Set(offset uint64, value []byte) {
	if len(value) == 0 {
		return
	}
	m.resize(offset + uint64(len(value)))
	copy(m.store[offset:], value)
	m.marks[offset] = true
}

// Load reads the 32-byte word at offset, zero-padded past the high-water
// mark. The second result reports whether offset is a boundary an earlier
// write started at; it is surfaced in the trace but has no further effect.
func (m *Memory) Load(offset uint64) (Concrete, bool) {
	word := make([]byte, 32)
	if offset < uint64(len(m.store)) {
		copy(word, m.store[offset:])
	}
	return Concrete(word), m.marks[offset]
}

// Clone does a deep copy of the memory.
func (m *Memory) Clone() *Memory {
	nm := &Memory{
		store: append([]byte(nil), m.store...),
		marks: make(map[uint64]bool, len(m.marks)),
	}
	for off := range m.marks {
		nm.marks[off] = true
	}
	return nm
}

func (m *Memory) String() string {
	return fmt.Sprintf("%d bytes", len(m.store))
}
