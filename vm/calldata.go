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

import "github.com/ethereum/go-ethereum/common"

// CallData is the immutable input byte array of a call. During inference
// it holds only the 4 selector bytes; reads past the end return zeros.
type CallData []byte

// Load returns size bytes starting at offset, right-padded with zeros.
func (c CallData) Load(offset, size uint64) []byte {
	var val []byte
	if offset < uint64(len(c)) {
		end := offset + size
		if uint64(len(c)) < end {
			end = uint64(len(c))
		}
		val = c[offset:end]
	}
	return common.RightPadBytes(val, int(size))
}

// LoadWord returns the 32-byte word at offset.
func (c CallData) LoadWord(offset uint64) Concrete {
	return Concrete(c.Load(offset, 32))
}

func (c CallData) Len() int {
	return len(c)
}
