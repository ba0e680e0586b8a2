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

package analysis

import (
	"fmt"
	"math/big"
)

// maskType recovers an ABI type from the concrete mask word of an AND over
// an argument. A low-bits mask 0…01…1 means the argument is left-padded:
// address for 160 bits, uintN otherwise. A mask whose byte-reversal is a
// low-bits mask means right-padded: bytesK. Widths that are not whole
// bytes, and masks that are not contiguous from either end, yield nothing.
func maskType(mask []byte) string {
	v := new(big.Int).SetBytes(mask)
	if v.Sign() == 0 {
		return ""
	}
	if isLowMask(v) {
		bl := v.BitLen()
		if bl%8 != 0 {
			return ""
		}
		if bl == 160 {
			return "address"
		}
		return fmt.Sprintf("uint%d", bl)
	}
	v = new(big.Int).SetBytes(reverseBytes(mask))
	if isLowMask(v) {
		bl := v.BitLen()
		if bl%8 != 0 {
			return ""
		}
		return fmt.Sprintf("bytes%d", bl/8)
	}
	return ""
}

// isLowMask reports whether v is of the form 2**k - 1 (all set bits
// contiguous from bit 0).
func isLowMask(v *big.Int) bool {
	next := new(big.Int).Add(v, bigOne)
	return new(big.Int).And(v, next).Sign() == 0
}

// reverseBytes reinterprets a big-endian mask as little-endian.
func reverseBytes(bs []byte) []byte {
	rev := make([]byte, len(bs))
	for i, b := range bs {
		rev[len(bs)-1-i] = b
	}
	return rev
}

var bigOne = big.NewInt(1)
