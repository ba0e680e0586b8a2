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

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Word is a 256-bit stack value together with its provenance. The
// interpreter itself only ever produces Concrete words; the analysis layer
// swaps in tagged variants between steps, and every stack and trace
// operation carries them through untouched.
type Word interface {
	// Bytes returns the 32-byte big-endian rendering of the word.
	Bytes() []byte
}

// Concrete is a word with no provenance.
type Concrete []byte

func (c Concrete) Bytes() []byte { return c }

// NewConcrete left-pads bs to a 32-byte concrete word.
func NewConcrete(bs []byte) Concrete {
	return Concrete(common.LeftPadBytes(bs, 32))
}

// concreteFromUint renders n mod 2**256 as a concrete word.
func concreteFromUint(n *big.Int) Concrete {
	return Concrete(math.PaddedBigBytes(math.U256(new(big.Int).Set(n)), 32))
}

// wordToUint reads a word as an unsigned big-endian integer.
func wordToUint(w Word) *big.Int {
	return new(big.Int).SetBytes(w.Bytes())
}

// wordToInt reads a word as a signed (two's complement) integer.
func wordToInt(w Word) *big.Int {
	return math.S256(wordToUint(w))
}
